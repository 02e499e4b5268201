package analytics

import (
	"fmt"
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	"github.com/stretchr/testify/require"
)

func TestBuildConnectionsGraph_SingleThemeHasNoEdges(t *testing.T) {
	signals := []model.EntrySignal{signal("e1", "2026-03-08", present("SYMPTOM_MOOD", model.SeverityModerate))}
	nodes, edges := BuildConnectionsGraph(signals, labels.Default())
	require.Equal(t, []model.GraphNode{{ID: "Low mood", Label: "Low Mood"}}, nodes)
	require.Empty(t, edges)
}

func TestBuildConnectionsGraph_WeightsAndEvidence(t *testing.T) {
	signals := []model.EntrySignal{
		{EntryID: "e1", Themes: []string{"work", "sleep"}},
		{EntryID: "e2", Themes: []string{"Work", "sleep", "family"}},
		{EntryID: "e3", Themes: []string{"work", "family"}},
		{EntryID: "e4", Themes: []string{"sleep"}, EvidenceUnits: []model.EvidenceUnit{present("SYMPTOM_MOOD", "")}},
	}
	nodes, edges := BuildConnectionsGraph(signals, labels.Default())

	require.Len(t, nodes, 4)
	require.Equal(t, "sleep", nodes[0].ID)
	require.Equal(t, "work", nodes[1].ID)

	byID := map[string]model.GraphEdge{}
	for _, e := range edges {
		byID[e.ID] = e
	}
	require.Equal(t, 100, byID["sleep__work"].Weight)
	require.Equal(t, []string{"e1", "e2"}, byID["sleep__work"].EvidenceEntryIDs)
	require.Equal(t, 50, byID["sleep__Low mood"].Weight)
	require.Equal(t, 100, byID["work__family"].Weight)
	require.Equal(t, "sleep__work", edges[0].ID)
	require.Equal(t, "work__family", edges[1].ID)
}

func TestBuildConnectionsGraph_Bounds(t *testing.T) {
	var signals []model.EntrySignal
	for i := 0; i < 30; i++ {
		themes := []string{}
		for j := 0; j <= i%12; j++ {
			themes = append(themes, fmt.Sprintf("theme %d", j))
		}
		signals = append(signals, model.EntrySignal{EntryID: fmt.Sprintf("e%d", i), Themes: themes})
	}
	nodes, edges := BuildConnectionsGraph(signals, labels.Default())
	require.LessOrEqual(t, len(nodes), 8)
	require.LessOrEqual(t, len(edges), 10)

	ids := map[string]bool{}
	for _, n := range nodes {
		ids[n.ID] = true
	}
	for i, e := range edges {
		require.True(t, ids[e.From], e.ID)
		require.True(t, ids[e.To], e.ID)
		require.GreaterOrEqual(t, e.Weight, 0)
		require.LessOrEqual(t, e.Weight, 100)
		require.LessOrEqual(t, len(e.EvidenceEntryIDs), 6)
		if i > 0 {
			require.GreaterOrEqual(t, edges[i-1].Weight, e.Weight)
		}
	}

	again, againEdges := BuildConnectionsGraph(signals, labels.Default())
	require.Equal(t, nodes, again)
	require.Equal(t, edges, againEdges)
}
