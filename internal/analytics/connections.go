package analytics

import (
	"math"
	"sort"
	"strings"

	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

const (
	maxGraphNodes    = 8
	maxGraphEdges    = 10
	maxPairEvidence  = 6
	edgeKeySeparator = "__"
)

// EntryThemeSet returns the de-duplicated themes of one entry: its theme tags
// plus every present evidence label, all mapped through lookup.
func EntryThemeSet(signal model.EntrySignal, lookup *labels.Lookup) []string {
	seen := map[string]bool{}
	var themes []string
	add := func(theme string) {
		if theme == "" || seen[theme] {
			return
		}
		seen[theme] = true
		themes = append(themes, theme)
	}
	for _, tag := range signal.Themes {
		add(lookup.Normalize(tag))
	}
	for _, unit := range signal.EvidenceUnits {
		if unit.Present() && strings.TrimSpace(unit.Label) != "" {
			add(lookup.Theme(unit.Label))
		}
	}
	sort.Strings(themes)
	return themes
}

// PairKey returns the order-independent key of a theme pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + edgeKeySeparator + b
}

type pairStats struct {
	count    int
	evidence []string
}

// BuildConnectionsGraph builds the co-occurrence graph of signals. Nodes are
// the most frequent themes; edges connect node pairs seen together in one
// entry, weighted against the largest pair count in the range.
func BuildConnectionsGraph(signals []model.EntrySignal, lookup *labels.Lookup) ([]model.GraphNode, []model.GraphEdge) {
	themeCounts := map[string]int{}
	pairs := map[string]*pairStats{}

	for _, signal := range signals {
		themes := EntryThemeSet(signal, lookup)
		for _, theme := range themes {
			themeCounts[theme]++
		}
		for i := 0; i < len(themes); i++ {
			for j := i + 1; j < len(themes); j++ {
				key := PairKey(themes[i], themes[j])
				stats := pairs[key]
				if stats == nil {
					stats = &pairStats{}
					pairs[key] = stats
				}
				stats.count++
				if signal.EntryID != "" && len(stats.evidence) < maxPairEvidence && !contains(stats.evidence, signal.EntryID) {
					stats.evidence = append(stats.evidence, signal.EntryID)
				}
			}
		}
	}

	ranked := make([]string, 0, len(themeCounts))
	for theme := range themeCounts {
		ranked = append(ranked, theme)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if themeCounts[ranked[i]] != themeCounts[ranked[j]] {
			return themeCounts[ranked[i]] > themeCounts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > maxGraphNodes {
		ranked = ranked[:maxGraphNodes]
	}

	nodes := make([]model.GraphNode, len(ranked))
	for i, theme := range ranked {
		nodes[i] = model.GraphNode{ID: theme, Label: labels.Title(theme)}
	}

	maxCount := 1
	for _, stats := range pairs {
		if stats.count > maxCount {
			maxCount = stats.count
		}
	}

	edges := []model.GraphEdge{}
	for i, a := range ranked {
		for _, b := range ranked[i+1:] {
			stats := pairs[PairKey(a, b)]
			if stats == nil || stats.count < 1 {
				continue
			}
			evidence := append([]string{}, stats.evidence...)
			edges = append(edges, model.GraphEdge{
				ID:               a + edgeKeySeparator + b,
				From:             a,
				To:               b,
				Weight:           int(math.Round(float64(stats.count) / float64(maxCount) * 100)),
				EvidenceEntryIDs: evidence,
			})
		}
	}
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		return edges[i].ID < edges[j].ID
	})
	if len(edges) > maxGraphEdges {
		edges = edges[:maxGraphEdges]
	}
	return nodes, edges
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
