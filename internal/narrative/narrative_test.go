package narrative

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeCollaborator struct {
	mu       sync.Mutex
	requests []registrymerge.Request
	failAt   int
	delay    time.Duration
}

func (f *fakeCollaborator) Merge(ctx context.Context, req registrymerge.Request) (*model.Narrative, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAt > 0 && n == f.failAt {
		return nil, errors.New("boom")
	}
	parts := make([]string, len(req.Chunks))
	for i, c := range req.Chunks {
		parts[i] = c.OverTimeSummary
	}
	return &model.Narrative{OverTimeSummary: strings.Join(parts, "+")}, nil
}

func chunk(s string) model.Narrative {
	return model.Narrative{OverTimeSummary: s}
}

func TestCountMergeOps(t *testing.T) {
	cases := map[int]int{0: 0, 1: 0, 2: 1, 3: 3, 4: 3, 5: 6, 8: 7}
	for n, want := range cases {
		assert.Equal(t, want, CountMergeOps(n), "n=%d", n)
	}
}

func TestReduce_NoChunks(t *testing.T) {
	f := &fakeCollaborator{}
	out, calls, err := NewReducer(f, time.Second).Reduce(context.Background(), nil, "Last 30 days", Grounding{})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, calls)
}

func TestReduce_SingleChunkSkipsCollaborator(t *testing.T) {
	f := &fakeCollaborator{}
	out, calls, err := NewReducer(f, time.Second).Reduce(context.Background(), []model.Narrative{chunk("w1")}, "Last 7 days", Grounding{})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "w1", out.OverTimeSummary)
	assert.Equal(t, "Last 7 days", out.TimeRangeLabel)
	assert.Zero(t, calls)
	assert.Empty(t, f.requests)
}

func TestReduce_OrderAndOddLeftover(t *testing.T) {
	f := &fakeCollaborator{}
	g := Grounding{SignalCounts: []LabelCount{{Label: "SYMPTOM_MOOD", Count: 2}}, Highlights: []string{"felt low"}}
	chunks := []model.Narrative{chunk("a"), chunk("b"), chunk("c")}

	out, calls, err := NewReducer(f, time.Second).Reduce(context.Background(), chunks, "Last 30 days", g)
	require.NoError(t, err)
	assert.Equal(t, "a+b+c", out.OverTimeSummary)
	assert.Equal(t, CountMergeOps(3), calls)
	require.Len(t, f.requests, 3)
	assert.Len(t, f.requests[1].Chunks, 1)
	for _, req := range f.requests {
		assert.Equal(t, "SYMPTOM_MOOD: 2", req.SignalContext)
		assert.Equal(t, []string{"felt low"}, req.EvidenceHighlights)
		assert.Equal(t, "Last 30 days", req.TimeRangeLabel)
	}
}

func TestReduce_FailureAborts(t *testing.T) {
	f := &fakeCollaborator{failAt: 2}
	chunks := []model.Narrative{chunk("a"), chunk("b"), chunk("c"), chunk("d")}
	out, calls, err := NewReducer(f, time.Second).Reduce(context.Background(), chunks, "", Grounding{})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 2, calls)
}

func TestReduce_StepTimeout(t *testing.T) {
	f := &fakeCollaborator{delay: time.Second}
	chunks := []model.Narrative{chunk("a"), chunk("b")}
	_, _, err := NewReducer(f, 10*time.Millisecond).Reduce(context.Background(), chunks, "", Grounding{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReduce_CallCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		chunks := make([]model.Narrative, n)
		for i := range chunks {
			chunks[i] = chunk("x")
		}
		f := &fakeCollaborator{}
		_, calls, err := NewReducer(f, time.Second).Reduce(context.Background(), chunks, "", Grounding{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != CountMergeOps(n) {
			t.Fatalf("calls=%d want %d", calls, CountMergeOps(n))
		}
	})
}

func TestBuildGrounding(t *testing.T) {
	unit := func(label, span, severity, polarity string) model.EvidenceUnit {
		return model.EvidenceUnit{Label: label, Span: span, Attributes: model.EvidenceAttributes{Polarity: polarity, Severity: severity}}
	}
	signals := []model.EntrySignal{
		{EntryID: "e1", DateISO: "2026-03-01", EvidenceUnits: []model.EvidenceUnit{
			unit("SYMPTOM_MOOD", "felt flat", model.SeverityMild, model.PolarityPresent),
			unit("SYMPTOM_SLEEP", "up all night", model.SeveritySevere, model.PolarityPresent),
		}},
		{EntryID: "e2", DateISO: "2026-03-02", EvidenceUnits: []model.EvidenceUnit{
			unit("SYMPTOM_MOOD", "Felt flat", model.SeverityMild, model.PolarityPresent),
			unit("SYMPTOM_MOOD", "heavy day", model.SeverityModerate, model.PolarityPresent),
			unit("IMPACT_WORK", "not at work", model.SeverityMild, model.PolarityAbsent),
		}},
	}

	g := BuildGrounding(signals)
	assert.Equal(t, "SYMPTOM_MOOD: 3, SYMPTOM_SLEEP: 1", g.SignalContext())
	assert.Equal(t, []string{"up all night", "heavy day", "Felt flat"}, g.Highlights)
}

func TestWeeksInWindow(t *testing.T) {
	weekly := []model.WeeklyNarrative{
		{WeekStartISO: "2026-03-09", Narrative: chunk("late")},
		{WeekStartISO: "2026-02-02", Narrative: chunk("old")},
		{WeekStartISO: "2026-03-02", Narrative: chunk("mid")},
		{WeekStartISO: "2026-02-23", Narrative: chunk("edge")},
		{WeekStartISO: "2026-02-16", Narrative: model.Narrative{}},
		{WeekStartISO: "2026-03-16", Narrative: chunk("future")},
	}

	// The week of 2026-02-23 ends on 2026-03-01 and still overlaps.
	weeks := WeeksInWindow(weekly, model.DateWindow{Start: "2026-03-01", End: "2026-03-10"})
	starts := make([]string, len(weeks))
	for i, w := range weeks {
		starts[i] = w.WeekStartISO
	}
	assert.Equal(t, []string{"2026-02-23", "2026-03-02", "2026-03-09"}, starts)

	all := WeeksInWindow(weekly, model.DateWindow{End: "2026-03-10"})
	require.Len(t, all, 5)
	chunks := Chunks(all)
	require.Len(t, chunks, 4)
	assert.Equal(t, "old", chunks[0].OverTimeSummary)
	assert.Equal(t, "late", chunks[3].OverTimeSummary)
}
