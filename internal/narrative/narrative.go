// Package narrative reduces weekly narrative chunks into one range narrative
// by repeatedly merging adjacent pairs through a merge collaborator.
package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
)

const (
	maxHighlights      = 8
	maxHighlightLength = 160
)

// LabelCount is the number of present evidence units carrying a label.
type LabelCount struct {
	Label string
	Count int
}

// Grounding is the evidence every merge step is constrained to.
type Grounding struct {
	SignalCounts []LabelCount
	Highlights   []string
}

// SignalContext renders the counts as "LABEL: n" pairs, most frequent first.
func (g Grounding) SignalContext() string {
	parts := make([]string, len(g.SignalCounts))
	for i, c := range g.SignalCounts {
		parts[i] = fmt.Sprintf("%s: %d", c.Label, c.Count)
	}
	return strings.Join(parts, ", ")
}

// BuildGrounding counts present labels and picks the strongest verbatim spans,
// most severe first, then most recent.
func BuildGrounding(signals []model.EntrySignal) Grounding {
	counts := map[string]int{}
	type span struct {
		text   string
		weight float64
		date   string
	}
	var spans []span
	for _, s := range signals {
		for _, u := range s.EvidenceUnits {
			if !u.Present() || u.Label == "" {
				continue
			}
			counts[u.Label]++
			if text := strings.TrimSpace(u.Span); text != "" {
				spans = append(spans, span{text: text, weight: u.SeverityWeight(), date: s.DateISO})
			}
		}
	}

	g := Grounding{}
	for label, n := range counts {
		g.SignalCounts = append(g.SignalCounts, LabelCount{Label: label, Count: n})
	}
	sort.Slice(g.SignalCounts, func(i, j int) bool {
		if g.SignalCounts[i].Count != g.SignalCounts[j].Count {
			return g.SignalCounts[i].Count > g.SignalCounts[j].Count
		}
		return g.SignalCounts[i].Label < g.SignalCounts[j].Label
	})

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].weight != spans[j].weight {
			return spans[i].weight > spans[j].weight
		}
		return spans[i].date > spans[j].date
	})
	seen := map[string]bool{}
	for _, s := range spans {
		if len(g.Highlights) == maxHighlights {
			break
		}
		key := strings.ToLower(s.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		text := s.text
		if r := []rune(text); len(r) > maxHighlightLength {
			text = string(r[:maxHighlightLength])
		}
		g.Highlights = append(g.Highlights, text)
	}
	return g
}

// CountMergeOps returns how many merge calls a binary reduction of n chunks makes.
func CountMergeOps(n int) int {
	total := 0
	for n > 1 {
		n = (n + 1) / 2
		total += n
	}
	return total
}

// Reducer runs the map-reduce merge.
type Reducer struct {
	collaborator registrymerge.Collaborator
	timeout      time.Duration
}

// NewReducer returns a Reducer that bounds each merge step by timeout.
func NewReducer(collaborator registrymerge.Collaborator, timeout time.Duration) *Reducer {
	return &Reducer{collaborator: collaborator, timeout: timeout}
}

// Reduce merges chunks pairwise until one narrative remains. A single chunk is
// returned as is. Any failed step aborts the reduction; callers fall back to
// heuristics. The returned count is the number of collaborator calls made.
func (r *Reducer) Reduce(ctx context.Context, chunks []model.Narrative, timeRangeLabel string, g Grounding) (*model.Narrative, int, error) {
	if len(chunks) == 0 {
		return nil, 0, nil
	}
	current := append([]model.Narrative{}, chunks...)
	calls := 0
	total := CountMergeOps(len(current))
	for len(current) > 1 {
		merged := make([]model.Narrative, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			end := i + 2
			if end > len(current) {
				end = len(current)
			}
			out, err := r.mergeStep(ctx, registrymerge.Request{
				Chunks:             current[i:end],
				TimeRangeLabel:     timeRangeLabel,
				SignalContext:      g.SignalContext(),
				EvidenceHighlights: g.Highlights,
			})
			calls++
			if err != nil {
				return nil, calls, fmt.Errorf("merge step %d/%d: %w", calls, total, err)
			}
			merged = append(merged, *out)
		}
		log.Debug("Narrative merge round finished", "chunks", len(current), "merged", len(merged))
		current = merged
	}
	result := current[0]
	if result.TimeRangeLabel == "" {
		result.TimeRangeLabel = timeRangeLabel
	}
	return &result, calls, nil
}

func (r *Reducer) mergeStep(ctx context.Context, req registrymerge.Request) (*model.Narrative, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	out, err := r.collaborator.Merge(ctx, req)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("collaborator returned no narrative")
	}
	return out, nil
}

// WeeksInWindow returns the weekly narratives whose Monday-to-Sunday week
// overlaps window, oldest week first. An empty window bound is open.
func WeeksInWindow(weekly []model.WeeklyNarrative, window model.DateWindow) []model.WeeklyNarrative {
	sorted := append([]model.WeeklyNarrative{}, weekly...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WeekStartISO < sorted[j].WeekStartISO })
	var out []model.WeeklyNarrative
	for _, w := range sorted {
		if window.End != "" && w.WeekStartISO > window.End {
			continue
		}
		if window.Start != "" {
			start, err := model.ParseDateISO(w.WeekStartISO)
			if err != nil || model.DateISO(start.AddDate(0, 0, 6)) < window.Start {
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

// Chunks returns the non-empty narratives of weekly, in order.
func Chunks(weekly []model.WeeklyNarrative) []model.Narrative {
	var chunks []model.Narrative
	for _, w := range weekly {
		if !w.Narrative.Empty() {
			chunks = append(chunks, w.Narrative)
		}
	}
	return chunks
}
