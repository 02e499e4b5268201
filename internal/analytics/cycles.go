package analytics

import (
	"math"
	"sort"

	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

const (
	maxCycleLagDays  = 3
	minCycleCount    = 3
	maxCycleEvidence = 8
)

// CycleEdge is a mined directed association between two labels.
type CycleEdge struct {
	Source           string
	Target           string
	Frequency        int
	Confidence       float64
	LagDaysMin       int
	AvgLag           float64
	EvidenceEntryIDs []string
}

// PresentLabels returns the distinct mineable labels an entry asserts.
func PresentLabels(signal model.EntrySignal) []string {
	seen := map[string]bool{}
	var out []string
	for _, unit := range signal.EvidenceUnits {
		if unit.Label == "" || !unit.Present() || !labels.Mineable(unit.Label) || seen[unit.Label] {
			continue
		}
		seen[unit.Label] = true
		out = append(out, unit.Label)
	}
	return out
}

type cycleStats struct {
	count    int
	minLag   int
	totalLag int
	evidence []string
}

func (s *cycleStats) addEvidence(ids ...string) {
	for _, id := range ids {
		if id != "" && !contains(s.evidence, id) {
			s.evidence = append(s.evidence, id)
		}
	}
}

// MineCycles finds label pairs where the target follows the source within
// three days. Signals must be sorted by date. Only pairs seen at least three
// times are returned, most frequent first.
func MineCycles(signals []model.EntrySignal) ([]CycleEdge, error) {
	stats := map[[2]string]*cycleStats{}
	present := make([][]string, len(signals))
	for i, s := range signals {
		present[i] = PresentLabels(s)
	}

	for i, current := range signals {
		if len(present[i]) == 0 || current.DateISO == "" {
			continue
		}
		for j := i; j < len(signals); j++ {
			candidate := signals[j]
			if candidate.DateISO == "" {
				continue
			}
			lag, err := model.DaysBetween(current.DateISO, candidate.DateISO)
			if err != nil {
				return nil, err
			}
			if lag > maxCycleLagDays {
				break
			}
			if lag < 0 || len(present[j]) == 0 {
				continue
			}
			for _, from := range present[i] {
				for _, to := range present[j] {
					if from == to && lag == 0 {
						continue
					}
					key := [2]string{from, to}
					s := stats[key]
					if s == nil {
						s = &cycleStats{minLag: lag}
						stats[key] = s
					}
					s.count++
					s.totalLag += lag
					if lag < s.minLag {
						s.minLag = lag
					}
					s.addEvidence(current.EntryID, candidate.EntryID)
				}
			}
		}
	}

	maxCount := 1
	for _, s := range stats {
		if s.count > maxCount {
			maxCount = s.count
		}
	}

	var edges []CycleEdge
	for key, s := range stats {
		if s.count < minCycleCount {
			continue
		}
		evidence := s.evidence
		if len(evidence) > maxCycleEvidence {
			evidence = evidence[:maxCycleEvidence]
		}
		edges = append(edges, CycleEdge{
			Source:           key[0],
			Target:           key[1],
			Frequency:        s.count,
			Confidence:       math.Min(1, float64(s.count)/float64(maxCount)),
			LagDaysMin:       s.minLag,
			AvgLag:           math.Round(float64(s.totalLag)/float64(s.count)*100) / 100,
			EvidenceEntryIDs: append([]string{}, evidence...),
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Frequency != edges[j].Frequency {
			return edges[i].Frequency > edges[j].Frequency
		}
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges, nil
}
