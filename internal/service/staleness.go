package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
)

// MarkStale flags every derived cache of each range stale and bumps the scope
// revisions. An empty sourceVersion stamps the current time.
func (s *Service) MarkStale(ctx context.Context, userID string, rangeKeys []model.RangeKey, sourceVersion string) error {
	if len(rangeKeys) == 0 {
		return nil
	}
	for _, rk := range rangeKeys {
		if !rk.Valid() {
			return &registrystore.ValidationError{Field: "rangeKey", Message: fmt.Sprintf("unknown range key %q", rk)}
		}
	}
	if sourceVersion == "" {
		sourceVersion = formatVersion(s.now())
	}
	if err := s.store.MarkStale(ctx, userID, rangeKeys, sourceVersion); err != nil {
		return fmt.Errorf("failed to mark derived caches stale: %w", err)
	}
	log.Debug("Marked derived caches stale", "user", userID, "ranges", rangeKeys, "sourceVersion", sourceVersion)
	return nil
}

// AffectedRanges returns the range keys a change on the given entry dates
// invalidates. The "all" policy returns every range; the "window" policy
// returns all_time plus each range whose window contains one of the dates.
func (s *Service) AffectedRanges(dates ...string) []model.RangeKey {
	if s.cfg.StaleRangePolicy != config.StaleRangesWindow {
		return append([]model.RangeKey{}, model.RangeKeys...)
	}
	now := s.now()
	var out []model.RangeKey
	for _, rk := range model.RangeKeys {
		if rk == model.RangeAllTime {
			out = append(out, rk)
			continue
		}
		window := rk.Window(now)
		for _, d := range dates {
			if d != "" && window.Contains(d) {
				out = append(out, rk)
				break
			}
		}
	}
	return out
}

// ComputeSourceVersion returns the modification time of the most recently
// updated signal inside the range window, or the current time when the
// window holds none.
func (s *Service) ComputeSourceVersion(ctx context.Context, userID string, rangeKey model.RangeKey) (string, error) {
	latest, err := s.store.LatestSourceUpdate(ctx, userID, rangeKey.Window(s.now()))
	if err != nil {
		return "", fmt.Errorf("failed to compute source version: %w", err)
	}
	if latest == nil {
		return formatVersion(s.now()), nil
	}
	return formatVersion(*latest), nil
}

func formatVersion(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
