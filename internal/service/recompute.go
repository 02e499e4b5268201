package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/analytics"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	"github.com/sheryldeakin/mindstorm-sub000/internal/narrative"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
)

// Recompute rebuilds one derived kind of a scope. When the scope is
// invalidated while computing, the result is discarded and a superseded
// ConflictError is returned; the scope stays stale for the next pass.
func (s *Service) Recompute(ctx context.Context, kind model.DerivedKind, userID string, rangeKey model.RangeKey) error {
	if !rangeKey.Valid() {
		return &registrystore.ValidationError{Field: "rangeKey", Message: fmt.Sprintf("unknown range key %q", rangeKey)}
	}
	started := time.Now()
	var err error
	switch kind {
	case model.KindThemeSeries:
		err = s.recomputeThemeSeries(ctx, userID, rangeKey)
	case model.KindConnections:
		err = s.recomputeConnections(ctx, userID, rangeKey)
	case model.KindCycles:
		err = s.recomputeCycles(ctx, userID, rangeKey)
	case model.KindSnapshot:
		err = s.recomputeSnapshot(ctx, userID, rangeKey)
	default:
		return &registrystore.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown derived kind %q", kind)}
	}
	result := "ok"
	switch {
	case registrystore.IsSuperseded(err):
		result = "superseded"
	case err != nil:
		result = "error"
	}
	security.ObserveRecompute(string(kind), result, started)
	if err != nil {
		return fmt.Errorf("recompute %s %s:%s: %w", kind, userID, rangeKey, err)
	}
	return nil
}

// RecomputeScope rebuilds every kind of a scope in dependency order. A failed
// kind does not stop the later ones.
func (s *Service) RecomputeScope(ctx context.Context, userID string, rangeKey model.RangeKey) error {
	var errs []error
	for _, kind := range model.DerivedKinds {
		if err := s.Recompute(ctx, kind, userID, rangeKey); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pass is the input snapshot one recompute works from.
type pass struct {
	write   registrystore.ScopeWrite
	window  model.DateWindow
	signals []model.EntrySignal
}

// begin captures the scope revision before reading any input, so an
// invalidation that lands mid-compute makes the commit fail.
func (s *Service) begin(ctx context.Context, kind model.DerivedKind, userID string, rangeKey model.RangeKey) (*pass, error) {
	revision, err := s.revision(ctx, kind, userID, rangeKey)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sourceVersion, err := s.ComputeSourceVersion(ctx, userID, rangeKey)
	if err != nil {
		return nil, err
	}
	window := rangeKey.Window(now)
	signals, err := s.store.ListEntrySignals(ctx, userID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry signals: %w", err)
	}
	return &pass{
		write: registrystore.ScopeWrite{
			UserID:          userID,
			RangeKey:        rangeKey,
			Kind:            kind,
			Revision:        revision,
			SourceVersion:   sourceVersion,
			PipelineVersion: model.PipelineVersion(kind),
			ComputedAt:      now,
		},
		window:  window,
		signals: signals,
	}, nil
}

func (s *Service) revision(ctx context.Context, kind model.DerivedKind, userID string, rangeKey model.RangeKey) (int64, error) {
	scope, err := s.store.GetScope(ctx, userID, rangeKey, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s scope: %w", kind, err)
	}
	if scope == nil {
		return 0, nil
	}
	return scope.Revision, nil
}

func (s *Service) buildThemeSeries(userID string, rangeKey model.RangeKey, window model.DateWindow, signals []model.EntrySignal) ([]model.ThemeSeries, error) {
	sw, err := analytics.ResolveSeriesWindow(rangeKey, window, signals, s.cfg.AllTimeMaxDays)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve series window: %w", err)
	}
	if sw.Truncated {
		log.Warn("All-time theme series window capped",
			"user", userID, "earliest", sw.Earliest, "start", sw.Dates[0], "maxDays", s.cfg.AllTimeMaxDays)
	}
	return analytics.BuildThemeSeries(signals, sw.Dates, s.lookup), nil
}

func (s *Service) recomputeThemeSeries(ctx context.Context, userID string, rangeKey model.RangeKey) error {
	p, err := s.begin(ctx, model.KindThemeSeries, userID, rangeKey)
	if err != nil {
		return err
	}
	rows, err := s.buildThemeSeries(userID, rangeKey, p.window, p.signals)
	if err != nil {
		return err
	}
	if err := s.store.SaveThemeSeries(ctx, p.write, rows); err != nil {
		return err
	}
	log.Debug("Theme series recomputed", "user", userID, "range", rangeKey, "themes", len(rows), "signals", len(p.signals))
	return nil
}

func (s *Service) recomputeConnections(ctx context.Context, userID string, rangeKey model.RangeKey) error {
	p, err := s.begin(ctx, model.KindConnections, userID, rangeKey)
	if err != nil {
		return err
	}
	nodes, edges := analytics.BuildConnectionsGraph(p.signals, s.lookup)
	if nodes == nil {
		nodes = []model.GraphNode{}
	}
	if edges == nil {
		edges = []model.GraphEdge{}
	}
	graph := &model.ConnectionsGraph{Nodes: nodes, Edges: edges}
	if err := s.store.SaveConnectionsGraph(ctx, p.write, graph); err != nil {
		return err
	}
	log.Debug("Connections graph recomputed", "user", userID, "range", rangeKey, "nodes", len(nodes), "edges", len(edges))
	return nil
}

func (s *Service) recomputeCycles(ctx context.Context, userID string, rangeKey model.RangeKey) error {
	p, err := s.begin(ctx, model.KindCycles, userID, rangeKey)
	if err != nil {
		return err
	}
	edges, err := analytics.MineCycles(p.signals)
	if err != nil {
		return fmt.Errorf("failed to mine cycles: %w", err)
	}
	rows := make([]model.Cycle, len(edges))
	for i, e := range edges {
		source, target := e.Source, e.Target
		rows[i] = model.Cycle{
			SourceNode:       &source,
			TargetNode:       &target,
			Frequency:        e.Frequency,
			Confidence:       e.Confidence,
			LagDaysMin:       e.LagDaysMin,
			AvgLag:           e.AvgLag,
			EvidenceEntryIDs: e.EvidenceEntryIDs,
		}
	}
	if err := s.store.SaveCycles(ctx, p.write, rows); err != nil {
		return err
	}
	log.Debug("Cycles recomputed", "user", userID, "range", rangeKey, "edges", len(rows))
	return nil
}

// historyDays counts the calendar days from the earliest signal to today,
// both inclusive. A user with no signals has no history.
func historyDays(earliest, today string) int {
	if earliest == "" {
		return 0
	}
	days, err := model.DaysBetween(earliest, today)
	if err != nil || days < 0 {
		return 0
	}
	return days + 1
}

func (s *Service) recomputeSnapshot(ctx context.Context, userID string, rangeKey model.RangeKey) error {
	revision, err := s.revision(ctx, model.KindSnapshot, userID, rangeKey)
	if err != nil {
		return err
	}
	now := s.now()
	today := model.DateISO(now)
	earliest, err := s.store.EarliestSignalDate(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read earliest signal: %w", err)
	}

	coverage := model.RangeCoverage{
		RequestedRangeKey: rangeKey,
		EffectiveRangeKey: rangeKey,
		HistoryDays:       historyDays(earliest, today),
	}
	if rangeKey != model.RangeAllTime && coverage.HistoryDays < rangeKey.Days() {
		coverage.EffectiveRangeKey = model.RangeAllTime
		coverage.Reason = model.CoverageInsufficientHistory
	}
	effective := coverage.EffectiveRangeKey

	w := registrystore.ScopeWrite{
		UserID:          userID,
		RangeKey:        rangeKey,
		Kind:            model.KindSnapshot,
		Revision:        revision,
		PipelineVersion: model.PipelineSnapshot,
		ComputedAt:      now,
	}

	if effective != rangeKey {
		cloned, err := s.cloneAllTimeSnapshot(ctx, userID, rangeKey, coverage)
		if err != nil {
			return err
		}
		if cloned != nil {
			w.SourceVersion = cloned.SourceVersion
			if err := s.store.SaveSnapshot(ctx, w, cloned); err != nil {
				return err
			}
			log.Debug("Snapshot cloned from all_time", "user", userID, "range", rangeKey, "historyDays", coverage.HistoryDays)
			return nil
		}
	}

	w.SourceVersion, err = s.ComputeSourceVersion(ctx, userID, effective)
	if err != nil {
		return err
	}
	window := effective.Window(now)
	signals, err := s.store.ListEntrySignals(ctx, userID, window)
	if err != nil {
		return fmt.Errorf("failed to load entry signals: %w", err)
	}
	series, err := s.themeSeriesFor(ctx, userID, effective, window, signals)
	if err != nil {
		return err
	}
	weekly, err := s.store.ListWeeklyNarratives(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load weekly narratives: %w", err)
	}
	weekly = narrative.WeeksInWindow(weekly, window)

	snapshot := analytics.BuildSnapshot(analytics.SnapshotInput{
		RangeKey: rangeKey,
		Today:    today,
		Signals:  signals,
		Series:   series,
		Weekly:   weekly,
	})
	snapshot.RangeCoverage = coverage
	snapshot.Narrative = s.mergeNarrative(ctx, userID, rangeKey, signals, weekly)
	fillNarrative(&snapshot, rangeKey.Label())

	if err := s.store.SaveSnapshot(ctx, w, &model.SnapshotSummary{Snapshot: snapshot}); err != nil {
		return err
	}
	log.Debug("Snapshot recomputed", "user", userID, "range", rangeKey, "effective", effective, "entries", snapshot.EntryCount)
	return nil
}

// cloneAllTimeSnapshot returns a copy of a fresh all_time snapshot relabeled
// for rangeKey, or nil when no fresh all_time snapshot exists.
func (s *Service) cloneAllTimeSnapshot(ctx context.Context, userID string, rangeKey model.RangeKey, coverage model.RangeCoverage) (*model.SnapshotSummary, error) {
	scope, err := s.store.GetScope(ctx, userID, model.RangeAllTime, model.KindSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to read all_time snapshot scope: %w", err)
	}
	if scope == nil || !scope.Fresh() {
		return nil, nil
	}
	source, err := s.store.GetSnapshot(ctx, userID, model.RangeAllTime)
	if err != nil {
		return nil, fmt.Errorf("failed to read all_time snapshot: %w", err)
	}
	if source == nil {
		return nil, nil
	}
	snapshot := source.Snapshot
	snapshot.RangeKey = rangeKey
	snapshot.RangeCoverage = coverage
	if snapshot.Narrative != nil {
		relabeled := *snapshot.Narrative
		relabeled.TimeRangeLabel = rangeKey.Label()
		snapshot.Narrative = &relabeled
	}
	return &model.SnapshotSummary{
		Snapshot:   snapshot,
		Versioning: model.Versioning{SourceVersion: scope.SourceVersion},
	}, nil
}

// themeSeriesFor returns the theme series of a scope, recomputing them first
// when the cached rows are not fresh. A superseded refresh falls back to an
// in-memory build from signals.
func (s *Service) themeSeriesFor(ctx context.Context, userID string, rangeKey model.RangeKey, window model.DateWindow, signals []model.EntrySignal) ([]model.ThemeSeries, error) {
	scope, err := s.store.GetScope(ctx, userID, rangeKey, model.KindThemeSeries)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme series scope: %w", err)
	}
	if scope == nil || !scope.Fresh() {
		err := s.Recompute(ctx, model.KindThemeSeries, userID, rangeKey)
		switch {
		case registrystore.IsSuperseded(err):
			return s.buildThemeSeries(userID, rangeKey, window, signals)
		case err != nil:
			return nil, err
		}
	}
	rows, err := s.store.ListThemeSeries(ctx, userID, rangeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load theme series: %w", err)
	}
	return rows, nil
}

// mergeNarrative reduces the weekly narratives of a range into one narrative.
// Any failure degrades to nil so the heuristic snapshot stands alone.
func (s *Service) mergeNarrative(ctx context.Context, userID string, rangeKey model.RangeKey, signals []model.EntrySignal, weekly []model.WeeklyNarrative) *model.Narrative {
	chunks := narrative.Chunks(weekly)
	if s.reducer == nil || len(chunks) == 0 {
		return nil
	}
	merged, calls, err := s.reducer.Reduce(ctx, chunks, rangeKey.Label(), narrative.BuildGrounding(signals))
	if err != nil {
		security.CountMergeCalls("error", calls)
		if errors.Is(err, registrymerge.ErrDisabled) {
			log.Debug("Narrative merge disabled, keeping heuristic snapshot", "user", userID, "range", rangeKey)
			return nil
		}
		log.Warn("Narrative merge failed, keeping heuristic snapshot",
			"user", userID, "range", rangeKey, "chunks", len(chunks), "calls", calls, "err", err)
		return nil
	}
	security.CountMergeCalls("ok", calls)
	log.Debug("Narrative merged", "user", userID, "range", rangeKey, "chunks", len(chunks), "calls", calls)
	return merged
}

// fillNarrative guarantees a narrative whose overTimeSummary falls back to
// the heuristic overview.
func fillNarrative(snapshot *model.Snapshot, label string) {
	n := snapshot.Narrative
	if n == nil {
		n = &model.Narrative{}
	}
	if n.TimeRangeLabel == "" {
		n.TimeRangeLabel = label
	}
	if n.OverTimeSummary == "" {
		n.OverTimeSummary = snapshot.SnapshotOverview
	}
	for _, list := range []*[]string{&n.RecurringExperiences, &n.ImpactAreas, &n.RelatedInfluences, &n.UnclearAreas, &n.QuestionsToExplore} {
		if *list == nil {
			*list = []string{}
		}
	}
	snapshot.Narrative = n
}
