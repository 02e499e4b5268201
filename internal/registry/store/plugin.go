package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

// ScopeWrite carries the compare-and-swap guard and version stamps of one
// recompute commit. Revision is the scope revision observed before computing.
type ScopeWrite struct {
	UserID          string
	RangeKey        model.RangeKey
	Kind            model.DerivedKind
	Revision        int64
	SourceVersion   string
	PipelineVersion string
	ComputedAt      time.Time
}

// Versioning returns the fresh versioning metadata the commit writes on every doc.
func (w ScopeWrite) Versioning() model.Versioning {
	computedAt := w.ComputedAt.UTC()
	return model.Versioning{
		ComputedAt:      &computedAt,
		PipelineVersion: w.PipelineVersion,
		SourceVersion:   w.SourceVersion,
		Stale:           false,
	}
}

// DerivedStore persists entry signals, weekly narratives, the scope ledger and
// the four derived doc families.
type DerivedStore interface {
	// Entry signals
	UpsertEntrySignal(ctx context.Context, signal *model.EntrySignal) error
	GetEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error)
	DeleteEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error)
	// ListEntrySignals returns the signals whose date falls in window, ordered by date then entry id.
	ListEntrySignals(ctx context.Context, userID string, window model.DateWindow) ([]model.EntrySignal, error)
	// EarliestSignalDate returns "" when the user has no signals.
	EarliestSignalDate(ctx context.Context, userID string) (string, error)
	// LatestSourceUpdate returns nil when no signal falls in window.
	LatestSourceUpdate(ctx context.Context, userID string, window model.DateWindow) (*time.Time, error)

	// Weekly narratives
	UpsertWeeklyNarrative(ctx context.Context, weekly *model.WeeklyNarrative) error
	ListWeeklyNarratives(ctx context.Context, userID string) ([]model.WeeklyNarrative, error)

	// Scope ledger
	MarkStale(ctx context.Context, userID string, rangeKeys []model.RangeKey, sourceVersion string) error
	// GetScope returns nil when the scope was never marked or computed.
	GetScope(ctx context.Context, userID string, rangeKey model.RangeKey, kind model.DerivedKind) (*model.DerivedScope, error)
	// ListStaleScopes returns distinct stale (user, rangeKey) scopes of kind.
	ListStaleScopes(ctx context.Context, kind model.DerivedKind, limit int) ([]model.ScopeKey, error)

	// Derived docs. Save* commit only when the scope revision still equals
	// w.Revision and return a superseded ConflictError otherwise.
	SaveThemeSeries(ctx context.Context, w ScopeWrite, rows []model.ThemeSeries) error
	ListThemeSeries(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.ThemeSeries, error)
	SaveConnectionsGraph(ctx context.Context, w ScopeWrite, graph *model.ConnectionsGraph) error
	// GetConnectionsGraph and GetSnapshot return nil when never written.
	GetConnectionsGraph(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.ConnectionsGraph, error)
	SaveCycles(ctx context.Context, w ScopeWrite, rows []model.Cycle) error
	ListCycles(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.Cycle, error)
	SaveSnapshot(ctx context.Context, w ScopeWrite, summary *model.SnapshotSummary) error
	GetSnapshot(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.SnapshotSummary, error)

	Ping(ctx context.Context) error
}

// Loader creates a DerivedStore from config.
type Loader func(ctx context.Context) (DerivedStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
