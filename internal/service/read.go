package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/analytics"
	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrycache "github.com/sheryldeakin/mindstorm-sub000/internal/registry/cache"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
)

const maxEdgeQuotes = 2

// Result is the read-path response envelope. Stale is set whenever the cache
// is missing or invalidated; a recompute has then been scheduled.
type Result[T any] struct {
	Data            T              `json:"data"`
	Stale           bool           `json:"stale"`
	RangeKey        model.RangeKey `json:"rangeKey"`
	ComputedAt      *time.Time     `json:"computedAt"`
	PipelineVersion string         `json:"pipelineVersion"`
}

// EdgeEvidence is a supporting quote attached to an edge at read time.
type EdgeEvidence struct {
	EntryID string `json:"entryId"`
	DateISO string `json:"dateISO"`
	Quote   string `json:"quote"`
}

// ConnectionEdge is a cached edge enriched with its read-time movement.
type ConnectionEdge struct {
	model.GraphEdge
	Label    string             `json:"label"`
	Movement analytics.Movement `json:"movement"`
	Evidence []EdgeEvidence     `json:"evidence"`
}

// Connections is the getConnections payload.
type Connections struct {
	Nodes []model.GraphNode `json:"nodes"`
	Edges []ConnectionEdge  `json:"edges"`
}

// GetThemeSeries returns the cached theme series of a range.
func (s *Service) GetThemeSeries(ctx context.Context, userID string, rangeKey model.RangeKey) (*Result[[]model.ThemeSeries], error) {
	return readThrough(ctx, s, model.KindThemeSeries, userID, rangeKey, func(ctx context.Context) ([]model.ThemeSeries, bool, error) {
		rows, err := s.store.ListThemeSeries(ctx, userID, rangeKey)
		if err != nil {
			return nil, false, err
		}
		if rows == nil {
			rows = []model.ThemeSeries{}
		}
		return rows, true, nil
	})
}

// GetConnections returns the cached graph with per-edge movement and quotes.
func (s *Service) GetConnections(ctx context.Context, userID string, rangeKey model.RangeKey) (*Result[*Connections], error) {
	return readThrough(ctx, s, model.KindConnections, userID, rangeKey, func(ctx context.Context) (*Connections, bool, error) {
		graph, err := s.store.GetConnectionsGraph(ctx, userID, rangeKey)
		if err != nil {
			return nil, false, err
		}
		if graph == nil {
			return &Connections{Nodes: []model.GraphNode{}, Edges: []ConnectionEdge{}}, false, nil
		}
		view, err := s.enrichConnections(ctx, userID, rangeKey, graph)
		return view, true, err
	})
}

// GetCycles returns the cached cycle edges. A computed scope with no edges
// yields an empty list.
func (s *Service) GetCycles(ctx context.Context, userID string, rangeKey model.RangeKey) (*Result[[]model.Cycle], error) {
	return readThrough(ctx, s, model.KindCycles, userID, rangeKey, func(ctx context.Context) ([]model.Cycle, bool, error) {
		rows, err := s.store.ListCycles(ctx, userID, rangeKey)
		if err != nil {
			return nil, false, err
		}
		edges := []model.Cycle{}
		for _, row := range rows {
			if !row.Sentinel() {
				edges = append(edges, row)
			}
		}
		return edges, len(rows) > 0, nil
	})
}

// GetSnapshot returns the cached snapshot, or nil data when none exists yet.
func (s *Service) GetSnapshot(ctx context.Context, userID string, rangeKey model.RangeKey) (*Result[*model.Snapshot], error) {
	return readThrough(ctx, s, model.KindSnapshot, userID, rangeKey, func(ctx context.Context) (*model.Snapshot, bool, error) {
		summary, err := s.store.GetSnapshot(ctx, userID, rangeKey)
		if err != nil {
			return nil, false, err
		}
		if summary == nil || summary.ComputedAt == nil {
			return nil, false, nil
		}
		return &summary.Snapshot, true, nil
	})
}

// readThrough serves the best available data of a scope without blocking on
// a recompute. Fresh responses go through the response cache; anything else
// schedules an asynchronous recompute.
func readThrough[T any](ctx context.Context, s *Service, kind model.DerivedKind, userID string, rangeKey model.RangeKey, load func(context.Context) (T, bool, error)) (*Result[T], error) {
	if !rangeKey.Valid() {
		return nil, &registrystore.ValidationError{Field: "rangeKey", Message: fmt.Sprintf("unknown range key %q", rangeKey)}
	}
	scope, err := s.store.GetScope(ctx, userID, rangeKey, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s scope: %w", kind, err)
	}
	fresh := scope != nil && scope.Fresh()

	var key string
	if fresh && s.cacheAvailable() {
		deps, err := s.cacheDeps(ctx, kind, userID, rangeKey)
		if err != nil {
			return nil, err
		}
		key = registrycache.Key(kind, userID, rangeKey, scope.Revision, scope.ComputedAt, deps...)
		if cached, ok := s.cachedResult(ctx, key); ok {
			var res Result[T]
			if err := json.Unmarshal(cached, &res); err == nil {
				return &res, nil
			}
		}
	}

	data, found, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", kind, err)
	}
	res := &Result[T]{Data: data, Stale: !fresh || !found, RangeKey: rangeKey}
	if scope != nil {
		res.ComputedAt = scope.ComputedAt
		res.PipelineVersion = scope.PipelineVersion
	}
	if res.Stale {
		security.CountStaleRead(string(kind))
		s.trigger(kind, userID, rangeKey)
		return res, nil
	}
	if key != "" {
		if encoded, err := json.Marshal(res); err == nil {
			if err := s.cache.Set(ctx, key, encoded, s.cfg.CacheTTL); err != nil {
				log.Warn("Response cache set failed", "kind", kind, "err", err)
			}
		}
	}
	return res, nil
}

// cacheDeps returns the other scopes a cached response of kind is built from.
// Connections responses embed theme series movement.
func (s *Service) cacheDeps(ctx context.Context, kind model.DerivedKind, userID string, rangeKey model.RangeKey) ([]*model.DerivedScope, error) {
	if kind != model.KindConnections {
		return nil, nil
	}
	series, err := s.store.GetScope(ctx, userID, rangeKey, model.KindThemeSeries)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s scope: %w", model.KindThemeSeries, err)
	}
	return []*model.DerivedScope{series}, nil
}

func (s *Service) cachedResult(ctx context.Context, key string) ([]byte, bool) {
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn("Response cache get failed", "err", err)
		return nil, false
	}
	security.CountCacheLookup(ok)
	return cached, ok
}

// trigger schedules a fire-and-forget recompute. Concurrent triggers for the
// same scope share one run.
func (s *Service) trigger(kind model.DerivedKind, userID string, rangeKey model.RangeKey) {
	if s.bg.Err() != nil {
		return
	}
	security.CountReadTrigger(string(kind), "requested")
	key := string(kind) + ":" + userID + ":" + string(rangeKey)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _, _ = s.inflight.Do(key, func() (interface{}, error) {
			security.CountReadTrigger(string(kind), "started")
			err := s.Recompute(s.bg, kind, userID, rangeKey)
			switch {
			case err == nil:
			case registrystore.IsSuperseded(err):
				log.Debug("Read-triggered recompute superseded", "kind", kind, "user", userID, "range", rangeKey)
			default:
				log.Error("Read-triggered recompute failed", "kind", kind, "user", userID, "range", rangeKey, "err", err)
			}
			return nil, err
		})
	}()
}

func (s *Service) enrichConnections(ctx context.Context, userID string, rangeKey model.RangeKey, graph *model.ConnectionsGraph) (*Connections, error) {
	series, err := s.store.ListThemeSeries(ctx, userID, rangeKey)
	if err != nil {
		return nil, err
	}
	intensities := make(map[string][]float64, len(series))
	for _, row := range series {
		intensities[row.Theme] = row.Intensities()
	}

	signals := map[string]model.EntrySignal{}
	if len(graph.Edges) > 0 {
		rows, err := s.store.ListEntrySignals(ctx, userID, rangeKey.Window(s.now()))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			signals[row.EntryID] = row
		}
	}

	labelOf := map[string]string{}
	for _, n := range graph.Nodes {
		labelOf[n.ID] = n.Label
	}
	title := func(id string) string {
		if l, ok := labelOf[id]; ok && l != "" {
			return l
		}
		return labels.Title(id)
	}

	view := &Connections{Nodes: graph.Nodes, Edges: make([]ConnectionEdge, 0, len(graph.Edges))}
	if view.Nodes == nil {
		view.Nodes = []model.GraphNode{}
	}
	for _, edge := range graph.Edges {
		from, to := title(edge.From), title(edge.To)
		evidence := []EdgeEvidence{}
		for _, id := range edge.EvidenceEntryIDs {
			if len(evidence) == maxEdgeQuotes {
				break
			}
			signal, ok := signals[id]
			if !ok {
				continue
			}
			if quote := pickQuote(signal); quote != "" {
				evidence = append(evidence, EdgeEvidence{EntryID: id, DateISO: signal.DateISO, Quote: quote})
			}
		}
		view.Edges = append(view.Edges, ConnectionEdge{
			GraphEdge: edge,
			Label:     from + " <-> " + to,
			Movement:  analytics.CompareSeries(from, intensities[edge.From], to, intensities[edge.To]),
			Evidence:  evidence,
		})
	}
	return view, nil
}

// pickQuote prefers patient-facing section phrases, then a present evidence
// span, then the entry summary.
func pickQuote(signal model.EntrySignal) string {
	sections := signal.EvidenceBySection
	for _, pool := range [][]string{sections.RecurringExperiences, sections.RelatedInfluences, sections.ImpactAreas} {
		for _, item := range pool {
			if q := strings.TrimSpace(item); q != "" {
				return q
			}
		}
	}
	for _, unit := range signal.EvidenceUnits {
		if q := strings.TrimSpace(unit.Span); unit.Present() && q != "" {
			return q
		}
	}
	return strings.TrimSpace(signal.Summary)
}
