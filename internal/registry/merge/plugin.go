package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

// ErrDisabled is returned by collaborators that never merge.
var ErrDisabled = errors.New("narrative merge disabled")

// Request asks for one merged narrative from one or two chunk narratives.
type Request struct {
	Chunks         []model.Narrative
	TimeRangeLabel string
	// SignalContext lists present-label counts, e.g. "SYMPTOM_MOOD: 4, SYMPTOM_SLEEP: 2".
	SignalContext string
	// EvidenceHighlights are verbatim spans the merge may ground claims on.
	EvidenceHighlights []string
}

// Collaborator merges chunk narratives. Implementations must not invent
// themes absent from the grounding context.
type Collaborator interface {
	Merge(ctx context.Context, req Request) (*model.Narrative, error)
}

// Disabler is implemented by collaborators that may be configured to never merge.
type Disabler interface {
	Disabled() bool
}

// IsDisabled reports whether c is known to never merge.
func IsDisabled(c Collaborator) bool {
	d, ok := c.(Disabler)
	return ok && d.Disabled()
}

// Loader creates a collaborator from config.
type Loader func(ctx context.Context) (Collaborator, error)

// Plugin represents a narrative merge plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a merge plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered merge plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named merge plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown narrative merge %q; valid: %v", name, Names())
}
