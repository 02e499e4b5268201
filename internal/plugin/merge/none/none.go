package none

import (
	"context"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
)

func init() {
	registrymerge.Register(registrymerge.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrymerge.Collaborator, error) {
			return &disabledMerger{}, nil
		},
	})
}

type disabledMerger struct{}

func (d *disabledMerger) Merge(_ context.Context, _ registrymerge.Request) (*model.Narrative, error) {
	return nil, registrymerge.ErrDisabled
}

func (d *disabledMerger) Disabled() bool { return true }

var (
	_ registrymerge.Collaborator = (*disabledMerger)(nil)
	_ registrymerge.Disabler     = (*disabledMerger)(nil)
)
