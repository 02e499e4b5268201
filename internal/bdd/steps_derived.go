package bdd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/sheryldeakin/mindstorm-sub000/internal/cmd/serve"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
	"github.com/sheryldeakin/mindstorm-sub000/internal/testutil/cucumber"
)

const serverKey = "server"

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		d := &derivedSteps{s: s}
		ctx.Step(`^the date (\d+) days? ago is stored as \${([^}]*)}$`, d.storeDateDaysAgo)
		ctx.Step(`^pending recomputes have finished$`, d.pendingRecomputesHaveFinished)
		ctx.Step(`^the worker runs once$`, d.workerRunsOnce)
		ctx.Step(`^I mark the "([^"]*)" ranges? stale$`, d.markStale)
		ctx.Step(`^I store the "([^"]*)" "([^"]*)" scope as \${([^}]*)}$`, d.storeScope)
		ctx.Step(`^\${([^}]*)} should be "([^"]*)"$`, d.variableShouldBe)
	})
}

type derivedSteps struct {
	s *cucumber.TestScenario
}

func (d *derivedSteps) server() (*serve.Server, error) {
	srv, ok := d.s.Suite.Extra[serverKey].(*serve.Server)
	if !ok {
		return nil, fmt.Errorf("no server registered with the suite")
	}
	return srv, nil
}

func (d *derivedSteps) user() (string, error) {
	return d.s.ResolveString("user")
}

func (d *derivedSteps) storeDateDaysAgo(days int, as string) error {
	d.s.Variables[as] = model.DateISO(time.Now().UTC().AddDate(0, 0, -days))
	return nil
}

func (d *derivedSteps) pendingRecomputesHaveFinished() error {
	srv, err := d.server()
	if err != nil {
		return err
	}
	srv.Service.Wait()
	return nil
}

func (d *derivedSteps) workerRunsOnce() error {
	srv, err := d.server()
	if err != nil {
		return err
	}
	stats := service.NewWorker(srv.Service).RunOnce(context.Background())
	d.s.Variables["worker"] = map[string]interface{}{
		"scopes":     stats.Scopes,
		"recomputed": stats.Recomputed,
		"superseded": stats.Superseded,
		"failed":     stats.Failed,
	}
	if stats.Failed > 0 {
		return fmt.Errorf("worker failed %d of %d scopes", stats.Failed, stats.Scopes)
	}
	return nil
}

func (d *derivedSteps) markStale(ranges string) error {
	srv, err := d.server()
	if err != nil {
		return err
	}
	userID, err := d.user()
	if err != nil {
		return err
	}
	var keys []model.RangeKey
	for _, r := range strings.Split(ranges, ",") {
		keys = append(keys, model.RangeKey(strings.TrimSpace(r)))
	}
	return srv.Service.MarkStale(context.Background(), userID, keys, "")
}

func (d *derivedSteps) storeScope(rangeKey, kind, as string) error {
	srv, err := d.server()
	if err != nil {
		return err
	}
	userID, err := d.user()
	if err != nil {
		return err
	}
	scope, err := srv.Service.Store().GetScope(context.Background(), userID, model.RangeKey(rangeKey), model.DerivedKind(kind))
	if err != nil {
		return err
	}
	if scope == nil {
		return fmt.Errorf("no %s scope for %s/%s", kind, userID, rangeKey)
	}
	data, err := json.Marshal(scope)
	if err != nil {
		return err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	d.s.Variables[as] = doc
	return nil
}

func (d *derivedSteps) variableShouldBe(name, expected string) error {
	actual, err := d.s.ResolveString(name)
	if err != nil {
		return err
	}
	expected, err = d.s.Expand(expected)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("${%s}: expected %q, got %q", name, expected, actual)
	}
	return nil
}
