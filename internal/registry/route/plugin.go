package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts a plugin's routes on a gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType selects the server a plugin's routes are mounted on.
type RouteType int

const (
	// RouteTypeMain routes are served on the API listener.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes (health, readiness, metrics) are served on the
	// management listener, or on the API listener when none is configured.
	RouteTypeManagement
)

// Plugin is a self-registering route group. Lower Order mounts first.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

// Loaders returns the loaders of every plugin of the given type, by Order.
func Loaders(t RouteType) []RouterLoader {
	mu.Lock()
	matched := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p.Type == t {
			matched = append(matched, p)
		}
	}
	mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Order < matched[j].Order })
	loaders := make([]RouterLoader, len(matched))
	for i, p := range matched {
		loaders[i] = p.Loader
	}
	return loaders
}

// MainRouteLoaders returns the API listener loaders.
func MainRouteLoaders() []RouterLoader { return Loaders(RouteTypeMain) }

// ManagementRouteLoaders returns the management listener loaders.
func ManagementRouteLoaders() []RouterLoader { return Loaders(RouteTypeManagement) }
