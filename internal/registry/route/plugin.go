package route

import (
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"
)

// RouterLoader adds routes to a gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType selects the listener a plugin's routes are served on.
type RouteType int

const (
	// RouteTypeMain routes are served on the API listener.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes (probes, metrics) are served on the management
	// listener, or on the API listener when no management port is configured.
	RouteTypeManagement
)

// Plugin is a self-registering set of routes.
type Plugin struct {
	Name   string
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func ofType(t RouteType) []Plugin {
	var out []Plugin
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Names lists the registered plugins of type t in mount order.
func Names(t RouteType) []string {
	var names []string
	for _, p := range ofType(t) {
		names = append(names, p.Name)
	}
	return names
}

// Mount runs every loader of type t against r in Order.
func Mount(r *gin.Engine, t RouteType) error {
	for _, p := range ofType(t) {
		if err := p.Loader(r); err != nil {
			return fmt.Errorf("mount %s routes: %w", p.Name, err)
		}
	}
	return nil
}
