// Package widget implements the Widget capability spec.md's REDESIGN
// FLAGS §9 calls for: reshaping the source's duck-typed "widget" classes
// with ad-hoc update() methods into a closed set of concrete types
// sharing one small interface, registered in code at startup rather than
// loaded from disk by name.
package widget

// Widget is one dashboard tile's data source. Concrete implementations
// wrap an existing collaborator (health.Collector, tilecache.Cache, ...)
// rather than owning state themselves.
type Widget interface {
	// Name is the stable identifier used by GET /api/widgets and the
	// widget_* config allow-list.
	Name() string
	// Snapshot returns the tile's current data, JSON-serializable as-is.
	Snapshot() any
}

// Registry is the static set of widgets registered in code via Register.
// Extending the dashboard means adding a Register call, not loading a
// plugin from an operator-supplied path.
var registry []Widget

// Register adds w to the static registry. The daemon calls it while
// wiring its collaborators, before the HTTP server starts serving.
func Register(w Widget) {
	registry = append(registry, w)
}

// Names returns every registered widget's name, in registration order.
func Names() []string {
	names := make([]string, len(registry))
	for i, w := range registry {
		names[i] = w.Name()
	}
	return names
}

// Snapshot returns the current data for the named widget, or (nil,
// false) if no widget by that name is registered.
func Snapshot(name string) (any, bool) {
	for _, w := range registry {
		if w.Name() == name {
			return w.Snapshot(), true
		}
	}
	return nil, false
}

// FuncWidget adapts a plain name + snapshot function to the Widget
// interface, for collaborators that already expose what a widget needs
// without a dedicated wrapper type.
type FuncWidget struct {
	WidgetName string
	SnapshotFn func() any
}

func (f FuncWidget) Name() string   { return f.WidgetName }
func (f FuncWidget) Snapshot() any  { return f.SnapshotFn() }
