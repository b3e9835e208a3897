package projection

import (
	"fmt"

	"github.com/syncline-io/syncline/internal/eventbus"
	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/readmodel"
)

// Registry holds the wired projection lifecycles, keyed by projection name.
type Registry struct {
	lifecycles map[string]*Lifecycle
	order      []string
}

// Get returns the lifecycle for a projection name.
func (r *Registry) Get(name string) (*Lifecycle, bool) {
	lc, ok := r.lifecycles[name]
	return lc, ok
}

// Names returns projection names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Bootstrap instantiates every projection variant and subscribes each one's
// live handler to all of its declared event types. Pure wiring: it must run
// exactly once per process, before any event is published. A projection
// declaring no subscriptions is a construction error, fatal at startup.
func Bootstrap(bus *eventbus.Bus, store eventstore.Store, docs readmodel.Store, logger *logging.Logger) (*Registry, error) {
	projections := []Projection{
		NewUserProfile(docs),
		NewOpportunity(docs),
		NewAccessMatrix(docs),
		NewDashboardMetrics(docs),
	}

	registry := &Registry{lifecycles: make(map[string]*Lifecycle, len(projections))}

	for _, proj := range projections {
		types := proj.SubscribesTo()
		if len(types) == 0 {
			return nil, fmt.Errorf("projection %s declares no event subscriptions", proj.Name())
		}
		if _, dup := registry.lifecycles[proj.Name()]; dup {
			return nil, fmt.Errorf("duplicate projection name %s", proj.Name())
		}

		lc := NewLifecycle(proj, store, logger)
		for _, et := range types {
			bus.Subscribe(et, lc.HandleLive)
		}

		registry.lifecycles[proj.Name()] = lc
		registry.order = append(registry.order, proj.Name())
	}

	return registry, nil
}
