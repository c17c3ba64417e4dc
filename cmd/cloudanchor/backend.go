package main

import (
	"context"

	"github.com/marimax/cloudanchor/internal/allocator"
	"github.com/marimax/cloudanchor/internal/cloudanchor"
	"github.com/marimax/cloudanchor/internal/connectors/simulated"
	"github.com/marimax/cloudanchor/internal/registry"
	"github.com/marimax/cloudanchor/internal/storage"
	"github.com/marimax/cloudanchor/internal/tracker"
)

// components bundles what the code, anchor and session commands build on.
type components struct {
	backend   storage.Backend
	allocator *allocator.Allocator
	registry  *registry.Registry
	close     func() error
}

// openComponents opens the backend selected by --backend.
func openComponents() (*components, error) {
	backend, closeFn, err := storage.Open(backendName, cfg.BackendOptions(backendName, logger))
	if err != nil {
		return nil, err
	}
	logger.V(1).Info("Opened storage backend", "backend", backendName)
	return &components{
		backend:   backend,
		allocator: allocator.New(backend, cfg.AllocatorFor(backendName), logger),
		registry:  registry.New(backend, registry.Config{}, logger),
		close:     closeFn,
	}, nil
}

// newSession wires a session to the simulated anchor service. Status
// messages go to sink, which may be nil.
func (c *components) newSession(opts simulated.Options, sink func(string)) *cloudanchor.Session {
	svc := simulated.New(opts, logger)
	manager := cloudanchor.NewManager(svc, tracker.Options{TaskTimeout: cfg.Tracker.TaskTimeout}, logger)
	notifier := cloudanchor.NewNotifier(sink, logger)
	return cloudanchor.NewSession(manager, c.allocator, c.registry, notifier, logger)
}

func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if cfg.Allocator.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, cfg.Allocator.Timeout)
}
