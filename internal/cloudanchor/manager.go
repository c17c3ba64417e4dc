// Package cloudanchor ties the anchor service, the pending-task tracker and
// the short-code registry into the host and resolve flows of one device.
package cloudanchor

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/connectors"
	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/tracker"
)

// Callback receives the outcome of a host or resolve operation.
type Callback func(models.TaskResult)

// Manager submits operations to the anchor service and reports their
// results through callbacks, driven by OnUpdate.
type Manager struct {
	service connectors.AnchorService
	tracker *tracker.Tracker
	log     logr.Logger
}

// NewManager creates a manager over service.
func NewManager(service connectors.AnchorService, opts tracker.Options, log logr.Logger) *Manager {
	return &Manager{
		service: service,
		tracker: tracker.New(service, opts, log),
		log:     log.WithName("manager"),
	}
}

// HostCloudAnchor hosts the anchor at pose. fn runs from a later OnUpdate.
func (m *Manager) HostCloudAnchor(ctx context.Context, pose models.Pose, fn Callback) (models.Handle, error) {
	h, err := m.service.HostCloudAnchor(ctx, pose)
	if err != nil {
		return "", fmt.Errorf("host cloud anchor: %w", err)
	}
	m.track(h, models.TaskKindHost, fn)
	m.log.Info("Hosting cloud anchor", "handle", h, "service", m.service.Name())
	return h, nil
}

// ResolveCloudAnchor resolves cloudAnchorID. fn runs from a later OnUpdate.
func (m *Manager) ResolveCloudAnchor(ctx context.Context, cloudAnchorID string, fn Callback) (models.Handle, error) {
	h, err := m.service.ResolveCloudAnchor(ctx, cloudAnchorID)
	if err != nil {
		return "", fmt.Errorf("resolve cloud anchor: %w", err)
	}
	m.track(h, models.TaskKindResolve, fn)
	m.log.Info("Resolving cloud anchor", "handle", h, "cloudAnchorID", cloudAnchorID)
	return h, nil
}

func (m *Manager) track(h models.Handle, kind models.TaskKind, fn Callback) {
	m.tracker.Track(h, func(h models.Handle, state models.CloudAnchorState) {
		result := models.TaskResult{Handle: h, Kind: kind, State: state}
		if state == models.StateSuccess {
			result.CloudAnchorID = m.service.CloudAnchorID(h)
		}
		if r, ok := m.service.(connectors.Releaser); ok {
			r.Release(h)
		}
		if fn != nil {
			fn(result)
		}
	})
}

// OnUpdate delivers finished operations. Call it once per update cycle.
func (m *Manager) OnUpdate() int {
	return m.tracker.Tick()
}

// ClearListeners drops every pending callback.
func (m *Manager) ClearListeners() int {
	return m.tracker.Clear()
}

// Pending returns the number of operations awaiting delivery.
func (m *Manager) Pending() int {
	return m.tracker.Len()
}
