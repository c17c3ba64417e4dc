package cloudanchor

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/allocator"
	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/registry"
)

// Anchor describes the anchor currently placed in the scene.
type Anchor struct {
	Pose          models.Pose             `json:"pose"`
	State         models.CloudAnchorState `json:"state"`
	CloudAnchorID string                  `json:"cloud_anchor_id,omitempty"`
	Code          models.Code             `json:"code,omitempty"`
	Resolved      bool                    `json:"resolved"`
}

// Snapshot is a point-in-time view of a Session, for rendering.
type Snapshot struct {
	Anchor         *Anchor `json:"anchor,omitempty"`
	ResolveEnabled bool    `json:"resolve_enabled"`
	Pending        int     `json:"pending"`
	Message        string  `json:"message"`
}

// Session is the interactive flow of one device: tap a plane to host an
// anchor and publish its short code, or enter a short code to resolve one.
//
// Store and allocator calls run in background goroutines so Update never
// waits on the network.
type Session struct {
	mu             sync.Mutex
	manager        *Manager
	allocator      *allocator.Allocator
	registry       *registry.Registry
	notifier       *Notifier
	anchor         *Anchor
	resolveEnabled bool
	// generation changes on every clear; background work started earlier
	// does not touch the scene afterwards.
	generation uint64
	wg         sync.WaitGroup
	log        logr.Logger
}

// NewSession creates a session.
func NewSession(m *Manager, a *allocator.Allocator, r *registry.Registry, n *Notifier, log logr.Logger) *Session {
	if n == nil {
		n = NewNotifier(nil, log)
	}
	return &Session{
		manager:        m,
		allocator:      a,
		registry:       r,
		notifier:       n,
		resolveEnabled: true,
		log:            log.WithName("session"),
	}
}

// OnPlaneTap places an anchor at pose and starts hosting it. It is ignored,
// returning false, while an anchor is already in the scene.
func (s *Session) OnPlaneTap(ctx context.Context, pose models.Pose) bool {
	s.mu.Lock()
	if s.anchor != nil {
		s.mu.Unlock()
		return false
	}
	s.anchor = &Anchor{Pose: pose, State: models.StateTaskInProgress}
	s.resolveEnabled = false
	gen := s.generation
	s.mu.Unlock()

	s.notifier.Show("Now hosting an anchor...")
	if _, err := s.manager.HostCloudAnchor(ctx, pose, func(res models.TaskResult) {
		s.onHostedAnchorAvailable(ctx, gen, res)
	}); err != nil {
		s.notifier.Show(fmt.Sprintf("Error while hosting: %v", err))
		s.mu.Lock()
		if gen == s.generation {
			s.anchor = nil
			s.resolveEnabled = true
		}
		s.mu.Unlock()
	}
	return true
}

func (s *Session) onHostedAnchorAvailable(ctx context.Context, gen uint64, res models.TaskResult) {
	if !s.apply(gen, func(a *Anchor) { a.State = res.State }) {
		return
	}
	if res.State != models.StateSuccess {
		s.notifier.Show(fmt.Sprintf("Error while hosting: %s", res.State))
		return
	}

	s.background(func() {
		code, err := s.allocator.NextCode(ctx)
		if err != nil {
			s.notifier.Show(fmt.Sprintf("Unable to get a short code: %v", err))
			return
		}
		if err := s.registry.Store(ctx, code, res.CloudAnchorID); err != nil {
			s.notifier.Show(fmt.Sprintf("Unable to save short code %d: %v", code, err))
			return
		}
		if s.apply(gen, func(a *Anchor) {
			a.CloudAnchorID = res.CloudAnchorID
			a.Code = code
		}) {
			s.notifier.Show(fmt.Sprintf("Cloud anchor hosted. ID: %d", code))
		}
	})
}

// OnShortCodeEntered looks code up and, when found, resolves its anchor.
// It returns false when resolving is currently disabled.
func (s *Session) OnShortCodeEntered(ctx context.Context, code models.Code) bool {
	s.mu.Lock()
	if !s.resolveEnabled {
		s.mu.Unlock()
		return false
	}
	gen := s.generation
	s.mu.Unlock()

	lookup := s.registry.LookupAsync(ctx, code)
	s.background(func() {
		res := <-lookup
		switch {
		case res.Err != nil:
			s.notifier.Show(fmt.Sprintf("Unable to look up short code %d: %v", code, res.Err))
			return
		case !res.Found:
			s.notifier.Show(fmt.Sprintf("A Cloud Anchor ID for the short code %d was not found", code))
			return
		}

		s.mu.Lock()
		if gen != s.generation || !s.resolveEnabled {
			s.mu.Unlock()
			return
		}
		s.resolveEnabled = false
		s.mu.Unlock()

		if _, err := s.manager.ResolveCloudAnchor(ctx, res.AnchorID, func(tr models.TaskResult) {
			s.onResolvedAnchorAvailable(gen, code, tr)
		}); err != nil {
			s.notifier.Show(fmt.Sprintf("Error while resolving anchor with code %d. Error %v", code, err))
			s.enableResolve(gen)
		}
	})
	return true
}

func (s *Session) onResolvedAnchorAvailable(gen uint64, code models.Code, res models.TaskResult) {
	if res.State != models.StateSuccess {
		s.notifier.Show(fmt.Sprintf("Error while resolving anchor with code %d. Error %s", code, res.State))
		s.enableResolve(gen)
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.anchor = &Anchor{
		Pose:          models.IdentityPose(),
		State:         res.State,
		CloudAnchorID: res.CloudAnchorID,
		Code:          code,
		Resolved:      true,
	}
	s.mu.Unlock()
	s.notifier.Show(fmt.Sprintf("Cloud Anchor resolved for %d", code))
}

// OnClear removes the anchor, drops pending callbacks and re-enables resolving.
func (s *Session) OnClear() {
	dropped := s.manager.ClearListeners()

	s.mu.Lock()
	s.anchor = nil
	s.resolveEnabled = true
	s.generation++
	s.mu.Unlock()
	s.log.V(1).Info("Scene cleared", "droppedOperations", dropped)
}

// Update delivers finished operations. Call it once per frame.
func (s *Session) Update() int {
	return s.manager.OnUpdate()
}

// Wait blocks until background store work started so far has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{ResolveEnabled: s.resolveEnabled}
	if s.anchor != nil {
		a := *s.anchor
		snap.Anchor = &a
	}
	s.mu.Unlock()

	snap.Pending = s.manager.Pending()
	snap.Message = s.notifier.Last()
	return snap
}

func (s *Session) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// apply mutates the current anchor if the scene was not cleared since gen.
func (s *Session) apply(gen uint64, fn func(*Anchor)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.anchor == nil {
		return false
	}
	fn(s.anchor)
	return true
}

func (s *Session) enableResolve(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.resolveEnabled = true
	}
}
