package tui

import (
	"context"
	"time"

	"github.com/marimax/cloudanchor/internal/controlplane"
)

// HealthChecker reports whether the shared store daemon is reachable.
type HealthChecker interface {
	Health(ctx context.Context) (*controlplane.HealthResponse, error)
}

// Options configures an App.
type Options struct {
	// Backend names the storage backend the session allocates codes from.
	Backend string
	// FrameInterval is how often Session.Update runs.
	FrameInterval time.Duration
	// Daemon is polled for the header status. Nil hides the indicator.
	Daemon HealthChecker
}

type frameMsg time.Time

type daemonStatusMsg struct {
	online bool
}

type daemonTickMsg time.Time

const (
	modeScene   = "scene"
	modeResolve = "resolve"

	// maxCodeDigits caps the resolve dialog input.
	maxCodeDigits = 6

	daemonPollInterval = 5 * time.Second
)
