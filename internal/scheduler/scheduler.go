package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Updater is advanced once per frame. It returns the number of completed
// operations delivered during the frame.
type Updater interface {
	Update() int
}

// UpdaterFunc adapts a function to Updater.
type UpdaterFunc func() int

func (f UpdaterFunc) Update() int { return f() }

// Stats is a snapshot of frame loop activity.
type Stats struct {
	Running   bool          `json:"running"`
	Frames    uint64        `json:"frames"`
	Delivered uint64        `json:"delivered"`
	Interval  time.Duration `json:"interval"`
	LastFrame time.Time     `json:"last_frame,omitempty"`
}

// Scheduler calls an Updater on a fixed interval from its own goroutine.
type Scheduler struct {
	updater Updater
	config  *Config
	log     logr.Logger

	mu        sync.Mutex
	running   bool
	frames    uint64
	delivered uint64
	lastFrame time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new frame loop.
func New(u Updater, cfg *Config, log logr.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		updater: u,
		config:  cfg,
		log:     log.WithName("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the frame loop. Calling Start on a running loop is a no-op.
func (sch *Scheduler) Start() {
	sch.mu.Lock()
	if sch.running || sch.ctx.Err() != nil {
		sch.mu.Unlock()
		return
	}
	sch.running = true
	sch.mu.Unlock()

	sch.wg.Add(1)
	go sch.frameLoop()
	sch.log.Info("Frame loop started", "interval", sch.config.GetFrameInterval())
}

// Stop stops the loop and waits for the frame in progress to finish.
// A stopped scheduler cannot be restarted.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()

	sch.mu.Lock()
	wasRunning := sch.running
	sch.running = false
	sch.mu.Unlock()
	if wasRunning {
		sch.log.Info("Frame loop stopped")
	}
}

func (sch *Scheduler) frameLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.GetFrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.frame()
		}
	}
}

// frame runs one update.
func (sch *Scheduler) frame() {
	n := sch.updater.Update()

	sch.mu.Lock()
	sch.frames++
	sch.delivered += uint64(n)
	sch.lastFrame = time.Now()
	sch.mu.Unlock()

	if n > 0 {
		sch.log.V(1).Info("Delivered completed operations", "count", n)
	}
}

// Stats returns current frame loop statistics.
func (sch *Scheduler) Stats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	return Stats{
		Running:   sch.running,
		Frames:    sch.frames,
		Delivered: sch.delivered,
		Interval:  sch.config.GetFrameInterval(),
		LastFrame: sch.lastFrame,
	}
}
