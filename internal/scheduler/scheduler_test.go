package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FrameInterval != 100*time.Millisecond {
		t.Errorf("Expected 100ms frame interval, got %v", cfg.FrameInterval)
	}

	var empty *Config
	if empty.GetFrameInterval() != DefaultFrameInterval {
		t.Errorf("Expected default interval for nil config")
	}
	if (&Config{FrameInterval: -1}).GetFrameInterval() != DefaultFrameInterval {
		t.Errorf("Expected default interval for negative value")
	}
}

func TestFrameLoop_CallsUpdate(t *testing.T) {
	var calls int32
	sch := New(UpdaterFunc(func() int {
		atomic.AddInt32(&calls, 1)
		return 1
	}), &Config{FrameInterval: 5 * time.Millisecond}, logr.Discard())

	sch.Start()
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&calls) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("Update was not called repeatedly")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sch.Stop()

	stats := sch.Stats()
	if stats.Running {
		t.Error("Expected stopped scheduler")
	}
	if stats.Frames < 3 {
		t.Errorf("Expected at least 3 frames, got %d", stats.Frames)
	}
	if stats.Delivered != stats.Frames {
		t.Errorf("Expected delivered (%d) to equal frames (%d)", stats.Delivered, stats.Frames)
	}
	if stats.LastFrame.IsZero() {
		t.Error("Expected last frame time to be set")
	}
}

func TestStop_NoUpdatesAfterReturn(t *testing.T) {
	var calls int32
	sch := New(UpdaterFunc(func() int {
		atomic.AddInt32(&calls, 1)
		return 0
	}), &Config{FrameInterval: time.Millisecond}, logr.Discard())

	sch.Start()
	time.Sleep(20 * time.Millisecond)
	sch.Stop()

	after := atomic.LoadInt32(&calls)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != after {
		t.Errorf("Update called %d times after Stop", got-after)
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	sch := New(UpdaterFunc(func() int { return 0 }), nil, logr.Discard())

	sch.Start()
	sch.Start()
	if !sch.Stats().Running {
		t.Error("Expected running scheduler")
	}
	sch.Stop()
	sch.Stop()

	// Restart after Stop is refused
	sch.Start()
	if sch.Stats().Running {
		t.Error("Expected stopped scheduler to stay stopped")
	}
}
