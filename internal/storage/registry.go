package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Options carries everything a backend factory may need. Each backend reads
// only the fields that apply to it.
type Options struct {
	// DBPath is the SQLite file of the local backend.
	DBPath string
	// Addr is the daemon address of the remote backends.
	Addr string
	// Root namespaces every key of a remote backend.
	Root string
	// Timeout applies per request when non-zero.
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  logr.Logger
}

// Factory is a build-time plugin that can open a Backend.
//
// Backends register themselves in init():
//
//	storage.MustRegister(storage.Factory{ ... })
//
// The binary must import the backend package for registration to occur.
type Factory struct {
	Name        string
	Description string
	// Shared marks backends visible to every device, as opposed to device-local ones.
	Shared bool
	// Open constructs the backend. It returns an optional close function.
	Open func(Options) (Backend, func() error, error)
}

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend factory.
func Register(f Factory) error {
	if f.Name == "" {
		return fmt.Errorf("storage: backend name is required")
	}
	if f.Open == nil {
		return fmt.Errorf("storage: backend %q missing Open", f.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[f.Name]; exists {
		return fmt.Errorf("storage: backend %q already registered", f.Name)
	}
	factories[f.Name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(f Factory) {
	if err := Register(f); err != nil {
		panic(err)
	}
}

// List returns registered factories sorted by name.
func List() []Factory {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Factory, 0, len(factories))
	for _, f := range factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered backend names, sorted.
func Names() []string {
	fs := List()
	n := make([]string, 0, len(fs))
	for _, f := range fs {
		n = append(n, f.Name)
	}
	return n
}

// Lookup returns the named factory.
func Lookup(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Open opens the named backend.
func Open(name string, opts Options) (Backend, func() error, error) {
	f, ok := Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown backend %q (registered: %v)", name, Names())
	}
	b, closeFn, err := f.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open backend %q: %w", name, err)
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return b, closeFn, nil
}
