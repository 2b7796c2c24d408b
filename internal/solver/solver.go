// Package solver defines the solve contract shared by the in-process
// annealer and the cloud adapters, plus the registry the service picks
// backends from by name.
package solver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spectrumlab/unfold-engine/internal/qubo"
)

// Options carries per-solve tuning. Not every backend honors every field:
// the local annealer uses NumReads and Seed, the hybrid service only
// TimeLimit, the QPU NumReads but never a seed.
type Options struct {
	NumReads  int
	Seed      int64
	HasSeed   bool
	TimeLimit time.Duration
}

// Result is the raw outcome of one solve: the best labeled sample found and
// its energy under the submitted model. Reads reports how many annealing
// reads (or remote samples) were taken to produce it.
type Result struct {
	Sample map[string]int
	Energy float64
	Reads  int
}

// Backend solves a compiled binary model. Implementations do not retry;
// failures wrap the backend name and propagate to the caller.
type Backend interface {
	Name() string
	Solve(ctx context.Context, m *qubo.BinaryModel, opts Options) (Result, error)
}

// Registry maps backend names to implementations. The local annealer is
// always registered; cloud adapters join only when the remote client is
// configured and reachable.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces a backend under its own name.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Get looks up a backend by name. An unknown name is a caller error, not a
// solve failure.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, r.names())
	}
	return b, nil
}

// List returns the registered backend names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
