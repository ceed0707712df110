package fib

import (
	"fmt"
	"sync"

	"github.com/routesmith/ribd/state"
)

// Op is one recorded programming operation.
type Op struct {
	Install bool
	Route   Route
	Vrf     string
	Prefix  state.Prefix
}

// Recorder captures every operation and can be scripted to fail installs
// for chosen prefixes. It stands in for the kernel in tests and in the
// offline check command.
type Recorder struct {
	mu   sync.Mutex
	ops  []Op
	fail map[string]bool

	// routes mirrors what the forwarding plane currently holds.
	routes map[string]Route
}

func NewRecorder() *Recorder {
	return &Recorder{
		fail:   map[string]bool{},
		routes: map[string]Route{},
	}
}

func key(vrf string, pfx state.Prefix) string {
	return fmt.Sprintf("%s|%s", vrf, pfx)
}

// FailInstalls scripts install failures for prefix inside vrf.
func (r *Recorder) FailInstalls(vrf string, pfx state.Prefix, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[key(vrf, pfx)] = fail
}

func (r *Recorder) Install(route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Install: true, Route: route, Vrf: route.Vrf, Prefix: route.Prefix})
	if r.fail[key(route.Vrf, route.Prefix)] {
		return fmt.Errorf("forwarding plane rejected %s", route.Prefix)
	}
	r.routes[key(route.Vrf, route.Prefix)] = route
	return nil
}

func (r *Recorder) Uninstall(vrf string, pfx state.Prefix) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Vrf: vrf, Prefix: pfx})
	delete(r.routes, key(vrf, pfx))
	return nil
}

// Ops returns the recorded operations in order.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Reset clears the recorded operations, keeping the mirrored routes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

// Held returns the route currently programmed for (vrf, prefix).
func (r *Recorder) Held(vrf string, pfx state.Prefix) (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.routes[key(vrf, pfx)]
	return route, ok
}

// Len returns how many routes the forwarding plane currently holds.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}
