// Package fib defines the contract between the RIB engine and the
// forwarding-plane adapter, plus the adapters used by the daemon and the
// tests. The engine only ever hands over winning routes; an adapter
// failure is reported back per route and never rolls the RIB back.
package fib

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/routesmith/ribd/state"
)

// Route is one programmed (destination, source) route with its flattened
// nexthop set; an ECMP group arrives as a single Route.
type Route struct {
	Vrf      string
	Prefix   state.Prefix
	Nexthops []state.Nexthop
}

func (r Route) String() string {
	var nhs []string
	for _, nh := range r.Nexthops {
		nhs = append(nhs, nh.String())
	}
	return fmt.Sprintf("vrf %s %s %s", r.Vrf, r.Prefix, strings.Join(nhs, ", "))
}

// Adapter programs the forwarding plane. Install replaces any previous
// route for the same (vrf, prefix); Uninstall removes it. Both are called
// synchronously inside the change cascade and must not call back into the
// engine.
type Adapter interface {
	Install(route Route) error
	Uninstall(vrf string, prefix state.Prefix) error
}

// Discard drops everything. Used when the engine runs without a
// forwarding plane.
type Discard struct{}

func (Discard) Install(Route) error                  { return nil }
func (Discard) Uninstall(string, state.Prefix) error { return nil }

// Logger renders every programming operation through slog. The daemon
// runs with it when no kernel adapter is wired in.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Install(route Route) error {
	l.Log.Info("fib install", "vrf", route.Vrf, "prefix", route.Prefix, "nexthops", len(route.Nexthops))
	return nil
}

func (l Logger) Uninstall(vrf string, prefix state.Prefix) error {
	l.Log.Info("fib uninstall", "vrf", vrf, "prefix", prefix)
	return nil
}
