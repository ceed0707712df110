package rib

import (
	"fmt"
	"net/netip"

	"github.com/routesmith/ribd/state"
)

// Notification tells a tracking consumer how the reachability of its
// address changed.
type Notification struct {
	Vrf  string
	Addr netip.Addr
	// Resolved is false when no selected route covers the address.
	Resolved bool
	// Prefix is the covering route when resolved.
	Prefix netip.Prefix
	// Nexthops is the winner's flattened active nexthop set.
	Nexthops []state.Nexthop
}

// TrackFn is invoked synchronously inside the change cascade, under the
// VRF lock. Implementations must not call back into the engine.
type TrackFn func(Notification)

type watcher struct {
	id   uint64
	addr netip.Addr
	fn   TrackFn
	// last is the previously delivered state, diffed against so a
	// watcher hears about each observable change exactly once.
	last *Notification
}

// TrackNexthop registers interest in the reachability of addr inside a
// VRF. The callback fires once immediately with the current state, then
// on every change. The returned id cancels the registration.
func (r *RIB) TrackNexthop(vrfName string, addr netip.Addr, fn TrackFn) (uint64, error) {
	if !addr.IsValid() {
		return 0, fmt.Errorf("%w: invalid address", ErrBadPrefix)
	}
	v, err := r.vrf(vrfName)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextWatch++
	w := &watcher{id: v.nextWatch, addr: addr, fn: fn}
	v.watchers[w.id] = w
	v.notifyWatcher(w)
	return w.id, nil
}

// UntrackNexthop cancels a registration.
func (r *RIB) UntrackNexthop(vrfName string, id uint64) error {
	v, err := r.vrf(vrfName)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.watchers[id]; !ok {
		return fmt.Errorf("%w: no watcher %d", ErrNotFound, id)
	}
	delete(v.watchers, id)
	return nil
}

// watcherState computes what w should currently observe.
func (v *Vrf) watcherState(w *watcher) Notification {
	n := Notification{Vrf: v.name, Addr: w.addr}
	afi := state.AfiIPv4
	if !w.addr.Is4() {
		afi = state.AfiIPv6
	}
	tbl := v.table(tableKey{afi, state.SafiUnicast})
	id, ok := tbl.Match(w.addr)
	if !ok {
		return n
	}
	sl, _ := tbl.Value(id)
	for _, re := range sl.entries {
		if re.Selected {
			n.Nexthops = append(n.Nexthops, re.ActiveNexthops()...)
		}
	}
	if len(n.Nexthops) == 0 {
		return n
	}
	n.Resolved = true
	n.Prefix = tbl.Prefix(id)
	return n
}

func sameNotification(a, b *Notification) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Resolved != b.Resolved || a.Prefix != b.Prefix || len(a.Nexthops) != len(b.Nexthops) {
		return false
	}
	for i := range a.Nexthops {
		if !a.Nexthops[i].Equal(b.Nexthops[i]) {
			return false
		}
	}
	return true
}

// notifyWatcher delivers the current state to w if it differs from what
// w last heard.
func (v *Vrf) notifyWatcher(w *watcher) {
	cur := v.watcherState(w)
	if sameNotification(w.last, &cur) {
		return
	}
	w.last = &cur
	v.log.Debug("nexthop tracking notify", "addr", w.addr, "resolved", cur.Resolved, "prefix", cur.Prefix)
	w.fn(cur)
}

// notifyWatchers runs at the end of every cascade.
func (v *Vrf) notifyWatchers() {
	for _, w := range v.watchers {
		v.notifyWatcher(w)
	}
}
