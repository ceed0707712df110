package rib

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/routesmith/ribd/state"
	"github.com/routesmith/ribd/table"
)

// RouteDetail is the read-only per-node view handed to the presentation
// layer. Entries are deep copies; mutating them does not reach the RIB.
type RouteDetail struct {
	Prefix  netip.Prefix
	Entries []state.RouteEntry
}

func copyEntry(re *state.RouteEntry) state.RouteEntry {
	out := *re
	out.Nexthops = make([]state.Nexthop, len(re.Nexthops))
	for i, nh := range re.Nexthops {
		nh.Resolved = append([]state.Nexthop(nil), nh.Resolved...)
		out.Nexthops[i] = nh
	}
	return out
}

// Walk iterates the (afi, safi) table of a VRF in prefix order, invoking
// fn per populated node until it returns false. Iteration holds a
// reference only on the current node, so mutations dispatched between
// steps proceed normally.
func (r *RIB) Walk(vrfName string, afi state.Afi, safi state.Safi, fn func(RouteDetail) bool) error {
	v, err := r.vrf(vrfName)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	tbl := v.table(tableKey{afi, safi})
	id, ok := tbl.FirstValued()
	for ok {
		sl, _ := tbl.Value(id)
		detail := RouteDetail{Prefix: tbl.Prefix(id)}
		for _, re := range sl.entries {
			detail.Entries = append(detail.Entries, copyEntry(re))
		}
		if !fn(detail) {
			// drop the walk's reference before bailing
			tbl.Unlock(id)
			return nil
		}
		id, ok = tbl.NextValued(id)
	}
	return nil
}

// Walker iterates a table one node at a time, taking the VRF lock only
// for the duration of each step. Between steps it holds a reference on
// the current node alone, so mutations interleave freely: the reference
// keeps the node reachable and the successor is recomputed from live
// parent links.
type Walker struct {
	v       *Vrf
	key     tableKey
	id      table.NodeID
	ok      bool
	started bool
}

// Walker returns a step-wise iterator over the (afi, safi) table of a
// VRF. Callers must Close a walker they abandon before exhaustion.
func (r *RIB) Walker(vrfName string, afi state.Afi, safi state.Safi) (*Walker, error) {
	v, err := r.vrf(vrfName)
	if err != nil {
		return nil, err
	}
	return &Walker{v: v, key: tableKey{afi, safi}}, nil
}

// Next advances to the next populated node and returns its detail.
func (w *Walker) Next() (RouteDetail, bool) {
	w.v.mu.Lock()
	defer w.v.mu.Unlock()
	tbl := w.v.table(w.key)
	if !w.started {
		w.started = true
		w.id, w.ok = tbl.FirstValued()
	} else if w.ok {
		w.id, w.ok = tbl.NextValued(w.id)
	}
	if !w.ok {
		return RouteDetail{}, false
	}
	sl, _ := tbl.Value(w.id)
	detail := RouteDetail{Prefix: tbl.Prefix(w.id)}
	for _, re := range sl.entries {
		detail.Entries = append(detail.Entries, copyEntry(re))
	}
	return detail, true
}

// Close releases the reference held on the current node.
func (w *Walker) Close() {
	w.v.mu.Lock()
	defer w.v.mu.Unlock()
	if w.ok {
		w.v.table(w.key).Unlock(w.id)
		w.ok = false
	}
}

func (v *Vrf) lookup(safi state.Safi, addr netip.Addr) (RouteDetail, bool) {
	afi := state.AfiIPv4
	if !addr.Is4() {
		afi = state.AfiIPv6
	}
	tbl := v.table(tableKey{afi, safi})
	id, ok := tbl.Match(addr)
	if !ok {
		return RouteDetail{}, false
	}
	sl, _ := tbl.Value(id)
	detail := RouteDetail{Prefix: tbl.Prefix(id)}
	for _, re := range sl.entries {
		detail.Entries = append(detail.Entries, copyEntry(re))
	}
	return detail, true
}

// Render formats the detail zebra-style, one line per entry:
//
//	S>* 10.0.0.0/8 [1/0] via 10.1.1.254, 00:00:42
func (d RouteDetail) Render() string {
	var b strings.Builder
	for _, re := range d.Entries {
		marker := " "
		if re.Selected {
			marker = ">"
		}
		installed := " "
		if re.Fib == state.FibInstalled {
			installed = "*"
		}
		var nhs []string
		for _, nh := range re.Nexthops {
			s := nh.String()
			if !nh.Active {
				s += " (inactive)"
			}
			nhs = append(nhs, s)
		}
		age := time.Since(re.Uptime).Round(time.Second)
		fmt.Fprintf(&b, "%c%s%s %s [%d/%d] %s, %s\n",
			re.Owner.Proto.Marker(), marker, installed, re.Prefix,
			re.Distance, re.Metric, strings.Join(nhs, ", "), age)
	}
	return b.String()
}
