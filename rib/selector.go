package rib

import (
	"slices"

	"github.com/routesmith/ribd/state"
)

// compareEntries is the strict selection order: route-source rank, then
// administrative distance, then metric, then protocol numeric id and
// instance id as the deterministic final tie-break. Selection is a pure
// function of the candidate set, never of submission history.
func (o *Options) compareEntries(a, b *state.RouteEntry) int {
	if ra, rb := o.rank(a.Owner.Proto), o.rank(b.Owner.Proto); ra != rb {
		return ra - rb
	}
	if a.Distance != b.Distance {
		return int(a.Distance) - int(b.Distance)
	}
	if a.Metric != b.Metric {
		if a.Metric < b.Metric {
			return -1
		}
		return 1
	}
	if a.Owner.Proto != b.Owner.Proto {
		return int(a.Owner.Proto) - int(b.Owner.Proto)
	}
	return int(a.Owner.Instance) - int(b.Owner.Instance)
}

// selectBest picks the winning entries among the candidates of one
// (destination, source) group. Ineligible entries (no active nexthop)
// never win but stay stored, so a topology change can revive them without
// resubmission. Equal-cost entries of a multipath-capable protocol are
// returned together as an ECMP group, capped at MaxEcmp.
func (r *RIB) selectBest(candidates []*state.RouteEntry) []*state.RouteEntry {
	eligible := make([]*state.RouteEntry, 0, len(candidates))
	for _, re := range candidates {
		if re.Eligible() {
			eligible = append(eligible, re)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	slices.SortStableFunc(eligible, r.opts.compareEntries)

	best := eligible[0]
	if !r.opts.multipath(best.Owner.Proto) {
		return eligible[:1]
	}
	group := eligible[:1]
	for _, re := range eligible[1:] {
		if len(group) >= r.opts.MaxEcmp {
			break
		}
		if re.Owner.Proto != best.Owner.Proto ||
			re.Distance != best.Distance || re.Metric != best.Metric {
			break
		}
		group = append(group, re)
	}
	return group
}
