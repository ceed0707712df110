package rib

import (
	"net/netip"
	"slices"

	"github.com/routesmith/ribd/state"
	"github.com/routesmith/ribd/table"
)

// resolveEntry recomputes the resolution state of every nexthop of re.
// Caller holds the VRF lock; ref is the node re lives under, which a
// recursive nexthop may not resolve through.
func (v *Vrf) resolveEntry(ref nodeRef, re *state.RouteEntry) {
	for i := range re.Nexthops {
		nh := &re.Nexthops[i]
		switch nh.Kind {
		case state.NexthopBlackhole, state.NexthopReject:
			// an explicit non-forwarding decision is always resolvable
			nh.Active = true
			nh.Resolved = nil
		case state.NexthopIfindex:
			nh.Active = v.ifaceUp(nh.Ifname)
			nh.Resolved = nil
		case state.NexthopGatewayIfindex:
			nh.Active = v.ifaceUp(nh.Ifname) && (nh.OnLink || v.gatewayOnSubnet(nh.Ifname, nh.Gateway))
			nh.Resolved = nil
		case state.NexthopGateway:
			nh.Active, nh.Resolved = v.resolveRecursive(ref, nh.Gateway)
		default:
			nh.Active = false
			nh.Resolved = nil
		}
	}
}

func (v *Vrf) ifaceUp(name string) bool {
	ifc, ok := v.ifaces[name]
	return ok && ifc.Up
}

func (v *Vrf) gatewayOnSubnet(ifname string, gw netip.Addr) bool {
	ifc, ok := v.ifaces[ifname]
	return ok && ifc.Covers(gw)
}

// resolveRecursive resolves a gateway-only nexthop against the same
// family's unicast table. The chain is walked from scratch on every
// evaluation; stored resolution state of intermediate routes is never
// consulted, so a withdrawn base cannot leave two recursive routes
// propping each other up through remembered chains. Each node is
// consulted at most once per walk and the recursion depth is bounded: a
// gateway more than MaxResolveDepth hops away from a direct nexthop
// resolves inactive, as does any chain that would pass through the
// querying route itself.
func (v *Vrf) resolveRecursive(ref nodeRef, gw netip.Addr) (bool, []state.Nexthop) {
	afi := state.AfiIPv4
	if !gw.Is4() {
		afi = state.AfiIPv6
	}
	key := tableKey{afi, state.SafiUnicast}
	visited := map[table.NodeID]bool{}
	if ref.key == key {
		// a route may not resolve through itself
		visited[ref.id] = true
	}
	chain, ok := v.walkChain(key, gw, visited, 1)
	if !ok {
		return false, nil
	}
	return true, chain
}

// walkChain finds the covering route for gw and turns its winning
// nexthops into flattened forwarding elements, recursing through further
// gateways. visited accumulates every node consulted, which is what
// breaks cycles. A covering route whose nexthops all fail to resolve
// falls back to the next shorter covering prefix.
func (v *Vrf) walkChain(key tableKey, gw netip.Addr, visited map[table.NodeID]bool, depth int) ([]state.Nexthop, bool) {
	if depth > state.MaxResolveDepth {
		return nil, false
	}
	tbl := v.table(key)
	for {
		id, ok := tbl.MatchWhere(gw, func(id table.NodeID) bool {
			if visited[id] {
				return false
			}
			sl, _ := tbl.Value(id)
			return slices.ContainsFunc(sl.entries, func(re *state.RouteEntry) bool { return re.Selected })
		})
		if !ok {
			return nil, false
		}
		visited[id] = true

		sl, _ := tbl.Value(id)
		var chain []state.Nexthop
		for _, cand := range sl.entries {
			if !cand.Selected {
				continue
			}
			for _, under := range cand.Nexthops {
				chain = append(chain, v.resolveUnder(key, gw, under, visited, depth)...)
			}
		}
		if len(chain) > 0 {
			return chain, true
		}
		// unusable winner: retry against the next shorter covering prefix
	}
}

// resolveUnder turns one nexthop of an intermediate route into the
// forwarding elements a recursive gateway inherits from it. Resolving
// through a connected route keeps the gateway and borrows the egress
// interface; resolving through another gateway recurses.
func (v *Vrf) resolveUnder(key tableKey, gw netip.Addr, under state.Nexthop, visited map[table.NodeID]bool, depth int) []state.Nexthop {
	switch under.Kind {
	case state.NexthopBlackhole, state.NexthopReject:
		out := under
		out.Active = true
		out.Resolved = nil
		out.Depth = uint8(depth)
		return []state.Nexthop{out}
	case state.NexthopIfindex:
		if !v.ifaceUp(under.Ifname) {
			return nil
		}
		return []state.Nexthop{{
			Kind:    state.NexthopGatewayIfindex,
			Gateway: gw,
			Ifname:  under.Ifname,
			Active:  true,
			Depth:   uint8(depth),
		}}
	case state.NexthopGatewayIfindex:
		if !v.ifaceUp(under.Ifname) || !(under.OnLink || v.gatewayOnSubnet(under.Ifname, under.Gateway)) {
			return nil
		}
		out := under
		out.Active = true
		out.Resolved = nil
		out.Depth = uint8(depth)
		return []state.Nexthop{out}
	case state.NexthopGateway:
		sub, ok := v.walkChain(key, under.Gateway, visited, depth+1)
		if !ok {
			return nil
		}
		return sub
	}
	return nil
}
