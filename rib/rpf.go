package rib

import (
	"net/netip"

	"github.com/routesmith/ribd/state"
)

// RPFLookup finds the route a multicast reverse-path check should use for
// src, consulting the multicast and/or unicast tables according to the
// VRF's configured lookup mode.
func (r *RIB) RPFLookup(vrfName string, src netip.Addr) (RouteDetail, bool) {
	v, err := r.vrf(vrfName)
	if err != nil {
		return RouteDetail{}, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	mrib, mok := v.lookup(state.SafiMulticast, src)
	urib, uok := v.lookup(state.SafiUnicast, src)

	switch v.rpfMode {
	case state.RPFMulticastOnly:
		return mrib, mok
	case state.RPFUnicastOnly:
		return urib, uok
	case state.RPFMulticastThenUnicast:
		if mok {
			return mrib, true
		}
		return urib, uok
	case state.RPFLowerDistance:
		return pickRPF(mrib, mok, urib, uok, func(m, u RouteDetail) bool {
			return bestDistance(m) <= bestDistance(u)
		})
	case state.RPFLongerPrefix:
		return pickRPF(mrib, mok, urib, uok, func(m, u RouteDetail) bool {
			return m.Prefix.Bits() >= u.Prefix.Bits()
		})
	}
	return urib, uok
}

func pickRPF(m RouteDetail, mok bool, u RouteDetail, uok bool, preferM func(m, u RouteDetail) bool) (RouteDetail, bool) {
	switch {
	case mok && uok:
		if preferM(m, u) {
			return m, true
		}
		return u, true
	case mok:
		return m, true
	case uok:
		return u, true
	}
	return RouteDetail{}, false
}

func bestDistance(d RouteDetail) int {
	best := 256
	for _, re := range d.Entries {
		if re.Selected && int(re.Distance) < best {
			best = int(re.Distance)
		}
	}
	return best
}
