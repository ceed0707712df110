package state

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// NexthopKind tells how a packet matching the owning route is forwarded.
type NexthopKind uint8

const (
	// NexthopIfindex forwards out an interface with no gateway (p2p,
	// connected).
	NexthopIfindex NexthopKind = iota + 1
	// NexthopGateway forwards via a gateway that must itself be resolved
	// against the unicast table (recursive).
	NexthopGateway
	// NexthopGatewayIfindex forwards via a gateway out a named interface.
	NexthopGatewayIfindex
	// NexthopBlackhole silently discards.
	NexthopBlackhole
	// NexthopReject discards and answers with an ICMP unreachable.
	NexthopReject
)

// Nexthop is one forwarding instruction of a route entry. It is owned by
// exactly one entry and never shared. Resolution state lives here: Active
// is recomputed by the resolver on every cascade, and Resolved carries the
// flattened chain a recursive gateway resolved through.
type Nexthop struct {
	Kind    NexthopKind
	Gateway netip.Addr
	Ifname  string
	// OnLink asserts the gateway is directly reachable on Ifname even
	// without a covering connected route.
	OnLink bool

	Active   bool
	Resolved []Nexthop
	// Depth counts how many recursive resolutions produced this element
	// of a flattened chain; the resolver bounds it.
	Depth uint8
}

func (nh Nexthop) Recursive() bool {
	return nh.Kind == NexthopGateway
}

// Equal compares forwarding identity, ignoring resolution state.
func (nh Nexthop) Equal(o Nexthop) bool {
	return nh.Kind == o.Kind && nh.Gateway == o.Gateway &&
		nh.Ifname == o.Ifname && nh.OnLink == o.OnLink
}

func (nh Nexthop) String() string {
	switch nh.Kind {
	case NexthopIfindex:
		return fmt.Sprintf("dev %s", nh.Ifname)
	case NexthopGateway:
		return fmt.Sprintf("via %s", nh.Gateway)
	case NexthopGatewayIfindex:
		return fmt.Sprintf("via %s dev %s", nh.Gateway, nh.Ifname)
	case NexthopBlackhole:
		return "blackhole"
	case NexthopReject:
		return "reject"
	}
	return "invalid"
}

// FibStatus reports what the forwarding plane knows about a selected route.
type FibStatus uint8

const (
	FibNone FibStatus = iota
	FibPending
	FibInstalled
	FibFailed
)

func (s FibStatus) String() string {
	switch s {
	case FibNone:
		return "none"
	case FibPending:
		return "pending"
	case FibInstalled:
		return "installed"
	case FibFailed:
		return "failed"
	}
	return "invalid"
}

// Owner is the identity a producer must keep stable across submissions;
// a second submit with the same owner for the same prefix replaces the
// previous entry.
type Owner struct {
	Proto    Protocol
	Instance uint16
}

func (o Owner) String() string {
	if o.Instance == 0 {
		return o.Proto.String()
	}
	return fmt.Sprintf("%s[%d]", o.Proto, o.Instance)
}

// RouteEntry is one candidate route for a prefix. Entries live in the
// per-node store and are mutated only under the owning VRF's lock.
type RouteEntry struct {
	Prefix   Prefix
	Owner    Owner
	Distance uint8
	Metric   uint32
	Tag      uint32
	Uptime   time.Time

	Nexthops []Nexthop

	Selected bool
	Fib      FibStatus
}

// Eligible reports whether the entry may be considered by the selector:
// at least one of its nexthops resolved active.
func (re *RouteEntry) Eligible() bool {
	for i := range re.Nexthops {
		if re.Nexthops[i].Active {
			return true
		}
	}
	return false
}

// ActiveNexthops returns the flattened forwarding set of the entry:
// resolved chains are substituted for their recursive gateways.
func (re *RouteEntry) ActiveNexthops() []Nexthop {
	var out []Nexthop
	for _, nh := range re.Nexthops {
		if !nh.Active {
			continue
		}
		if nh.Recursive() && len(nh.Resolved) > 0 {
			out = append(out, nh.Resolved...)
			continue
		}
		out = append(out, nh)
	}
	return out
}

// SameContent reports whether a resubmission carries identical routing
// content, in which case the entry's uptime is preserved.
func (re *RouteEntry) SameContent(o *RouteEntry) bool {
	if re.Distance != o.Distance || re.Metric != o.Metric || re.Tag != o.Tag {
		return false
	}
	if len(re.Nexthops) != len(o.Nexthops) {
		return false
	}
	for i := range re.Nexthops {
		if !re.Nexthops[i].Equal(o.Nexthops[i]) {
			return false
		}
	}
	return true
}

func (re *RouteEntry) String() string {
	var nhs []string
	for _, nh := range re.Nexthops {
		nhs = append(nhs, nh.String())
	}
	return fmt.Sprintf("%s %s [%d/%d] %s",
		re.Owner, re.Prefix, re.Distance, re.Metric, strings.Join(nhs, ", "))
}

// Interface is the link state the resolver consults. Interface lifecycle
// itself is owned by an external collaborator; the engine only mirrors
// what it is told.
type Interface struct {
	Name      string
	Index     int
	Up        bool
	Addresses []netip.Prefix
}

// Covers reports whether addr falls inside one of the interface's
// configured subnets.
func (ifc *Interface) Covers(addr netip.Addr) bool {
	for _, p := range ifc.Addresses {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
