package state

import "fmt"

// Afi is an address family identifier.
type Afi uint8

const (
	AfiIPv4 Afi = iota + 1
	AfiIPv6
)

func (a Afi) String() string {
	switch a {
	case AfiIPv4:
		return "ipv4"
	case AfiIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("afi(%d)", uint8(a))
}

// Safi distinguishes the route tables kept per address family.
type Safi uint8

const (
	SafiUnicast Safi = iota + 1
	SafiMulticast
)

func (s Safi) String() string {
	switch s {
	case SafiUnicast:
		return "unicast"
	case SafiMulticast:
		return "multicast"
	}
	return fmt.Sprintf("safi(%d)", uint8(s))
}

// Protocol identifies the route source that owns an entry. The numeric
// values are part of the deterministic selector tie-break, so they are
// stable and ordered.
type Protocol uint8

const (
	ProtoSystem Protocol = iota
	ProtoKernel
	ProtoConnected
	ProtoStatic
	ProtoRIP
	ProtoOSPF
	ProtoISIS
	ProtoBGP
	protoMax
)

var protoNames = map[Protocol]string{
	ProtoSystem:    "system",
	ProtoKernel:    "kernel",
	ProtoConnected: "connected",
	ProtoStatic:    "static",
	ProtoRIP:       "rip",
	ProtoOSPF:      "ospf",
	ProtoISIS:      "isis",
	ProtoBGP:       "bgp",
}

func (p Protocol) String() string {
	if n, ok := protoNames[p]; ok {
		return n
	}
	return fmt.Sprintf("proto(%d)", uint8(p))
}

// Marker returns the single-letter tag used when rendering a route table.
func (p Protocol) Marker() byte {
	switch p {
	case ProtoSystem, ProtoKernel:
		return 'K'
	case ProtoConnected:
		return 'C'
	case ProtoStatic:
		return 'S'
	case ProtoRIP:
		return 'R'
	case ProtoOSPF:
		return 'O'
	case ProtoISIS:
		return 'I'
	case ProtoBGP:
		return 'B'
	}
	return '?'
}

// ParseProtocol maps a config name back to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	for p, n := range protoNames {
		if n == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// DefaultDistance is the administrative distance used when a producer
// submits without an explicit one.
func DefaultDistance(p Protocol) uint8 {
	switch p {
	case ProtoSystem, ProtoKernel, ProtoConnected:
		return 0
	case ProtoStatic:
		return 1
	case ProtoBGP:
		return 20 // eBGP; iBGP producers submit 200 explicitly
	case ProtoOSPF:
		return 110
	case ProtoISIS:
		return 115
	case ProtoRIP:
		return 120
	}
	return 255
}

// DefaultTypeRank is the selector's first criterion: a total order over
// route sources consulted before distance. Connected beats everything,
// kernel-injected routes beat protocol routes.
func DefaultTypeRank(p Protocol) int {
	switch p {
	case ProtoConnected:
		return 0
	case ProtoSystem, ProtoKernel:
		return 1
	}
	return 2
}

// RPFMode selects which tables a multicast reverse-path lookup consults.
type RPFMode uint8

const (
	RPFUnicastOnly RPFMode = iota
	RPFMulticastOnly
	RPFMulticastThenUnicast
	RPFLowerDistance
	RPFLongerPrefix
)

var rpfNames = map[RPFMode]string{
	RPFUnicastOnly:          "urib-only",
	RPFMulticastOnly:        "mrib-only",
	RPFMulticastThenUnicast: "mrib-then-urib",
	RPFLowerDistance:        "lower-distance",
	RPFLongerPrefix:         "longer-prefix",
}

func (m RPFMode) String() string {
	if n, ok := rpfNames[m]; ok {
		return n
	}
	return fmt.Sprintf("rpf(%d)", uint8(m))
}

func ParseRPFMode(s string) (RPFMode, error) {
	for m, n := range rpfNames {
		if n == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown rpf lookup mode %q", s)
}

const (
	// MaxResolveDepth bounds a recursive nexthop resolution chain.
	MaxResolveDepth = 8
	// DefaultMaxEcmp caps the size of an installed multipath group.
	DefaultMaxEcmp = 16
)
