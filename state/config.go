package state

import (
	"fmt"
	"net/netip"
	"time"
)

// StaticRouteCfg is one statically configured route inside a VRF. Exactly
// one of Via/Dev (possibly combined), Blackhole or Reject describes the
// nexthop; Via without Dev is resolved recursively.
type StaticRouteCfg struct {
	Prefix    string      `yaml:"prefix"`
	Via       *netip.Addr `yaml:"via,omitempty"`
	Dev       string      `yaml:"dev,omitempty"`
	Blackhole bool        `yaml:"blackhole,omitempty"`
	Reject    bool        `yaml:"reject,omitempty"`
	OnLink    bool        `yaml:"onlink,omitempty"`
	Distance  *uint8      `yaml:"distance,omitempty"`
	Metric    uint32      `yaml:"metric,omitempty"`
	Tag       uint32      `yaml:"tag,omitempty"`
	Safi      string      `yaml:"safi,omitempty"` // unicast (default) or multicast
}

// Nexthop builds the configured nexthop.
func (s *StaticRouteCfg) Nexthop() (Nexthop, error) {
	switch {
	case s.Blackhole:
		return Nexthop{Kind: NexthopBlackhole}, nil
	case s.Reject:
		return Nexthop{Kind: NexthopReject}, nil
	case s.Via != nil && s.Dev != "":
		return Nexthop{Kind: NexthopGatewayIfindex, Gateway: *s.Via, Ifname: s.Dev, OnLink: s.OnLink}, nil
	case s.Via != nil:
		return Nexthop{Kind: NexthopGateway, Gateway: *s.Via}, nil
	case s.Dev != "":
		return Nexthop{Kind: NexthopIfindex, Ifname: s.Dev}, nil
	}
	return Nexthop{}, fmt.Errorf("static route %s has no nexthop", s.Prefix)
}

// InterfaceCfg mirrors the state of one link into a VRF.
type InterfaceCfg struct {
	Name      string         `yaml:"name"`
	Up        bool           `yaml:"up"`
	Addresses []netip.Prefix `yaml:"addresses,omitempty"`
}

// VrfCfg declares one virtual routing domain.
type VrfCfg struct {
	Name       string           `yaml:"name"`
	Interfaces []InterfaceCfg   `yaml:"interfaces,omitempty"`
	Static     []StaticRouteCfg `yaml:"static,omitempty"`
	RPFMode    string           `yaml:"rpf_mode,omitempty"`
}

// Config is the full daemon configuration. Selector policy knobs live
// here rather than in package-level state so tests can run engines with
// different policies side by side.
type Config struct {
	Vrfs []VrfCfg `yaml:"vrfs"`

	// Ecmp caps the installed multipath group size. Zero means the
	// default.
	Ecmp int `yaml:"ecmp,omitempty"`
	// Multipath names the protocols whose equal-cost entries form an
	// ECMP group. Empty means the default set (static, bgp).
	Multipath []string `yaml:"multipath,omitempty"`
	// TypeRank overrides the selector's route-source ranking per
	// protocol name.
	TypeRank map[string]int `yaml:"type_rank,omitempty"`

	// FibRetry is how long a failed install is left alone before the
	// retry task re-attempts it. Zero means the default.
	FibRetry time.Duration `yaml:"fib_retry,omitempty"`

	LogPath string `yaml:"log_path,omitempty"`
}

// DefaultVrfName is the VRF used when a producer does not name one.
const DefaultVrfName = "default"
