package state

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefix(t *testing.T) {
	p, err := ParsePrefix("10.1.2.3/8")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), p.Dst, "host bits are masked off")
	assert.False(t, p.HasSrc())
	assert.Equal(t, AfiIPv4, p.Afi())

	p, err = ParsePrefix("2001:db8::/32 from 2001:db8:f::/48")
	require.NoError(t, err)
	assert.True(t, p.HasSrc())
	assert.Equal(t, AfiIPv6, p.Afi())
	assert.Equal(t, "2001:db8::/32 from 2001:db8:f::/48", p.String())

	_, err = ParsePrefix("10.0.0.0/8 from 2001:db8::/32")
	assert.Error(t, err, "mixed families")
	_, err = ParsePrefix("not-a-prefix")
	assert.Error(t, err)
}

func TestParseProtocolRoundTrip(t *testing.T) {
	for _, name := range []string{"system", "kernel", "connected", "static", "rip", "ospf", "isis", "bgp"} {
		p, err := ParseProtocol(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.String())
	}
	_, err := ParseProtocol("babel")
	assert.Error(t, err)
}

func TestNexthopEqualIgnoresResolutionState(t *testing.T) {
	a := Nexthop{Kind: NexthopGateway, Gateway: netip.MustParseAddr("10.0.0.1")}
	b := a
	b.Active = true
	b.Depth = 3
	b.Resolved = []Nexthop{{Kind: NexthopIfindex, Ifname: "eth0"}}
	assert.True(t, a.Equal(b))

	c := a
	c.OnLink = true
	assert.False(t, a.Equal(c))
}

func TestActiveNexthopsFlattensChains(t *testing.T) {
	re := &RouteEntry{Nexthops: []Nexthop{
		{Kind: NexthopGateway, Gateway: netip.MustParseAddr("10.0.0.1"), Active: true,
			Resolved: []Nexthop{
				{Kind: NexthopGatewayIfindex, Gateway: netip.MustParseAddr("10.0.0.1"), Ifname: "eth0", Depth: 1},
			}},
		{Kind: NexthopGateway, Gateway: netip.MustParseAddr("10.0.0.2")}, // inactive
		{Kind: NexthopBlackhole, Active: true},
	}}
	got := re.ActiveNexthops()
	require.Len(t, got, 2)
	assert.Equal(t, NexthopGatewayIfindex, got[0].Kind, "the chain substitutes for its gateway")
	assert.Equal(t, NexthopBlackhole, got[1].Kind)
	assert.True(t, re.Eligible())
}

func TestStaticRouteCfgNexthop(t *testing.T) {
	gw := netip.MustParseAddr("10.0.0.1")
	cases := []struct {
		name string
		cfg  StaticRouteCfg
		want NexthopKind
	}{
		{"blackhole", StaticRouteCfg{Blackhole: true}, NexthopBlackhole},
		{"reject", StaticRouteCfg{Reject: true}, NexthopReject},
		{"via+dev", StaticRouteCfg{Via: &gw, Dev: "eth0"}, NexthopGatewayIfindex},
		{"via", StaticRouteCfg{Via: &gw}, NexthopGateway},
		{"dev", StaticRouteCfg{Dev: "eth0"}, NexthopIfindex},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nh, err := tc.cfg.Nexthop()
			require.NoError(t, err)
			assert.Equal(t, tc.want, nh.Kind)
		})
	}
	_, err := (&StaticRouteCfg{Prefix: "10.0.0.0/8"}).Nexthop()
	assert.Error(t, err)
}

func TestNameValidator(t *testing.T) {
	assert.NoError(t, NameValidator("vrf-red.0"))
	assert.Error(t, NameValidator(""))
	assert.Error(t, NameValidator("has space"))
	assert.Error(t, NameValidator(strings.Repeat("x", 101)))
}

func validConfig() Config {
	gw := netip.MustParseAddr("10.0.0.1")
	return Config{
		Vrfs: []VrfCfg{{
			Name: "default",
			Interfaces: []InterfaceCfg{
				{Name: "eth0", Up: true, Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.0.2/24")}},
			},
			Static: []StaticRouteCfg{
				{Prefix: "172.16.0.0/12", Via: &gw},
				{Prefix: "192.168.0.0/16", Blackhole: true, Safi: "multicast"},
			},
			RPFMode: "mrib-then-urib",
		}},
		Ecmp:      8,
		Multipath: []string{"static", "ospf"},
		TypeRank:  map[string]int{"bgp": 1},
	}
}

func TestConfigValidator(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, ConfigValidator(&cfg))

	mutate := []struct {
		name string
		mod  func(*Config)
	}{
		{"negative ecmp", func(c *Config) { c.Ecmp = -1 }},
		{"unknown multipath protocol", func(c *Config) { c.Multipath = []string{"babel"} }},
		{"unknown type_rank protocol", func(c *Config) { c.TypeRank = map[string]int{"babel": 0} }},
		{"bad vrf name", func(c *Config) { c.Vrfs[0].Name = "no/slash" }},
		{"duplicate vrf", func(c *Config) { c.Vrfs = append(c.Vrfs, c.Vrfs[0]) }},
		{"bad rpf mode", func(c *Config) { c.Vrfs[0].RPFMode = "sideways" }},
		{"duplicate interface", func(c *Config) {
			c.Vrfs[0].Interfaces = append(c.Vrfs[0].Interfaces, c.Vrfs[0].Interfaces[0])
		}},
		{"static without nexthop", func(c *Config) {
			c.Vrfs[0].Static = []StaticRouteCfg{{Prefix: "10.0.0.0/8"}}
		}},
		{"static bad prefix", func(c *Config) {
			c.Vrfs[0].Static = []StaticRouteCfg{{Prefix: "nope", Blackhole: true}}
		}},
		{"static gateway family mismatch", func(c *Config) {
			gw := netip.MustParseAddr("2001:db8::1")
			c.Vrfs[0].Static = []StaticRouteCfg{{Prefix: "10.0.0.0/8", Via: &gw}}
		}},
		{"static bad safi", func(c *Config) {
			c.Vrfs[0].Static = []StaticRouteCfg{{Prefix: "10.0.0.0/8", Blackhole: true, Safi: "flowspec"}}
		}},
	}
	for _, tc := range mutate {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mod(&cfg)
			assert.Error(t, ConfigValidator(&cfg))
		})
	}
}
