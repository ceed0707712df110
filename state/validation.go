package state

import (
	"fmt"
	"regexp"
)

var namePattern = regexp.MustCompile("^[0-9a-zA-Z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%q is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(%q) = %d > 100 is too long", s, len(s))
	}
	return nil
}

func staticRouteValidator(vrf string, rt *StaticRouteCfg) error {
	pfx, err := ParsePrefix(rt.Prefix)
	if err != nil {
		return fmt.Errorf("vrf %s: static route %q: %w", vrf, rt.Prefix, err)
	}
	nh, err := rt.Nexthop()
	if err != nil {
		return fmt.Errorf("vrf %s: %w", vrf, err)
	}
	if nh.Gateway.IsValid() && nh.Gateway.Is4() != (pfx.Afi() == AfiIPv4) {
		return fmt.Errorf("vrf %s: static route %s: gateway %s is a different address family", vrf, pfx, nh.Gateway)
	}
	if rt.Safi != "" && rt.Safi != "unicast" && rt.Safi != "multicast" {
		return fmt.Errorf("vrf %s: static route %s: unknown safi %q", vrf, pfx, rt.Safi)
	}
	return nil
}

// ConfigValidator rejects a config before any of it is applied, so a bad
// file never half-mutates a running engine.
func ConfigValidator(cfg *Config) error {
	if cfg.Ecmp < 0 {
		return fmt.Errorf("ecmp must be non-negative, got %d", cfg.Ecmp)
	}
	for _, name := range cfg.Multipath {
		if _, err := ParseProtocol(name); err != nil {
			return fmt.Errorf("multipath: %w", err)
		}
	}
	for name := range cfg.TypeRank {
		if _, err := ParseProtocol(name); err != nil {
			return fmt.Errorf("type_rank: %w", err)
		}
	}
	seen := map[string]bool{}
	for i := range cfg.Vrfs {
		vrf := &cfg.Vrfs[i]
		if err := NameValidator(vrf.Name); err != nil {
			return err
		}
		if seen[vrf.Name] {
			return fmt.Errorf("duplicate vrf %q", vrf.Name)
		}
		seen[vrf.Name] = true
		if vrf.RPFMode != "" {
			if _, err := ParseRPFMode(vrf.RPFMode); err != nil {
				return fmt.Errorf("vrf %s: %w", vrf.Name, err)
			}
		}
		ifaces := map[string]bool{}
		for _, ifc := range vrf.Interfaces {
			if err := NameValidator(ifc.Name); err != nil {
				return fmt.Errorf("vrf %s: %w", vrf.Name, err)
			}
			if ifaces[ifc.Name] {
				return fmt.Errorf("vrf %s: duplicate interface %q", vrf.Name, ifc.Name)
			}
			ifaces[ifc.Name] = true
		}
		for i := range vrf.Static {
			if err := staticRouteValidator(vrf.Name, &vrf.Static[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
