package state

import (
	"fmt"
	"net/netip"
)

// Prefix is a destination prefix, optionally qualified by a source prefix
// for SAFIs that match on source and destination. Immutable once stored.
type Prefix struct {
	Dst netip.Prefix
	// Src is the zero value for plain destination routes.
	Src netip.Prefix
}

// NewPrefix returns a destination-only prefix.
func NewPrefix(dst netip.Prefix) Prefix {
	return Prefix{Dst: dst.Masked()}
}

// NewSrcDstPrefix returns a source-qualified prefix.
func NewSrcDstPrefix(dst, src netip.Prefix) Prefix {
	return Prefix{Dst: dst.Masked(), Src: src.Masked()}
}

// ParsePrefix parses "dst" or "dst from src" into a Prefix.
func ParsePrefix(s string) (Prefix, error) {
	var dst, src string
	if n, _ := fmt.Sscanf(s, "%s from %s", &dst, &src); n == 2 {
		d, err := netip.ParsePrefix(dst)
		if err != nil {
			return Prefix{}, fmt.Errorf("bad destination %q: %w", dst, err)
		}
		sp, err := netip.ParsePrefix(src)
		if err != nil {
			return Prefix{}, fmt.Errorf("bad source %q: %w", src, err)
		}
		if d.Addr().Is4() != sp.Addr().Is4() {
			return Prefix{}, fmt.Errorf("mixed address families in %q", s)
		}
		return NewSrcDstPrefix(d, sp), nil
	}
	d, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, err
	}
	return NewPrefix(d), nil
}

func (p Prefix) HasSrc() bool {
	return p.Src.IsValid()
}

func (p Prefix) Afi() Afi {
	if p.Dst.Addr().Is4() {
		return AfiIPv4
	}
	return AfiIPv6
}

func (p Prefix) IsValid() bool {
	if !p.Dst.IsValid() {
		return false
	}
	if p.Src.IsValid() && p.Src.Addr().Is4() != p.Dst.Addr().Is4() {
		return false
	}
	return true
}

func (p Prefix) String() string {
	if p.HasSrc() {
		return fmt.Sprintf("%s from %s", p.Dst, p.Src)
	}
	return p.Dst.String()
}
