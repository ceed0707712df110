package table

import "net/netip"

// bitAt returns the i-th bit (0-based from the most significant) of addr.
func bitAt(addr netip.Addr, i int) int {
	if addr.Is4() {
		b := addr.As4()
		return int(b[i/8]>>(7-i%8)) & 1
	}
	b := addr.As16()
	return int(b[i/8]>>(7-i%8)) & 1
}

// contains reports whether p covers q, i.e. p is q or an ancestor of q in
// prefix-bit order.
func contains(p, q netip.Prefix) bool {
	return p.Bits() <= q.Bits() && p.Contains(q.Addr())
}

// commonPrefix returns the longest prefix shared by p and q. Both must
// belong to the same address family.
func commonPrefix(p, q netip.Prefix) netip.Prefix {
	limit := min(p.Bits(), q.Bits())
	n := 0
	for n < limit && bitAt(p.Addr(), n) == bitAt(q.Addr(), n) {
		n++
	}
	cp, _ := p.Addr().Prefix(n)
	return cp
}
