package table

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/gaissmai/bart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPfx(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p.Masked()
}

// insert stores the prefix as its own value, keeping the insert lock the
// way the route entry store does.
func insert(t *testing.T, tbl *Table[netip.Prefix], s string) NodeID {
	t.Helper()
	p := mustPfx(t, s)
	id, err := tbl.Insert(p)
	require.NoError(t, err)
	if _, ok := tbl.Value(id); ok {
		tbl.Unlock(id)
	} else {
		tbl.SetValue(id, p)
	}
	return id
}

func remove(t *testing.T, tbl *Table[netip.Prefix], s string) {
	t.Helper()
	id, ok := tbl.Exact(mustPfx(t, s))
	require.True(t, ok, "prefix %s not present", s)
	tbl.ClearValue(id)
	tbl.Unlock(id)
}

func TestInsertAndExact(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "10.0.0.0/8")
	insert(t, tbl, "10.1.0.0/16")
	insert(t, tbl, "10.1.1.0/24")

	for _, s := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.1.0/24"} {
		id, ok := tbl.Exact(mustPfx(t, s))
		require.True(t, ok, s)
		assert.Equal(t, mustPfx(t, s), tbl.Prefix(id))
	}
	_, ok := tbl.Exact(mustPfx(t, "10.2.0.0/16"))
	assert.False(t, ok)
	assert.Equal(t, 3, tbl.Len())
}

func TestInsertIdempotent(t *testing.T) {
	tbl := New[netip.Prefix](true)
	p := mustPfx(t, "192.168.0.0/16")
	a, err := tbl.Insert(p)
	require.NoError(t, err)
	tbl.SetValue(a, p)
	b, err := tbl.Insert(p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	tbl.Unlock(b)
	assert.Equal(t, 1, tbl.Len())
}

func TestInsertWrongFamily(t *testing.T) {
	tbl := New[netip.Prefix](true)
	_, err := tbl.Insert(mustPfx(t, "2001:db8::/32"))
	assert.Error(t, err)
}

func TestLongestPrefixMatch(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "10.1.0.0/16")
	insert(t, tbl, "10.1.1.0/24")

	id, ok := tbl.Match(netip.MustParseAddr("10.1.1.5"))
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "10.1.1.0/24"), tbl.Prefix(id))

	remove(t, tbl, "10.1.1.0/24")

	id, ok = tbl.Match(netip.MustParseAddr("10.1.1.5"))
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "10.1.0.0/16"), tbl.Prefix(id))

	_, ok = tbl.Match(netip.MustParseAddr("11.0.0.1"))
	assert.False(t, ok)
}

func TestMatchPrefix(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "10.0.0.0/8")
	insert(t, tbl, "10.1.0.0/16")

	id, ok := tbl.MatchPrefix(mustPfx(t, "10.1.4.0/24"))
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "10.1.0.0/16"), tbl.Prefix(id))

	// a covering query prefix matches itself, a shorter one does not
	id, ok = tbl.MatchPrefix(mustPfx(t, "10.1.0.0/16"))
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "10.1.0.0/16"), tbl.Prefix(id))
	_, ok = tbl.MatchPrefix(mustPfx(t, "10.0.0.0/7"))
	assert.False(t, ok)
}

func TestDefaultRouteMatchesEverything(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "0.0.0.0/0")
	for _, a := range []string{"0.0.0.0", "8.8.8.8", "255.255.255.255"} {
		id, ok := tbl.Match(netip.MustParseAddr(a))
		require.True(t, ok, a)
		assert.Equal(t, mustPfx(t, "0.0.0.0/0"), tbl.Prefix(id))
	}
}

func TestMatchWhere(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "10.0.0.0/8")
	deep := insert(t, tbl, "10.1.0.0/16")

	addr := netip.MustParseAddr("10.1.2.3")
	id, ok := tbl.MatchWhere(addr, func(id NodeID) bool { return id != deep })
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "10.0.0.0/8"), tbl.Prefix(id))

	id, ok = tbl.MatchWhere(addr, func(NodeID) bool { return true })
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "10.1.0.0/16"), tbl.Prefix(id))
}

func TestBranchNodeReclaim(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "10.1.1.0/24")
	insert(t, tbl, "10.1.2.0/24")
	// the two /24s need a shared branch node
	assert.Equal(t, 3, tbl.Nodes())
	assert.Equal(t, 2, tbl.Len())

	remove(t, tbl, "10.1.1.0/24")
	// the branch collapses with its surviving child
	assert.Equal(t, 1, tbl.Nodes())

	remove(t, tbl, "10.1.2.0/24")
	assert.Equal(t, 0, tbl.Nodes())
	assert.Equal(t, 0, tbl.Len())
}

func TestReclaimReusesSlots(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "10.1.1.0/24")
	insert(t, tbl, "10.1.2.0/24")
	grown := len(tbl.nodes)
	remove(t, tbl, "10.1.1.0/24")
	remove(t, tbl, "10.1.2.0/24")

	insert(t, tbl, "172.16.0.0/12")
	insert(t, tbl, "172.17.0.0/16")
	assert.LessOrEqual(t, len(tbl.nodes), grown, "freed slots should be reused")
}

func TestLockPinsNode(t *testing.T) {
	tbl := New[netip.Prefix](true)
	id := insert(t, tbl, "10.0.0.0/8")
	tbl.Lock(id) // e.g. an iterator parked here
	remove(t, tbl, "10.0.0.0/8")

	// value is gone but the node survives under the extra reference
	_, ok := tbl.Exact(mustPfx(t, "10.0.0.0/8"))
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.Nodes())

	tbl.Unlock(id)
	assert.Equal(t, 0, tbl.Nodes())
}

func TestWalkOrderAndCompleteness(t *testing.T) {
	tbl := New[netip.Prefix](true)
	in := []string{
		"0.0.0.0/0", "10.0.0.0/8", "10.1.0.0/16", "10.1.1.0/24",
		"10.128.0.0/9", "192.168.0.0/16", "192.168.1.1/32",
	}
	for _, s := range in {
		insert(t, tbl, s)
	}
	var got []netip.Prefix
	id, ok := tbl.FirstValued()
	for ok {
		got = append(got, tbl.Prefix(id))
		id, ok = tbl.NextValued(id)
	}
	require.Len(t, got, len(in))
	// depth-first order visits shorter prefixes before the longer ones
	// they contain
	for i, p := range got {
		for _, q := range got[i+1:] {
			assert.False(t, contains(q, p) && q != p, "%s visited before its ancestor %s", p, q)
		}
	}
}

func TestWalkToleratesMutation(t *testing.T) {
	tbl := New[netip.Prefix](true)
	insert(t, tbl, "10.1.0.0/16")
	insert(t, tbl, "10.2.0.0/16")
	insert(t, tbl, "10.3.0.0/16")

	id, ok := tbl.FirstValued()
	require.True(t, ok)

	// mutate around the parked iterator: the current node loses its
	// value, a more specific node appears below it
	cur := tbl.Prefix(id)
	tbl.ClearValue(id)
	tbl.Unlock(id) // drop the value's reference; the walk still holds one
	insert(t, tbl, "10.4.0.0/16")

	var rest []netip.Prefix
	nid, ok := tbl.NextValued(id)
	for ok {
		rest = append(rest, tbl.Prefix(nid))
		nid, ok = tbl.NextValued(nid)
	}
	assert.NotContains(t, rest, cur)
	assert.Len(t, rest, 3)
}

func TestMatchAgainstBart(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tbl := New[netip.Prefix](true)
	oracle := bart.Table[netip.Prefix]{}

	seen := map[netip.Prefix]bool{}
	for range 500 {
		var b [4]byte
		rng.Read(b[:])
		bits := 8 + rng.Intn(23)
		p, err := netip.AddrFrom4(b).Prefix(bits)
		if err != nil || seen[p] {
			continue
		}
		seen[p] = true
		id, err := tbl.Insert(p)
		require.NoError(t, err)
		if _, ok := tbl.Value(id); ok {
			tbl.Unlock(id)
		} else {
			tbl.SetValue(id, p)
		}
		oracle.Insert(p, p)
	}
	require.Equal(t, len(seen), tbl.Len())

	for range 5000 {
		var b [4]byte
		rng.Read(b[:])
		addr := netip.AddrFrom4(b)
		wantPfx, want := oracle.Lookup(addr)
		id, got := tbl.Match(addr)
		require.Equal(t, want, got, "lookup %s", addr)
		if got {
			assert.Equal(t, wantPfx, tbl.Prefix(id), "lookup %s", addr)
		}
	}
}

func TestIPv6(t *testing.T) {
	tbl := New[netip.Prefix](false)
	insert(t, tbl, "2001:db8::/32")
	insert(t, tbl, "2001:db8:1::/48")

	id, ok := tbl.Match(netip.MustParseAddr("2001:db8:1::42"))
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "2001:db8:1::/48"), tbl.Prefix(id))

	id, ok = tbl.Match(netip.MustParseAddr("2001:db8:2::42"))
	require.True(t, ok)
	assert.Equal(t, mustPfx(t, "2001:db8::/32"), tbl.Prefix(id))
}
