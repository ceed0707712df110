// Package table implements the binary patricia trie that backs each route
// table. Nodes live in an arena and are addressed by index rather than
// pointer; reclaimed slots go onto a free list. Every node carries an
// explicit reference count: a node is reclaimed only once its count drops
// to zero, it holds no value, and it is no longer structurally required.
package table

import (
	"fmt"
	"net/netip"
)

// NodeID addresses a node inside a table's arena.
type NodeID = int32

// None is the absent-node sentinel.
const None NodeID = -1

type node[T any] struct {
	prefix netip.Prefix
	parent NodeID
	child  [2]NodeID
	refcnt int32

	hasVal bool
	val    T

	// inUse distinguishes live slots from free-list slots.
	inUse bool
}

// Table is a longest-prefix-match tree over one address family. Not safe
// for concurrent use; the owning VRF serializes access.
type Table[T any] struct {
	nodes []node[T]
	free  []NodeID
	root  NodeID
	v4    bool

	// valued counts nodes currently holding a value.
	valued int
}

// New returns an empty table. v4 selects the address family every stored
// prefix must belong to.
func New[T any](v4 bool) *Table[T] {
	return &Table[T]{root: None, v4: v4}
}

// IsV4 reports the table's address family.
func (t *Table[T]) IsV4() bool { return t.v4 }

// Len returns the number of nodes holding a value.
func (t *Table[T]) Len() int { return t.valued }

// Nodes returns the number of live arena slots, including branch nodes
// holding no value.
func (t *Table[T]) Nodes() int { return len(t.nodes) - len(t.free) }

func (t *Table[T]) alloc(p netip.Prefix) NodeID {
	n := node[T]{
		prefix: p,
		parent: None,
		child:  [2]NodeID{None, None},
		inUse:  true,
	}
	if l := len(t.free); l > 0 {
		id := t.free[l-1]
		t.free = t.free[:l-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

func (t *Table[T]) freeSlot(id NodeID) {
	var zero node[T]
	t.nodes[id] = zero
	t.nodes[id].inUse = false
	t.free = append(t.free, id)
}

// setChild links child under parent on the branch picked by the child's
// first bit past the parent's prefix length.
func (t *Table[T]) setChild(parent, child NodeID) {
	bit := bitAt(t.nodes[child].prefix.Addr(), t.nodes[parent].prefix.Bits())
	t.nodes[parent].child[bit] = child
	t.nodes[child].parent = parent
}

func (t *Table[T]) replaceChild(parent, old, new NodeID) {
	if parent == None {
		t.root = new
	} else {
		p := &t.nodes[parent]
		if p.child[0] == old {
			p.child[0] = new
		} else {
			p.child[1] = new
		}
	}
	if new != None {
		t.nodes[new].parent = parent
	}
}

// Insert returns the node for prefix p, creating it (and any required
// branch node) if absent. The returned node is locked once; the caller
// owns that reference and must eventually Unlock it. All allocation
// happens before any link is touched, so a failed insert cannot leave a
// partially linked tree.
func (t *Table[T]) Insert(p netip.Prefix) (NodeID, error) {
	if p.Addr().Is4() != t.v4 {
		return None, fmt.Errorf("prefix %s does not belong to this table's address family", p)
	}
	p = p.Masked()

	matched := None
	cur := t.root
	for cur != None && contains(t.nodes[cur].prefix, p) {
		if t.nodes[cur].prefix.Bits() == p.Bits() {
			t.Lock(cur)
			return cur, nil
		}
		matched = cur
		cur = t.nodes[cur].child[bitAt(p.Addr(), t.nodes[cur].prefix.Bits())]
	}

	if cur == None {
		id := t.alloc(p)
		if matched == None {
			t.root = id
		} else {
			t.setChild(matched, id)
		}
		t.Lock(id)
		return id, nil
	}

	// cur diverges from p: splice a branch node at their common prefix.
	common := commonPrefix(p, t.nodes[cur].prefix)
	branch := t.alloc(common)
	var leaf NodeID = None
	if common.Bits() != p.Bits() {
		leaf = t.alloc(p)
	}

	t.replaceChild(t.nodes[cur].parent, cur, branch)
	t.setChild(branch, cur)
	if leaf == None {
		// p itself is the branch point
		t.Lock(branch)
		return branch, nil
	}
	t.setChild(branch, leaf)
	t.Lock(leaf)
	return leaf, nil
}

// Exact returns the node holding a value for exactly p.
func (t *Table[T]) Exact(p netip.Prefix) (NodeID, bool) {
	p = p.Masked()
	cur := t.root
	for cur != None && contains(t.nodes[cur].prefix, p) {
		n := &t.nodes[cur]
		if n.prefix.Bits() == p.Bits() {
			if n.hasVal {
				return cur, true
			}
			return None, false
		}
		cur = n.child[bitAt(p.Addr(), n.prefix.Bits())]
	}
	return None, false
}

// Match returns the deepest valued node whose prefix contains addr.
func (t *Table[T]) Match(addr netip.Addr) (NodeID, bool) {
	best := None
	cur := t.root
	for cur != None && t.nodes[cur].prefix.Contains(addr) {
		n := &t.nodes[cur]
		if n.hasVal {
			best = cur
		}
		if n.prefix.Bits() == addr.BitLen() {
			break
		}
		cur = n.child[bitAt(addr, n.prefix.Bits())]
	}
	if best == None {
		return None, false
	}
	return best, true
}

// MatchWhere returns the deepest valued node whose prefix contains addr
// and that satisfies accept. Resolution uses this to walk past nodes it
// may not resolve through (the querying route's own node, nodes without a
// usable winner).
func (t *Table[T]) MatchWhere(addr netip.Addr, accept func(NodeID) bool) (NodeID, bool) {
	best := None
	cur := t.root
	for cur != None && t.nodes[cur].prefix.Contains(addr) {
		n := &t.nodes[cur]
		if n.hasVal && accept(cur) {
			best = cur
		}
		if n.prefix.Bits() == addr.BitLen() {
			break
		}
		cur = n.child[bitAt(addr, n.prefix.Bits())]
	}
	if best == None {
		return None, false
	}
	return best, true
}

// MatchPrefix returns the deepest valued node whose prefix contains p.
func (t *Table[T]) MatchPrefix(p netip.Prefix) (NodeID, bool) {
	p = p.Masked()
	best := None
	cur := t.root
	for cur != None && contains(t.nodes[cur].prefix, p) {
		n := &t.nodes[cur]
		if n.hasVal {
			best = cur
		}
		if n.prefix.Bits() == p.Bits() {
			break
		}
		cur = n.child[bitAt(p.Addr(), n.prefix.Bits())]
	}
	if best == None {
		return None, false
	}
	return best, true
}

// Prefix returns the prefix owned by id.
func (t *Table[T]) Prefix(id NodeID) netip.Prefix {
	return t.nodes[id].prefix
}

// Value returns the value stored at id.
func (t *Table[T]) Value(id NodeID) (T, bool) {
	n := &t.nodes[id]
	return n.val, n.hasVal
}

// SetValue stores v at id.
func (t *Table[T]) SetValue(id NodeID, v T) {
	n := &t.nodes[id]
	if !n.hasVal {
		t.valued++
	}
	n.hasVal = true
	n.val = v
}

// ClearValue removes the value at id. The node itself survives until its
// reference count drains.
func (t *Table[T]) ClearValue(id NodeID) {
	n := &t.nodes[id]
	if n.hasVal {
		t.valued--
	}
	n.hasVal = false
	var zero T
	n.val = zero
}

// Lock takes a reference on id, pinning it against reclamation.
func (t *Table[T]) Lock(id NodeID) {
	t.nodes[id].refcnt++
}

// Unlock drops a reference on id. A node left with no references, no
// value and fewer than two children is removed; removal may cascade to
// ancestors that become redundant in turn.
func (t *Table[T]) Unlock(id NodeID) {
	n := &t.nodes[id]
	if n.refcnt <= 0 {
		panic(fmt.Sprintf("unlock of unreferenced node %s", n.prefix))
	}
	n.refcnt--
	t.maybeReclaim(id)
}

func (t *Table[T]) maybeReclaim(id NodeID) {
	for id != None {
		n := &t.nodes[id]
		if n.refcnt > 0 || n.hasVal {
			return
		}
		c0, c1 := n.child[0], n.child[1]
		switch {
		case c0 != None && c1 != None:
			return
		case c0 != None:
			t.replaceChild(n.parent, id, c0)
		case c1 != None:
			t.replaceChild(n.parent, id, c1)
		default:
			t.replaceChild(n.parent, id, None)
		}
		parent := n.parent
		t.freeSlot(id)
		id = parent
	}
}

// First locks and returns the first node of a depth-first in-order walk.
func (t *Table[T]) First() (NodeID, bool) {
	if t.root == None {
		return None, false
	}
	t.Lock(t.root)
	return t.root, true
}

// Next locks and returns the successor of id in depth-first order, then
// unlocks id. The caller's reference on id keeps it reachable even if the
// table was mutated since it was returned; any node spliced in above id
// is simply joined into the walk through the updated parent links.
func (t *Table[T]) Next(id NodeID) (NodeID, bool) {
	next := None
	n := &t.nodes[id]
	switch {
	case n.child[0] != None:
		next = n.child[0]
	case n.child[1] != None:
		next = n.child[1]
	default:
		cur := id
		for t.nodes[cur].parent != None {
			parent := t.nodes[cur].parent
			pn := &t.nodes[parent]
			if pn.child[0] == cur && pn.child[1] != None {
				next = pn.child[1]
				break
			}
			cur = parent
		}
	}
	if next != None {
		t.Lock(next)
	}
	t.Unlock(id)
	return next, next != None
}

// NextValued advances like Next but skips nodes holding no value.
func (t *Table[T]) NextValued(id NodeID) (NodeID, bool) {
	for {
		nid, ok := t.Next(id)
		if !ok {
			return None, false
		}
		if t.nodes[nid].hasVal {
			return nid, true
		}
		id = nid
	}
}

// FirstValued locks and returns the first valued node of a walk.
func (t *Table[T]) FirstValued() (NodeID, bool) {
	id, ok := t.First()
	if !ok {
		return None, false
	}
	if t.nodes[id].hasVal {
		return id, true
	}
	return t.NextValued(id)
}
