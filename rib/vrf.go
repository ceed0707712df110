package rib

import (
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/routesmith/ribd/fib"
	"github.com/routesmith/ribd/state"
	"github.com/routesmith/ribd/table"
)

// tableKey identifies one route table inside a VRF.
type tableKey struct {
	afi  state.Afi
	safi state.Safi
}

// nodeRef names one tree node across the VRF's tables.
type nodeRef struct {
	key tableKey
	id  table.NodeID
}

// slot is the per-node route entry store. The owning tree node stays
// locked (one reference held by the slot) for as long as the slot exists.
// Entries with different source prefixes are distinct routes sharing the
// destination node; selection runs per source group.
type slot struct {
	entries []*state.RouteEntry

	// programmed snapshots what was last handed to the forwarding plane
	// for this node, keyed by source prefix (zero value for plain
	// destination routes). Selection-change detection diffs against it.
	programmed map[netip.Prefix]*program
}

// program is one (destination, source) route as given to the forwarding
// plane, with the outcome of the last install attempt.
type program struct {
	routes []programmedRoute
	status state.FibStatus
}

// programmedRoute is the identity of one selected entry and the flattened
// nexthop set it was installed with.
type programmedRoute struct {
	owner    state.Owner
	nexthops []state.Nexthop
}

func (a programmedRoute) equal(b programmedRoute) bool {
	if a.owner != b.owner || len(a.nexthops) != len(b.nexthops) {
		return false
	}
	for i := range a.nexthops {
		if !a.nexthops[i].Equal(b.nexthops[i]) {
			return false
		}
	}
	return true
}

func sameProgram(a, b []programmedRoute) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

// Vrf owns one route table per (afi, safi) pair plus the interface map
// the resolver consults. All fields are guarded by mu; the lock is coarse
// on purpose, since selection mutates shared node state transitively
// across recursive nexthop chains.
type Vrf struct {
	rib  *RIB
	name string
	log  *slog.Logger

	mu     sync.Mutex
	tables map[tableKey]*table.Table[*slot]
	ifaces map[string]state.Interface

	// recursive tracks nodes holding at least one entry with a
	// recursive nexthop; they are the re-resolution candidates of every
	// cascade.
	recursive map[nodeRef]bool

	watchers  map[uint64]*watcher
	nextWatch uint64

	rpfMode state.RPFMode
}

func newVrf(r *RIB, name string) *Vrf {
	v := &Vrf{
		rib:       r,
		name:      name,
		log:       r.log.With("vrf", name),
		tables:    map[tableKey]*table.Table[*slot]{},
		ifaces:    map[string]state.Interface{},
		recursive: map[nodeRef]bool{},
		watchers:  map[uint64]*watcher{},
	}
	for _, afi := range []state.Afi{state.AfiIPv4, state.AfiIPv6} {
		for _, safi := range []state.Safi{state.SafiUnicast, state.SafiMulticast} {
			v.tables[tableKey{afi, safi}] = table.New[*slot](afi == state.AfiIPv4)
		}
	}
	return v
}

func (v *Vrf) table(key tableKey) *table.Table[*slot] {
	return v.tables[key]
}

// submit installs entry as a candidate, replacing a previous submission
// by the same owner for the same (prefix, source), then runs the cascade.
func (v *Vrf) submit(safi state.Safi, entry *state.RouteEntry) error {
	key := tableKey{entry.Prefix.Afi(), safi}
	tbl := v.table(key)
	id, err := tbl.Insert(entry.Prefix.Dst)
	if err != nil {
		return err
	}
	sl, ok := tbl.Value(id)
	if !ok {
		// first entry under this prefix: the slot inherits the insert
		// reference and keeps the node pinned
		sl = &slot{}
		tbl.SetValue(id, sl)
	} else {
		// the slot already holds its reference
		tbl.Unlock(id)
	}

	replaced := false
	for i, old := range sl.entries {
		if old.Owner == entry.Owner && old.Prefix.Src == entry.Prefix.Src {
			if old.SameContent(entry) {
				entry.Uptime = old.Uptime
			}
			sl.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		sl.entries = append(sl.entries, entry)
	}

	ref := nodeRef{key, id}
	v.noteRecursive(ref, sl)
	v.log.Debug("route submitted", "prefix", entry.Prefix, "owner", entry.Owner.String(),
		"distance", entry.Distance, "metric", entry.Metric, "replaced", replaced)
	v.cascade(ref)
	return nil
}

// withdraw removes the entry owned by owner under pfx. The node is
// released once its store drains.
func (v *Vrf) withdraw(safi state.Safi, pfx state.Prefix, owner state.Owner) error {
	key := tableKey{pfx.Afi(), safi}
	tbl := v.table(key)
	id, ok := tbl.Exact(pfx.Dst)
	if !ok {
		return ErrNotFound
	}
	sl, _ := tbl.Value(id)
	idx := slices.IndexFunc(sl.entries, func(re *state.RouteEntry) bool {
		return re.Owner == owner && re.Prefix.Src == pfx.Src
	})
	if idx < 0 {
		return ErrNotFound
	}
	sl.entries = slices.Delete(sl.entries, idx, idx+1)
	v.log.Debug("route withdrawn", "prefix", pfx, "owner", owner.String())

	ref := nodeRef{key, id}
	if len(sl.entries) == 0 {
		dst := tbl.Prefix(id)
		for src := range sl.programmed {
			v.uninstall(dst, src)
		}
		sl.programmed = nil
		delete(v.recursive, ref)
		tbl.ClearValue(id)
		tbl.Unlock(id)
		// the node is gone; dependents still need re-evaluation
		v.cascadeFrom(key)
		return nil
	}
	v.noteRecursive(ref, sl)
	v.cascade(ref)
	return nil
}

func (v *Vrf) noteRecursive(ref nodeRef, sl *slot) {
	has := false
	for _, re := range sl.entries {
		for i := range re.Nexthops {
			if re.Nexthops[i].Recursive() {
				has = true
			}
		}
	}
	if has {
		v.recursive[ref] = true
	} else {
		delete(v.recursive, ref)
	}
}

// cascade re-evaluates the mutated node, then every node holding
// recursive nexthops of the same family whenever a selection changed, to
// a fixpoint. Each node is processed at most MaxResolveDepth+1 times,
// which bounds the cascade even under mutual recursion between prefixes.
func (v *Vrf) cascade(start nodeRef) {
	rounds := map[nodeRef]int{}
	queue := []nodeRef{start}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if rounds[ref] > state.MaxResolveDepth {
			continue
		}
		rounds[ref]++
		changed := v.processNode(ref)
		if !changed && rounds[ref] > 1 {
			continue
		}
		for dep := range v.recursive {
			if dep.key.afi == ref.key.afi && dep != ref {
				queue = append(queue, dep)
			}
		}
	}
	v.notifyWatchers()
}

// cascadeFrom re-evaluates the recursive nodes of a table family after a
// node vanished entirely.
func (v *Vrf) cascadeFrom(key tableKey) {
	for dep := range v.recursive {
		if dep.key.afi == key.afi {
			// the cascade's first round walks the rest of the set
			v.cascade(dep)
			return
		}
	}
	v.notifyWatchers()
}

// bySrc returns the entries of sl grouped by source prefix, groups
// ordered deterministically (plain destination group first).
func bySrc(sl *slot) []([]*state.RouteEntry) {
	groups := map[netip.Prefix][]*state.RouteEntry{}
	for _, re := range sl.entries {
		groups[re.Prefix.Src] = append(groups[re.Prefix.Src], re)
	}
	srcs := make([]netip.Prefix, 0, len(groups))
	for src := range groups {
		srcs = append(srcs, src)
	}
	slices.SortFunc(srcs, func(a, b netip.Prefix) int {
		if a.IsValid() != b.IsValid() {
			if !a.IsValid() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.String(), b.String())
	})
	out := make([][]*state.RouteEntry, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, groups[src])
	}
	return out
}

// processNode resolves and selects at ref, reprogramming the forwarding
// plane when a winning set changed. Returns whether anything changed.
func (v *Vrf) processNode(ref nodeRef) bool {
	tbl := v.table(ref.key)
	sl, ok := tbl.Value(ref.id)
	if !ok {
		return false
	}
	dst := tbl.Prefix(ref.id)

	for _, re := range sl.entries {
		v.resolveEntry(ref, re)
		re.Selected = false
	}

	next := map[netip.Prefix]*program{}
	selectedBySrc := map[netip.Prefix][]*state.RouteEntry{}
	for _, group := range bySrc(sl) {
		selected := v.rib.selectBest(group)
		if len(selected) == 0 {
			continue
		}
		src := selected[0].Prefix.Src
		routes := make([]programmedRoute, 0, len(selected))
		for _, re := range selected {
			re.Selected = true
			routes = append(routes, programmedRoute{owner: re.Owner, nexthops: re.ActiveNexthops()})
		}
		next[src] = &program{routes: routes}
		selectedBySrc[src] = selected
	}

	changed := false
	// routes that lost their winner entirely
	for src := range sl.programmed {
		if _, still := next[src]; !still {
			v.uninstall(dst, src)
			changed = true
		}
	}
	// new or modified winners
	for src, prog := range next {
		if old := sl.programmed[src]; old != nil && sameProgram(old.routes, prog.routes) {
			// unchanged program: keep its install status
			prog.status = old.status
			for _, re := range selectedBySrc[src] {
				re.Fib = prog.status
			}
			continue
		}
		prog.status = v.install(dst, src, selectedBySrc[src])
		changed = true
	}
	if !changed {
		return false
	}

	if len(next) == 0 {
		sl.programmed = nil
		for _, re := range sl.entries {
			re.Fib = state.FibNone
		}
	} else {
		sl.programmed = next
	}
	return true
}

// install programs the union of the selected entries' flattened nexthops
// as one route; an ECMP group goes out in a single notification.
func (v *Vrf) install(dst netip.Prefix, src netip.Prefix, selected []*state.RouteEntry) state.FibStatus {
	var nhs []state.Nexthop
	for _, re := range selected {
		for _, nh := range re.ActiveNexthops() {
			dup := slices.ContainsFunc(nhs, func(o state.Nexthop) bool { return o.Equal(nh) })
			if !dup {
				nhs = append(nhs, nh)
			}
		}
	}
	route := fib.Route{
		Vrf:      v.name,
		Prefix:   state.Prefix{Dst: dst, Src: src},
		Nexthops: nhs,
	}
	status := state.FibInstalled
	if err := v.rib.sink.Install(route); err != nil {
		// the route stays selected; the retry task will re-attempt
		v.log.Warn("fib install failed", "prefix", route.Prefix, "error", err)
		status = state.FibFailed
	}
	for _, re := range selected {
		re.Fib = status
	}
	return status
}

func (v *Vrf) uninstall(dst netip.Prefix, src netip.Prefix) {
	pfx := state.Prefix{Dst: dst, Src: src}
	if err := v.rib.sink.Uninstall(v.name, pfx); err != nil {
		v.log.Warn("fib uninstall failed", "prefix", pfx, "error", err)
	}
}

// retryFailed re-installs selected routes whose last programming attempt
// failed.
func (v *Vrf) retryFailed() {
	for _, tbl := range v.tables {
		id, ok := tbl.FirstValued()
		for ok {
			sl, _ := tbl.Value(id)
			for src, prog := range sl.programmed {
				if prog.status != state.FibFailed {
					continue
				}
				var selected []*state.RouteEntry
				for _, re := range sl.entries {
					if re.Selected && re.Prefix.Src == src {
						selected = append(selected, re)
					}
				}
				prog.status = v.install(tbl.Prefix(id), src, selected)
			}
			id, ok = tbl.NextValued(id)
		}
	}
}

// setInterface applies new link state: connected routes are synthesized
// from the addresses of interfaces that are up, and the whole VRF is
// revalidated since direct nexthops reference interfaces by name.
func (v *Vrf) setInterface(ifc state.Interface) {
	prev, existed := v.ifaces[ifc.Name]
	v.ifaces[ifc.Name] = ifc

	owner := state.Owner{Proto: state.ProtoConnected, Instance: uint16(ifc.Index)}

	// withdraw connected routes that no longer apply
	if existed {
		for _, addr := range prev.Addresses {
			keep := ifc.Up && slices.Contains(ifc.Addresses, addr)
			if !keep {
				_ = v.withdraw(state.SafiUnicast, state.NewPrefix(addr), owner)
			}
		}
	}
	if ifc.Up {
		for _, addr := range ifc.Addresses {
			entry := &state.RouteEntry{
				Prefix:   state.NewPrefix(addr),
				Owner:    owner,
				Distance: state.DefaultDistance(state.ProtoConnected),
				Uptime:   unixNow(),
				Nexthops: []state.Nexthop{{Kind: state.NexthopIfindex, Ifname: ifc.Name}},
			}
			if err := v.submit(state.SafiUnicast, entry); err != nil {
				v.log.Error("connected route rejected", "prefix", entry.Prefix, "error", err)
			}
		}
	}
	v.log.Info("interface state", "iface", ifc.Name, "up", ifc.Up, "addresses", len(ifc.Addresses))
	v.revalidate()
}

// revalidate re-runs resolution and selection over every valued node.
func (v *Vrf) revalidate() {
	for key, tbl := range v.tables {
		id, ok := tbl.FirstValued()
		for ok {
			if v.processNode(nodeRef{key, id}) {
				for dep := range v.recursive {
					if dep.key.afi == key.afi {
						v.processNode(dep)
					}
				}
			}
			id, ok = tbl.NextValued(id)
		}
	}
	v.notifyWatchers()
}

// teardown uninstalls everything the VRF programmed. Caller holds mu.
func (v *Vrf) teardown() {
	for _, tbl := range v.tables {
		id, ok := tbl.FirstValued()
		for ok {
			sl, _ := tbl.Value(id)
			for src := range sl.programmed {
				v.uninstall(tbl.Prefix(id), src)
			}
			sl.programmed = nil
			id, ok = tbl.NextValued(id)
		}
	}
	v.watchers = map[uint64]*watcher{}
	v.recursive = map[nodeRef]bool{}
}
