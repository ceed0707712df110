// Package rib maintains, per VRF, the longest-prefix-match tables of
// candidate routes, resolves nexthops against them, selects the winning
// route per destination and programs only that winner into the forwarding
// plane.
package rib

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/routesmith/ribd/fib"
	"github.com/routesmith/ribd/state"
)

var (
	ErrUnknownVrf = errors.New("unknown vrf")
	ErrBadPrefix  = errors.New("malformed prefix")
	ErrBadNexthop = errors.New("malformed nexthop")
	ErrNotFound   = errors.New("no such route")
	ErrVrfExists  = errors.New("vrf already exists")
)

// unixNow stamps entry uptimes; overridable in tests.
var unixNow = time.Now

// Options carries the selection and resolution policy of an engine. The
// zero value is usable: defaults are applied by New.
type Options struct {
	Log *slog.Logger

	// MaxEcmp caps the installed multipath group size.
	MaxEcmp int
	// Multipath marks the protocols whose equal-cost entries may form an
	// ECMP group.
	Multipath map[state.Protocol]bool
	// TypeRank overrides the default route-source ranking consulted
	// before administrative distance.
	TypeRank map[state.Protocol]int
}

// OptionsFromConfig translates the YAML policy knobs. The config must
// already have passed state.ConfigValidator.
func OptionsFromConfig(cfg *state.Config, log *slog.Logger) (Options, error) {
	opts := Options{Log: log, MaxEcmp: cfg.Ecmp}
	if len(cfg.Multipath) > 0 {
		opts.Multipath = map[state.Protocol]bool{}
		for _, name := range cfg.Multipath {
			p, err := state.ParseProtocol(name)
			if err != nil {
				return Options{}, err
			}
			opts.Multipath[p] = true
		}
	}
	if len(cfg.TypeRank) > 0 {
		opts.TypeRank = map[state.Protocol]int{}
		for name, rank := range cfg.TypeRank {
			p, err := state.ParseProtocol(name)
			if err != nil {
				return Options{}, err
			}
			opts.TypeRank[p] = rank
		}
	}
	return opts, nil
}

func (o *Options) rank(p state.Protocol) int {
	if r, ok := o.TypeRank[p]; ok {
		return r
	}
	return state.DefaultTypeRank(p)
}

func (o *Options) multipath(p state.Protocol) bool {
	if o.Multipath != nil {
		return o.Multipath[p]
	}
	return p == state.ProtoStatic || p == state.ProtoBGP
}

// RIB is the engine. One instance serves all VRFs of a router; each VRF
// is serialized by its own coarse lock, so the resolution and selection
// cascade triggered by a mutation always runs to completion before the
// next mutation in that VRF is admitted.
type RIB struct {
	opts Options
	log  *slog.Logger
	sink fib.Adapter

	mu   sync.RWMutex
	vrfs map[string]*Vrf
}

// New returns an engine programming selected routes into sink. A nil sink
// keeps the RIB fully functional but forwards nothing.
func New(opts Options, sink fib.Adapter) *RIB {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.MaxEcmp <= 0 {
		opts.MaxEcmp = state.DefaultMaxEcmp
	}
	if sink == nil {
		sink = fib.Discard{}
	}
	return &RIB{
		opts: opts,
		log:  opts.Log,
		sink: sink,
		vrfs: map[string]*Vrf{},
	}
}

// CreateVrf activates a VRF, creating its route tables.
func (r *RIB) CreateVrf(name string) error {
	if err := state.NameValidator(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vrfs[name]; ok {
		return fmt.Errorf("%w: %s", ErrVrfExists, name)
	}
	r.vrfs[name] = newVrf(r, name)
	r.log.Info("vrf created", "vrf", name)
	return nil
}

// DeleteVrf deactivates a VRF and tears down every table it owns,
// uninstalling whatever it had programmed.
func (r *RIB) DeleteVrf(name string) error {
	r.mu.Lock()
	v, ok := r.vrfs[name]
	delete(r.vrfs, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVrf, name)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.teardown()
	r.log.Info("vrf deleted", "vrf", name)
	return nil
}

func (r *RIB) vrf(name string) (*Vrf, error) {
	if name == "" {
		name = state.DefaultVrfName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vrfs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVrf, name)
	}
	return v, nil
}

// RouteRequest is a producer's route submission.
type RouteRequest struct {
	Vrf      string
	Safi     state.Safi
	Prefix   state.Prefix
	Proto    state.Protocol
	Instance uint16
	// Distance defaults to the protocol's administrative distance.
	Distance *uint8
	Metric   uint32
	Tag      uint32
	Nexthops []state.Nexthop
}

func (req *RouteRequest) validate() error {
	if !req.Prefix.IsValid() {
		return fmt.Errorf("%w: %s", ErrBadPrefix, req.Prefix)
	}
	if len(req.Nexthops) == 0 {
		return fmt.Errorf("%w: route %s has no nexthop", ErrBadNexthop, req.Prefix)
	}
	for _, nh := range req.Nexthops {
		switch nh.Kind {
		case state.NexthopBlackhole, state.NexthopReject:
		case state.NexthopIfindex:
			if nh.Ifname == "" {
				return fmt.Errorf("%w: interface nexthop without interface", ErrBadNexthop)
			}
		case state.NexthopGateway, state.NexthopGatewayIfindex:
			if !nh.Gateway.IsValid() {
				return fmt.Errorf("%w: gateway nexthop without gateway", ErrBadNexthop)
			}
			if nh.Gateway.Is4() != (req.Prefix.Afi() == state.AfiIPv4) {
				return fmt.Errorf("%w: gateway %s crosses address families", ErrBadNexthop, nh.Gateway)
			}
			if nh.Kind == state.NexthopGatewayIfindex && nh.Ifname == "" {
				return fmt.Errorf("%w: gateway+interface nexthop without interface", ErrBadNexthop)
			}
		default:
			return fmt.Errorf("%w: unknown nexthop kind %d", ErrBadNexthop, nh.Kind)
		}
	}
	return nil
}

// Submit adds or replaces the candidate route described by req. A second
// submission from the same (protocol, instance) for the same prefix
// replaces the previous one. The resolution and selection cascade runs
// before Submit returns, so the caller observes a consistent table.
func (r *RIB) Submit(req RouteRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	v, err := r.vrf(req.Vrf)
	if err != nil {
		return err
	}
	safi := req.Safi
	if safi == 0 {
		safi = state.SafiUnicast
	}
	dist := state.DefaultDistance(req.Proto)
	if req.Distance != nil {
		dist = *req.Distance
	}
	entry := &state.RouteEntry{
		Prefix:   req.Prefix,
		Owner:    state.Owner{Proto: req.Proto, Instance: req.Instance},
		Distance: dist,
		Metric:   req.Metric,
		Tag:      req.Tag,
		Uptime:   unixNow(),
		Nexthops: append([]state.Nexthop(nil), req.Nexthops...),
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.submit(safi, entry)
}

// Withdraw removes the candidate owned by (proto, instance) for the given
// prefix. Withdrawing the last candidate releases the tree node.
func (r *RIB) Withdraw(vrfName string, safi state.Safi, pfx state.Prefix, owner state.Owner) error {
	if !pfx.IsValid() {
		return fmt.Errorf("%w: %s", ErrBadPrefix, pfx)
	}
	v, err := r.vrf(vrfName)
	if err != nil {
		return err
	}
	if safi == 0 {
		safi = state.SafiUnicast
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.withdraw(safi, pfx, owner)
}

// SetInterface mirrors link state into a VRF: connected routes are
// synthesized for the addresses of an interface that is up, withdrawn
// otherwise, and every route resolving over the interface is revalidated.
func (r *RIB) SetInterface(vrfName string, ifc state.Interface) error {
	if err := state.NameValidator(ifc.Name); err != nil {
		return err
	}
	v, err := r.vrf(vrfName)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setInterface(ifc)
	return nil
}

// SetRPFMode switches the multicast reverse-path lookup policy of a VRF.
func (r *RIB) SetRPFMode(vrfName string, mode state.RPFMode) error {
	v, err := r.vrf(vrfName)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rpfMode = mode
	return nil
}

// RetryFailedInstalls re-attempts programming of selected routes whose
// last install failed. The adapter decides which failures are ripe for a
// retry; the RIB only cares that the route is still selected.
func (r *RIB) RetryFailedInstalls() {
	r.mu.RLock()
	vrfs := make([]*Vrf, 0, len(r.vrfs))
	for _, v := range r.vrfs {
		vrfs = append(vrfs, v)
	}
	r.mu.RUnlock()
	for _, v := range vrfs {
		v.mu.Lock()
		v.retryFailed()
		v.mu.Unlock()
	}
}

// TableStats summarizes one route table for the presentation layer.
type TableStats struct {
	Afi    state.Afi
	Safi   state.Safi
	Routes int
	// Nodes counts live tree nodes, including branch nodes.
	Nodes int
}

// Stats reports per-table sizes of a VRF.
func (r *RIB) Stats(vrfName string) ([]TableStats, error) {
	v, err := r.vrf(vrfName)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []TableStats
	for _, afi := range []state.Afi{state.AfiIPv4, state.AfiIPv6} {
		for _, safi := range []state.Safi{state.SafiUnicast, state.SafiMulticast} {
			tbl := v.table(tableKey{afi, safi})
			out = append(out, TableStats{Afi: afi, Safi: safi, Routes: tbl.Len(), Nodes: tbl.Nodes()})
		}
	}
	return out, nil
}

// LookupRoute returns the selected route covering addr in the unicast
// table, if any.
func (r *RIB) LookupRoute(vrfName string, addr netip.Addr) (RouteDetail, bool) {
	v, err := r.vrf(vrfName)
	if err != nil {
		return RouteDetail{}, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lookup(state.SafiUnicast, addr)
}
