package fib

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/routesmith/ribd/state"
)

// DefaultRetryHold is how long a failed install is left alone before the
// periodic retry task may hit the forwarding plane again.
const DefaultRetryHold = 5 * time.Second

// Damper wraps an Adapter and rate-limits re-attempts after a failure:
// while a (vrf, prefix) is inside its hold-down window, Install returns
// the original error without touching the forwarding plane. A successful
// install, an uninstall, or window expiry clears the hold-down. The RIB's
// retry task can therefore re-drive every failed route unconditionally.
type Damper struct {
	next Adapter
	held *ttlcache.Cache[string, error]
}

func NewDamper(next Adapter, hold time.Duration) *Damper {
	if hold <= 0 {
		hold = DefaultRetryHold
	}
	d := &Damper{
		next: next,
		held: ttlcache.New[string, error](
			ttlcache.WithTTL[string, error](hold),
			ttlcache.WithDisableTouchOnHit[string, error](),
		),
	}
	go d.held.Start()
	return d
}

// Stop halts the cache's expiry goroutine.
func (d *Damper) Stop() {
	d.held.Stop()
}

func (d *Damper) Install(route Route) error {
	k := key(route.Vrf, route.Prefix)
	if item := d.held.Get(k); item != nil {
		return item.Value()
	}
	err := d.next.Install(route)
	if err != nil {
		d.held.Set(k, err, ttlcache.DefaultTTL)
		return err
	}
	d.held.Delete(k)
	return nil
}

func (d *Damper) Uninstall(vrf string, pfx state.Prefix) error {
	d.held.Delete(key(vrf, pfx))
	return d.next.Uninstall(vrf, pfx)
}
