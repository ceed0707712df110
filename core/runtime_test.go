package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/routesmith/ribd/fib"
	"github.com/routesmith/ribd/state"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleConfig = `
vrfs:
  - name: default
    interfaces:
      - name: eth0
        up: true
        addresses: [10.1.1.1/24]
    static:
      - prefix: 172.16.0.0/12
        via: 10.1.1.254
      - prefix: 192.168.0.0/16
        blackhole: true
        distance: 250
  - name: guest
    rpf_mode: mrib-then-urib
    static:
      - prefix: 0.0.0.0/0
        reject: true
ecmp: 4
multipath: [static]
`

func TestBuildRIBFromConfig(t *testing.T) {
	var cfg state.Config
	require.NoError(t, yaml.Unmarshal([]byte(sampleConfig), &cfg))
	require.NoError(t, state.ConfigValidator(&cfg))

	rec := fib.NewRecorder()
	r, err := BuildRIB(&cfg, quiet(), rec)
	require.NoError(t, err)

	// connected + recursive static in default, reject default route in
	// guest; the high-distance blackhole still wins its empty prefix
	_, ok := rec.Held("default", state.NewPrefix(netip.MustParsePrefix("10.1.1.0/24")))
	assert.True(t, ok)
	held, ok := rec.Held("default", state.NewPrefix(netip.MustParsePrefix("172.16.0.0/12")))
	require.True(t, ok, "static via the connected subnet must resolve at startup")
	require.Len(t, held.Nexthops, 1)
	assert.Equal(t, "eth0", held.Nexthops[0].Ifname)
	_, ok = rec.Held("default", state.NewPrefix(netip.MustParsePrefix("192.168.0.0/16")))
	assert.True(t, ok)
	_, ok = rec.Held("guest", state.NewPrefix(netip.MustParsePrefix("0.0.0.0/0")))
	assert.True(t, ok)

	d, ok := r.LookupRoute("guest", netip.MustParseAddr("8.8.8.8"))
	require.True(t, ok)
	require.Len(t, d.Entries, 1)
	assert.Equal(t, state.NexthopReject, d.Entries[0].Nexthops[0].Kind)

	d, ok = r.LookupRoute("default", netip.MustParseAddr("192.168.5.5"))
	require.True(t, ok)
	require.Len(t, d.Entries, 1)
	assert.Equal(t, uint8(250), d.Entries[0].Distance, "explicit distance overrides the protocol default")
}

func TestBuildRIBDefaultsToDefaultVrf(t *testing.T) {
	r, err := BuildRIB(&state.Config{}, quiet(), nil)
	require.NoError(t, err)
	_, err = r.Stats("")
	assert.NoError(t, err)
}

func TestBuildRIBRejectsBadPolicy(t *testing.T) {
	_, err := BuildRIB(&state.Config{Multipath: []string{"babel"}}, quiet(), nil)
	assert.Error(t, err)
}

func TestMainLoopDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func() error)
	env := &state.Env{
		DispatchChannel: dispatch,
		Context:         ctx,
		Cancel:          cancel,
		Log:             quiet(),
	}

	done := make(chan error, 1)
	go func() { done <- MainLoop(env, dispatch) }()

	v, err := env.DispatchWait(func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	cancel(errors.New("test over"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("main loop did not stop on cancellation")
	}
}

func TestMainLoopCancelsOnDispatchError(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func() error)
	env := &state.Env{
		DispatchChannel: dispatch,
		Context:         ctx,
		Cancel:          cancel,
		Log:             quiet(),
	}

	done := make(chan error, 1)
	go func() { done <- MainLoop(env, dispatch) }()

	boom := errors.New("boom")
	env.Dispatch(func() error { return boom })

	select {
	case <-done:
		assert.ErrorIs(t, context.Cause(ctx), boom)
	case <-time.After(time.Second):
		t.Fatal("main loop did not stop on dispatch error")
	}
	cancel(nil)
}

func TestRepeatTaskStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func() error, 16)
	env := &state.Env{
		DispatchChannel: dispatch,
		Context:         ctx,
		Cancel:          cancel,
		Log:             quiet(),
	}

	ticks := make(chan struct{}, 16)
	env.RepeatTask(func() error {
		ticks <- struct{}{}
		return nil
	}, 5*time.Millisecond)

	// the task only queues work; run one round by hand
	fun := <-dispatch
	require.NoError(t, fun())
	<-ticks

	cancel(errors.New("test over"))
	// drain whatever was queued before cancellation so goleak sees a
	// clean shutdown
	for {
		select {
		case <-dispatch:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}
