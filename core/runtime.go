// Package core wires the RIB engine into a runnable daemon: config
// application, logging, the single-goroutine dispatch loop and the
// periodic forwarding-plane retry task.
package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"

	"github.com/routesmith/ribd/fib"
	"github.com/routesmith/ribd/rib"
	"github.com/routesmith/ribd/state"
)

const fibRetryInterval = time.Second

// NewLogger builds the daemon logger: tinted stderr, fanned out to a log
// file when one is configured.
func NewLogger(level slog.Level, logPath string) (*slog.Logger, error) {
	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	})
	if logPath == "" {
		return slog.New(stderrHandler), nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), nil
}

// BuildRIB constructs an engine from a validated config and loads the
// configured VRFs, interfaces and static routes into it.
func BuildRIB(cfg *state.Config, log *slog.Logger, sink fib.Adapter) (*rib.RIB, error) {
	opts, err := rib.OptionsFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	r := rib.New(opts, sink)
	vrfs := cfg.Vrfs
	if len(vrfs) == 0 {
		vrfs = []state.VrfCfg{{Name: state.DefaultVrfName}}
	}
	for _, vcfg := range vrfs {
		if err := r.CreateVrf(vcfg.Name); err != nil {
			return nil, err
		}
		if vcfg.RPFMode != "" {
			mode, err := state.ParseRPFMode(vcfg.RPFMode)
			if err != nil {
				return nil, err
			}
			if err := r.SetRPFMode(vcfg.Name, mode); err != nil {
				return nil, err
			}
		}
		for i, ifcfg := range vcfg.Interfaces {
			ifc := state.Interface{
				Name:      ifcfg.Name,
				Index:     i + 1,
				Up:        ifcfg.Up,
				Addresses: ifcfg.Addresses,
			}
			if err := r.SetInterface(vcfg.Name, ifc); err != nil {
				return nil, err
			}
		}
		for i := range vcfg.Static {
			if err := submitStatic(r, vcfg.Name, &vcfg.Static[i]); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func submitStatic(r *rib.RIB, vrf string, cfg *state.StaticRouteCfg) error {
	pfx, err := state.ParsePrefix(cfg.Prefix)
	if err != nil {
		return err
	}
	nh, err := cfg.Nexthop()
	if err != nil {
		return err
	}
	safi := state.SafiUnicast
	if cfg.Safi == "multicast" {
		safi = state.SafiMulticast
	}
	return r.Submit(rib.RouteRequest{
		Vrf:      vrf,
		Safi:     safi,
		Prefix:   pfx,
		Proto:    state.ProtoStatic,
		Distance: cfg.Distance,
		Metric:   cfg.Metric,
		Tag:      cfg.Tag,
		Nexthops: []state.Nexthop{nh},
	})
}

// Start runs the daemon until a shutdown signal arrives. All engine
// mutation after startup flows through the dispatch loop.
func Start(cfg state.Config, level slog.Level) error {
	if err := state.ConfigValidator(&cfg); err != nil {
		return err
	}
	log, err := NewLogger(level, cfg.LogPath)
	if err != nil {
		return err
	}

	damper := fib.NewDamper(fib.Logger{Log: log.With("component", "fib")}, cfg.FibRetry)
	defer damper.Stop()

	r, err := BuildRIB(&cfg, log, damper)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func() error)
	env := &state.Env{
		DispatchChannel: dispatch,
		Context:         ctx,
		Cancel:          cancel,
		Log:             log,
		Cfg:             cfg,
	}

	env.RepeatTask(func() error {
		r.RetryFailedInstalls()
		return nil
	}, fibRetryInterval)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
	}()

	log.Info("rib engine initialized, send SIGINT to exit")
	return MainLoop(env, dispatch)
}

// MainLoop serializes all dispatched work onto the calling goroutine.
func MainLoop(env *state.Env, dispatch <-chan func() error) error {
	env.Log.Debug("started main loop")
	for {
		select {
		case fun := <-dispatch:
			start := time.Now()
			if err := fun(); err != nil {
				env.Log.Error("error occurred during dispatch", "error", err)
				env.Cancel(err)
			}
			if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
				env.Log.Warn("dispatch took a long time", "elapsed", elapsed)
			}
		case <-env.Context.Done():
			env.Log.Info("stopped main loop", "reason", context.Cause(env.Context).Error())
			return nil
		}
	}
}
