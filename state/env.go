package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Env is the handle daemon goroutines use to reach the main loop. All
// engine mutation runs on a single goroutine; other goroutines (timers,
// signal handlers, producers) dispatch closures onto it. Env itself may
// be read from any goroutine.
type Env struct {
	DispatchChannel chan<- func() error
	Context         context.Context
	Cancel          context.CancelCauseFunc
	Log             *slog.Logger
	Cfg             Config
}

// Dispatch queues fun to run on the main goroutine without waiting for it.
func (e *Env) Dispatch(fun func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case e.DispatchChannel <- fun:
	case <-e.Context.Done():
	}
}

// DispatchWait queues fun on the main goroutine and waits for its result.
func (e *Env) DispatchWait(fun func() (any, error)) (any, error) {
	type pair struct {
		v   any
		err error
	}
	ret := make(chan pair, 1)
	e.Dispatch(func() error {
		v, err := fun()
		ret <- pair{v, err}
		return err
	})
	select {
	case res := <-ret:
		return res.v, res.err
	case <-e.Context.Done():
		return nil, e.Context.Err()
	}
}

// ScheduleTask runs fun on the main goroutine after delay.
func (e *Env) ScheduleTask(fun func() error, delay time.Duration) {
	time.AfterFunc(delay, func() {
		e.Dispatch(fun)
	})
}

// RepeatTask runs fun on the main goroutine every delay until shutdown.
func (e *Env) RepeatTask(fun func() error, delay time.Duration) {
	go func() {
		t := time.NewTicker(delay)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.Dispatch(fun)
			case <-e.Context.Done():
				return
			}
		}
	}()
}
