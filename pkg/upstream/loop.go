package upstream

import (
	"context"
	"errors"
	"time"
)

// Loop is a running background sync started by Engine.Start.
type Loop struct {
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}
}

// Start runs SyncOnce immediately and then every Interval until ctx is
// cancelled or Stop is called. Iteration failures are logged and never end
// the loop.
func (e *Engine) Start(ctx context.Context) *Loop {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go l.run(ctx, e)
	return l
}

// Run blocks running the loop until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	l := e.Start(ctx)
	<-l.Done()
	return nil
}

func (l *Loop) run(ctx context.Context, e *Engine) {
	defer close(l.done)
	interval := e.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		e.iterate(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)

		select {
		case <-ctx.Done():
			return
		case <-l.trigger:
		case <-timer.C:
		}
	}
}

func (e *Engine) iterate(ctx context.Context) {
	start := time.Now()
	res, err := e.SyncOnce(ctx)
	if ctx.Err() != nil {
		return
	}
	l := e.logger()
	switch {
	case err == nil:
		l.Debug().Stringer("state", res.State).Dur("took", time.Since(start)).Msg("sync iteration done")
	case res.State == StateConflict, res.State == StateFetchFailed:
		// already reported by reconcile
	case errors.Is(err, context.Canceled):
	default:
		l.Error().Err(err).Str("root", res.Root).Msg("sync iteration failed")
	}
}

// Trigger asks for an iteration now. Requests made while one is already
// pending are coalesced.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for an in-flight iteration to return.
func (l *Loop) Stop() {
	l.cancel()
	<-l.done
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
