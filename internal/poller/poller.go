// Package poller runs recurring fetch-and-reconcile loops against the
// backend. Each result is a full snapshot; a result is handed to the caller
// only if the poller is still running and nothing newer was delivered first.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/carpool-sync/internal/observability"
)

const DefaultInterval = 3 * time.Second

type FetchFunc[T any] func(ctx context.Context) (T, error)

type Options struct {
	Interval time.Duration
	// AllowOverlap lets a tick start a fetch while the previous one is still
	// running. Off by default: the tick is skipped instead.
	AllowOverlap bool
	// StopOn reports errors that disable the poller for good, e.g. a 404
	// from an endpoint the backend does not implement.
	StopOn  func(error) bool
	OnError func(error)
	Logger  *slog.Logger
}

type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	stopped  atomic.Bool
	disabled atomic.Bool
	inflight atomic.Int32
	seq      atomic.Uint64

	deliverMu     sync.Mutex
	lastDelivered uint64
}

// Start fires fetch immediately and then every opts.Interval until the
// handle is stopped, ctx is cancelled, or StopOn matches an error.
func Start[T any](ctx context.Context, name string, fetch FetchFunc[T], opts Options, onResult func(T)) *Handle {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("poller", name)

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	tick := func() {
		if ctx.Err() != nil {
			// select may still pick a ready tick after cancellation
			return
		}
		if !opts.AllowOverlap && h.inflight.Load() > 0 {
			observability.PollsTotal.WithLabelValues(name, "skipped").Inc()
			return
		}
		seq := h.seq.Add(1)
		h.inflight.Add(1)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer h.inflight.Add(-1)
			start := time.Now()
			v, err := fetch(ctx)
			observability.PollLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
			if err != nil {
				h.fail(ctx, err, opts, log)
				return
			}
			observability.PollsTotal.WithLabelValues(name, "ok").Inc()
			h.deliver(seq, func() { onResult(v) })
		}()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(h.done)
		t := time.NewTicker(opts.Interval)
		defer t.Stop()
		tick()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				tick()
			}
		}
	}()
	return h
}

func (h *Handle) fail(ctx context.Context, err error, opts Options, log *slog.Logger) {
	if h.stopped.Load() || ctx.Err() != nil {
		// cancelled mid-flight; not a backend failure
		return
	}
	observability.PollsTotal.WithLabelValues(h.name, "error").Inc()
	if opts.StopOn != nil && opts.StopOn(err) {
		if h.disabled.CompareAndSwap(false, true) {
			observability.PollersDisabled.WithLabelValues(h.name).Inc()
			log.Warn("poller disabled", "error", err)
		}
		h.Stop()
		return
	}
	log.Debug("poll failed, retrying next tick", "error", err)
	if opts.OnError != nil {
		opts.OnError(err)
	}
}

func (h *Handle) deliver(seq uint64, fn func()) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	if h.stopped.Load() {
		observability.StaleResultsDropped.WithLabelValues(h.name).Inc()
		return
	}
	if seq <= h.lastDelivered {
		observability.StaleResultsDropped.WithLabelValues(h.name).Inc()
		return
	}
	h.lastDelivered = seq
	fn()
}

func (h *Handle) Name() string { return h.name }

// Stop cancels the timer and any in-flight fetch. No result is delivered
// after Stop returns; a callback already running is allowed to finish.
// Safe to call from inside the result callback.
func (h *Handle) Stop() {
	h.stopped.Store(true)
	h.cancel()
}

// Wait blocks until the loop and every fetch goroutine have exited.
// Must not be called from the result callback.
func (h *Handle) Wait() { h.wg.Wait() }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Disabled() bool { return h.disabled.Load() }

func (h *Handle) Stopped() bool { return h.stopped.Load() }
