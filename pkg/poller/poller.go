// Package poller runs one single-flight fetch loop per data source.
//
// A Poller repeatedly calls its fetch function and hands every outcome,
// success or failure, to its publish function:
//
//	fetch → publish → wait → fetch → ...
//
// In interval mode the wait is a fixed sleep after the previous fetch has
// completed. In trigger mode the poller waits for Trigger to be called.
// Either way at most one fetch per poller is in flight, and triggers that
// arrive while a fetch is running coalesce into a single follow-up fetch.
//
// The lifecycle is tracked by a small state machine:
//
//	idle ──fetch──▶ fetching ──complete──▶ waiting ──fetch──▶ fetching ...
//	  └──────────────────stop──────────────────▶ stopped
//
// Canceling the context passed to Run stops the loop promptly. A fetch that
// is still running is left to finish in the background, and its result is
// discarded.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
)

// Lifecycle states.
const (
	StateIdle     = "idle"
	StateFetching = "fetching"
	StateWaiting  = "waiting"
	StateStopped  = "stopped"
)

const (
	eventFetch    = "fetch"
	eventComplete = "complete"
	eventStop     = "stop"
)

// Result is the outcome of one fetch.
type Result[T any] struct {
	Value     T
	Err       error
	FetchedAt time.Time
	Duration  time.Duration
}

// FetchFunc performs one fetch, including any retries.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// PublishFunc receives every result of a live poller.
type PublishFunc[T any] func(Result[T])

// Status is a point-in-time description of a poller.
type Status struct {
	Source      string        `json:"source"`
	Mode        string        `json:"mode"`
	Interval    time.Duration `json:"interval,omitempty"`
	State       string        `json:"state"`
	Cycles      uint64        `json:"cycles"`
	Failures    uint64        `json:"failures"`
	LastFetch   time.Time     `json:"lastFetch,omitzero"`
	LastSuccess time.Time     `json:"lastSuccess,omitzero"`
	LastError   string        `json:"lastError,omitempty"`
}

// MarshalJSON renders Interval as a duration string such as "15s".
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	out := struct {
		plain
		Interval string `json:"interval,omitempty"`
	}{plain: plain(s)}
	if s.Interval > 0 {
		out.Interval = s.Interval.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the form written by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	type plain Status
	var in struct {
		plain
		Interval string `json:"interval"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Status(in.plain)
	if in.Interval != "" {
		d, err := time.ParseDuration(in.Interval)
		if err != nil {
			return fmt.Errorf("poller status interval: %w", err)
		}
		s.Interval = d
	}
	return nil
}

// Poller drives a single data source.
type Poller[T any] struct {
	name     string
	interval time.Duration
	fetch    FetchFunc[T]
	publish  PublishFunc[T]
	trigger  chan struct{}
	machine  *fsm.FSM
	logger   *slog.Logger

	cycles   atomic.Uint64
	failures atomic.Uint64

	mu          sync.Mutex
	lastFetch   time.Time
	lastSuccess time.Time
	lastErr     string
}

// New creates a poller. An interval <= 0 selects trigger mode.
func New[T any](name string, interval time.Duration, fetch FetchFunc[T], publish PublishFunc[T], logger *slog.Logger) *Poller[T] {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
		publish:  publish,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With("source", name),
	}

	p.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventFetch, Src: []string{StateIdle, StateWaiting}, Dst: StateFetching},
			{Name: eventComplete, Src: []string{StateFetching}, Dst: StateWaiting},
			{Name: eventStop, Src: []string{StateIdle, StateFetching, StateWaiting}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.logger.Debug("poller transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)

	return p
}

// Name returns the source name.
func (p *Poller[T]) Name() string { return p.name }

// State returns the current lifecycle state.
func (p *Poller[T]) State() string { return p.machine.Current() }

// Triggered reports whether the poller runs in trigger mode.
func (p *Poller[T]) Triggered() bool { return p.interval <= 0 }

// Trigger requests a fetch. In interval mode it cuts the current wait short.
// It returns false when a request is already pending.
func (p *Poller[T]) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a snapshot of the poller's counters and state.
func (p *Poller[T]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	mode := "interval"
	if p.Triggered() {
		mode = "trigger"
	}

	return Status{
		Source:      p.name,
		Mode:        mode,
		Interval:    max(p.interval, 0),
		State:       p.State(),
		Cycles:      p.cycles.Load(),
		Failures:    p.failures.Load(),
		LastFetch:   p.lastFetch,
		LastSuccess: p.lastSuccess,
		LastError:   p.lastErr,
	}
}

// Run executes the loop until ctx is canceled and returns ctx.Err().
// In interval mode the first fetch happens immediately.
func (p *Poller[T]) Run(ctx context.Context) error {
	p.logger.Info("starting poller", "interval", p.interval, "triggered", p.Triggered())
	defer p.stop()

	for {
		if p.Triggered() {
			select {
			case <-ctx.Done():
				p.logger.Info("poller stopped")
				return ctx.Err()
			case <-p.trigger:
			}
		}

		if !p.cycle(ctx) {
			p.logger.Info("poller stopped")
			return ctx.Err()
		}

		if !p.Triggered() {
			timer := time.NewTimer(p.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				p.logger.Info("poller stopped")
				return ctx.Err()
			case <-timer.C:
			case <-p.trigger:
				timer.Stop()
			}
		}
	}
}

// cycle runs one fetch and publishes its result. It returns false when the
// poller was stopped before the result could be published.
func (p *Poller[T]) cycle(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if err := p.machine.Event(context.Background(), eventFetch); err != nil {
		p.logger.Debug("fetch refused", "state", p.State(), "error", err)
		return false
	}

	start := time.Now()
	done := make(chan Result[T], 1)
	go func() {
		v, err := p.fetch(ctx)
		done <- Result[T]{Value: v, Err: err, FetchedAt: time.Now(), Duration: time.Since(start)}
	}()

	var res Result[T]
	select {
	case <-ctx.Done():
		p.logger.Debug("discarding in-flight fetch")
		return false
	case res = <-done:
	}

	// Canceled while the result was being delivered.
	if ctx.Err() != nil {
		p.logger.Debug("discarding fetch result after cancel")
		return false
	}

	p.record(res)
	p.publish(res)

	if err := p.machine.Event(context.Background(), eventComplete); err != nil {
		p.logger.Debug("complete refused", "state", p.State(), "error", err)
	}
	return true
}

func (p *Poller[T]) record(res Result[T]) {
	p.cycles.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastFetch = res.FetchedAt
	if res.Err != nil {
		p.failures.Add(1)
		p.lastErr = res.Err.Error()
		p.logger.Warn("fetch failed", "error", res.Err, "duration_ms", res.Duration.Milliseconds())
		return
	}
	p.lastSuccess = res.FetchedAt
	p.lastErr = ""
	p.logger.Debug("fetch complete", "duration_ms", res.Duration.Milliseconds())
}

func (p *Poller[T]) stop() {
	if p.machine.Can(eventStop) {
		_ = p.machine.Event(context.Background(), eventStop)
	}
}
