// Package main implements the voltfleet engine orchestration.
//
// This file contains the Engine type which wires one poller per data source
// to the shared state store:
//
//	telemetry   ─poll 15s─▶ aggregate ─▶ fleet view ─▶ focused-vehicle view
//	predictions ─poll 15s─────────────▶ prediction view
//	convoy      ─trigger + retry──────▶ convoy view
//
// Every poll outcome, success or failure, is published to the store. The
// engine never stops on a source failure; it records the error and waits for
// the next cycle.
package main

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voltfleet/voltfleet/cmd/voltfleet/metrics"
	"github.com/voltfleet/voltfleet/pkg/fleet"
	"github.com/voltfleet/voltfleet/pkg/poller"
	"github.com/voltfleet/voltfleet/pkg/retry"
	"github.com/voltfleet/voltfleet/pkg/sources"
	"github.com/voltfleet/voltfleet/pkg/state"
)

// Sources groups the engine's data sources.
type Sources struct {
	Telemetry   sources.Source[[]fleet.TelemetryRecord]
	Predictions sources.Source[[]fleet.Prediction]
	Convoy      sources.Source[fleet.ConvoyReport]
}

// EngineOptions controls scheduling and retries.
type EngineOptions struct {
	TelemetryInterval   time.Duration
	PredictionsInterval time.Duration

	// PollPolicy applies to the interval sources. Defaults to a single attempt.
	PollPolicy retry.Policy
	// ConvoyPolicy applies to the triggered convoy fetch. Defaults to retry.DefaultPolicy.
	ConvoyPolicy retry.Policy

	// Timer overrides the retry wait timer. Tests only.
	Timer retry.Timer
}

// Engine runs the pollers and feeds the state store.
type Engine struct {
	store   *state.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	timer   retry.Timer

	telemetry   *poller.Poller[[]fleet.TelemetryRecord]
	predictions *poller.Poller[[]fleet.Prediction]
	convoy      *poller.Poller[fleet.ConvoyReport]
}

// NewEngine creates an engine. m may be nil.
func NewEngine(src Sources, store *state.Store, opts EngineOptions, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollPolicy.MaxAttempts == 0 {
		opts.PollPolicy = retry.Once()
	}
	if opts.ConvoyPolicy.MaxAttempts == 0 {
		opts.ConvoyPolicy = retry.DefaultPolicy()
	}

	e := &Engine{
		store:   store,
		logger:  logger,
		metrics: m,
		timer:   opts.Timer,
	}

	e.telemetry = poller.New(sources.Telemetry, opts.TelemetryInterval,
		withRetry(e, sources.Telemetry, src.Telemetry, opts.PollPolicy), e.publishTelemetry, logger)
	e.predictions = poller.New(sources.Predictions, opts.PredictionsInterval,
		withRetry(e, sources.Predictions, src.Predictions, opts.PollPolicy), e.publishPredictions, logger)
	e.convoy = poller.New(sources.Convoy, 0,
		withRetry(e, sources.Convoy, src.Convoy, opts.ConvoyPolicy), e.publishConvoy, logger)

	return e
}

// Run starts every poller and blocks until ctx is canceled. The first convoy
// fetch is triggered immediately.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting engine")

	changes, unsubscribe := e.store.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.telemetry.Run(ctx) })
	g.Go(func() error { return e.predictions.Run(ctx) })
	g.Go(func() error { return e.convoy.Run(ctx) })
	g.Go(func() error { return e.followAdvisories(ctx, changes) })

	e.RefreshConvoy()

	err := g.Wait()
	e.logger.Info("engine stopped")
	return err
}

// RefreshConvoy requests a convoy fetch. It reports false when one is
// already pending.
func (e *Engine) RefreshConvoy() bool {
	return e.convoy.Trigger()
}

// Statuses describes every poller.
func (e *Engine) Statuses() []poller.Status {
	return []poller.Status{
		e.telemetry.Status(),
		e.predictions.Status(),
		e.convoy.Status(),
	}
}

// withRetry wraps a source with a retry policy. The source call runs on a
// context detached from cancellation so an attempt that is already on the
// wire completes; waits between attempts still stop on cancel.
func withRetry[T any](e *Engine, name string, src sources.Source[T], p retry.Policy) poller.FetchFunc[T] {
	opts := []retry.Option{retry.WithNotify(func(attempt int, err error, wait time.Duration) {
		e.logger.Warn("fetch attempt failed, retrying",
			"source", name,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if e.metrics != nil {
			e.metrics.RecordRetry(name)
		}
	})}
	if e.timer != nil {
		opts = append(opts, retry.WithTimer(e.timer))
	}

	return func(ctx context.Context) (T, error) {
		return retry.DoValue(ctx, p, sources.IsTransient, func(ctx context.Context) (T, error) {
			return src.Fetch(context.WithoutCancel(ctx))
		}, opts...)
	}
}

func (e *Engine) publishTelemetry(res poller.Result[[]fleet.TelemetryRecord]) {
	if !e.observe(sources.Telemetry, res.Err, res.FetchedAt, res.Duration) {
		e.store.FailFleet(res.Err)
		return
	}

	snapshot := fleet.Aggregate(res.Value)
	e.store.PublishFleet(snapshot)
	if e.metrics != nil {
		e.metrics.SetFleetVehicles(len(snapshot))
	}
	e.logger.Debug("fleet updated", "records", len(res.Value), "vehicles", len(snapshot))
}

func (e *Engine) publishPredictions(res poller.Result[[]fleet.Prediction]) {
	if !e.observe(sources.Predictions, res.Err, res.FetchedAt, res.Duration) {
		e.store.FailPredictions(res.Err)
		return
	}
	e.store.PublishPredictions(res.Value)
}

func (e *Engine) publishConvoy(res poller.Result[fleet.ConvoyReport]) {
	if !e.observe(sources.Convoy, res.Err, res.FetchedAt, res.Duration) {
		e.store.FailConvoy(res.Err)
		return
	}
	e.store.PublishConvoy(res.Value)
}

// observe records metrics for a fetch and reports whether it succeeded.
func (e *Engine) observe(source string, err error, at time.Time, d time.Duration) bool {
	if e.metrics != nil {
		e.metrics.RecordFetch(source, d)
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError(source, sources.Reason(err))
		}
		return false
	}
	if e.metrics != nil {
		e.metrics.SetLastSuccess(source, at)
	}
	return true
}

// followAdvisories keeps the advisory gauges in step with the store, which
// changes both on polls and on acknowledgements.
func (e *Engine) followAdvisories(ctx context.Context, changes <-chan struct{}) error {
	if e.metrics == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			p := e.store.Predictions()
			c := e.store.Convoy()
			e.metrics.SetAdvisories(metrics.KindPredictions, len(p.Predictions))
			e.metrics.SetAdvisories(metrics.KindConvoyRecommendations, len(c.Recommendations))
			e.metrics.SetAdvisories(metrics.KindConvoyPredictions, len(c.Predictions))
		}
	}
}
