// Package sources provides the voltfleet data source connectors that fetch
// battery telemetry, health predictions and convoy advisories and decode them
// into the fleet data model.
//
// Each connector implements [Source] for its record type. Available sources:
//   - TelemetryClient  - GET a JSON array of per-vehicle battery records
//   - PredictionClient - GET a JSON array of battery-health predictions
//   - ConvoyClient     - GET the convoy advisory envelope
//   - Simulated        - in-process battery simulation, no network
//
// Sources are intentionally thin. They perform one request per Fetch, decode
// what they can, and leave retries, scheduling and aggregation to the upper
// layers. Decoding is tolerant: a missing or mistyped field yields its zero
// value and never aborts the record.
package sources

import (
	"context"
	"net/http"
	"time"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

// Source is the interface all voltfleet data sources implement.
//
// Fetch performs exactly one exchange with the backing system. It must
// respect context cancellation and deadlines, and return a *StatusError or
// *ParseError where applicable so callers can classify the failure with
// IsTransient.
type Source[T any] interface {
	Fetch(ctx context.Context) (T, error)

	// Name returns a short identifier, e.g. "telemetry".
	Name() string
}

// Telemetry, Predictions and Convoy name the three source kinds.
const (
	Telemetry   = "telemetry"
	Predictions = "predictions"
	Convoy      = "convoy"
)

// Compile-time interface checks.
var (
	_ Source[[]fleet.TelemetryRecord] = (*TelemetryClient)(nil)
	_ Source[[]fleet.TelemetryRecord] = (*Simulated)(nil)
	_ Source[[]fleet.Prediction]      = (*PredictionClient)(nil)
	_ Source[fleet.ConvoyReport]      = (*ConvoyClient)(nil)
)

// DefaultTimeout bounds a single HTTP attempt when no client is supplied.
const DefaultTimeout = 15 * time.Second

// NewHTTPClient returns the process-wide client shared by all sources.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}
