package sources

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

// NewTelemetry creates a telemetry source based on kind.
//
// Supported kinds:
//   - "http": TelemetryClient against url
//   - "simulated": Simulated single-vehicle source, url is ignored
//
// Returns error if kind is unknown or required fields are missing.
func NewTelemetry(kind, url string, client *http.Client, logger *slog.Logger) (Source[[]fleet.TelemetryRecord], error) {
	switch kind {
	case "http", "":
		if url == "" {
			return nil, fmt.Errorf("http telemetry source requires a url")
		}
		return NewTelemetryClient(url, client, logger), nil
	case "simulated":
		return NewSimulated(uint64(time.Now().UnixNano())), nil
	default:
		return nil, fmt.Errorf("unknown telemetry source kind: %s (must be http or simulated)", kind)
	}
}
