package sources

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

// PredictionClient fetches battery-health predictions.
//
// The endpoint returns a JSON array of objects:
//
//	[{"prediction_id": "p-1", "vehicle_id": 9001, "prediction_status": "Warning",
//	  "probability": {"Healthy": 0.1, "Warning": 0.8, "Critical": 0.1},
//	  "recommendation": "Schedule a cell balance", "created_at": "2025-01-01T00:00:00Z"}]
type PredictionClient struct {
	endpoint
}

// NewPredictionClient returns a prediction source for url.
func NewPredictionClient(url string, client *http.Client, logger *slog.Logger) *PredictionClient {
	return &PredictionClient{endpoint{URL: url, HTTPClient: client, Logger: logger}}
}

func (c *PredictionClient) Name() string { return Predictions }

// Fetch implements Source.
func (c *PredictionClient) Fetch(ctx context.Context) ([]fleet.Prediction, error) {
	body, err := c.get(ctx, Predictions)
	if err != nil {
		return nil, err
	}

	predictions, skipped, err := DecodePredictions(body)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.logger().Warn("skipped malformed prediction entries", "skipped", skipped, "decoded", len(predictions))
	}
	return predictions, nil
}

// DecodePredictions decodes a prediction array. Entries that are not objects
// are skipped and counted.
func DecodePredictions(body []byte) ([]fleet.Prediction, int, error) {
	items, err := parseArray(Predictions, body)
	if err != nil {
		return nil, 0, err
	}

	predictions := make([]fleet.Prediction, 0, len(items))
	skipped := 0
	for _, item := range items {
		if !item.IsObject() {
			skipped++
			continue
		}
		predictions = append(predictions, decodePrediction(item))
	}
	return predictions, skipped, nil
}

func decodePrediction(item gjson.Result) fleet.Prediction {
	prob := item.Get("probability")
	return fleet.Prediction{
		ID:        item.Get("prediction_id").String(),
		VehicleID: int(item.Get("vehicle_id").Int()),
		Status:    item.Get("prediction_status").String(),
		Probability: fleet.Probability{
			Healthy:  prob.Get("Healthy").Float(),
			Warning:  prob.Get("Warning").Float(),
			Critical: prob.Get("Critical").Float(),
		},
		Recommendation: item.Get("recommendation").String(),
		CreatedAt:      item.Get("created_at").String(),
	}
}
