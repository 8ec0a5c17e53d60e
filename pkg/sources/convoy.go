package sources

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

// ConvoyClient fetches convoy advisories.
//
// The endpoint returns a single envelope:
//
//	{"data": {
//	    "convoy_recommendations": [{"vehicle_id": 9001, "reason": "...",
//	        "action": "...", "recommended_speed_kmph": 72}],
//	    "predictions": [{"vehicle_id": 9001, "predicted_batteryused_kwh": 12.5}],
//	    "timestamp": "2025-01-01T00:00:00Z"},
//	 "status": 200}
type ConvoyClient struct {
	endpoint
}

// NewConvoyClient returns a convoy source for url.
func NewConvoyClient(url string, client *http.Client, logger *slog.Logger) *ConvoyClient {
	return &ConvoyClient{endpoint{URL: url, HTTPClient: client, Logger: logger}}
}

func (c *ConvoyClient) Name() string { return Convoy }

// Fetch implements Source.
func (c *ConvoyClient) Fetch(ctx context.Context) (fleet.ConvoyReport, error) {
	body, err := c.get(ctx, Convoy)
	if err != nil {
		return fleet.ConvoyReport{}, err
	}
	return DecodeConvoy(body)
}

// DecodeConvoy decodes the convoy envelope. The data object is required;
// everything inside it is optional.
func DecodeConvoy(body []byte) (fleet.ConvoyReport, error) {
	if !gjson.ValidBytes(body) {
		return fleet.ConvoyReport{}, &ParseError{Source: Convoy, Err: ErrInvalidJSON}
	}

	root := gjson.ParseBytes(body)
	data := root.Get("data")
	if !data.IsObject() {
		return fleet.ConvoyReport{}, &ParseError{Source: Convoy, Err: errors.New(`missing "data" object`)}
	}

	report := fleet.ConvoyReport{
		Timestamp: data.Get("timestamp").String(),
		Status:    int(root.Get("status").Int()),
	}

	arrayOf(data, "convoy_recommendations").ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() {
			report.Recommendations = append(report.Recommendations, fleet.ConvoyRecommendation{
				VehicleID:            int(item.Get("vehicle_id").Int()),
				Reason:               item.Get("reason").String(),
				Action:               item.Get("action").String(),
				RecommendedSpeedKmph: item.Get("recommended_speed_kmph").Float(),
			})
		}
		return true
	})

	arrayOf(data, "predictions").ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() {
			report.Predictions = append(report.Predictions, fleet.ConvoyPrediction{
				VehicleID:               int(item.Get("vehicle_id").Int()),
				PredictedBatteryUsedKWh: item.Get("predicted_batteryused_kwh").Float(),
			})
		}
		return true
	})

	return report, nil
}

// arrayOf returns the array at path, or an empty result for any other type.
func arrayOf(obj gjson.Result, path string) gjson.Result {
	if r := obj.Get(path); r.IsArray() {
		return r
	}
	return gjson.Result{}
}
