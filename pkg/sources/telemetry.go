package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

// TelemetryClient fetches the raw battery records of the whole fleet.
//
// The endpoint returns a JSON array of objects:
//
//	[{"bms_id": "b-1", "vehicleid": 9001, "state_of_charge": 76.0,
//	  "state_of_health": 96.0, "total_pack_voltage": 388.1,
//	  "total_pack_current": -5.2, "max_cell_temp": 31.4,
//	  "created_at": "2025-01-01T00:00:03Z", "driver": "Ana",
//	  "cellVoltages": [3.61, 3.62]}]
type TelemetryClient struct {
	endpoint
}

// NewTelemetryClient returns a telemetry source for url.
func NewTelemetryClient(url string, client *http.Client, logger *slog.Logger) *TelemetryClient {
	return &TelemetryClient{endpoint{URL: url, HTTPClient: client, Logger: logger}}
}

func (c *TelemetryClient) Name() string { return Telemetry }

// Fetch implements Source.
func (c *TelemetryClient) Fetch(ctx context.Context) ([]fleet.TelemetryRecord, error) {
	body, err := c.get(ctx, Telemetry)
	if err != nil {
		return nil, err
	}

	records, skipped, err := DecodeTelemetry(body)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.logger().Warn("skipped malformed telemetry entries", "skipped", skipped, "decoded", len(records))
	}
	return records, nil
}

// DecodeTelemetry decodes a telemetry array. Entries that are not objects
// are skipped and counted.
func DecodeTelemetry(body []byte) ([]fleet.TelemetryRecord, int, error) {
	items, err := parseArray(Telemetry, body)
	if err != nil {
		return nil, 0, err
	}

	records := make([]fleet.TelemetryRecord, 0, len(items))
	skipped := 0
	for _, item := range items {
		if !item.IsObject() {
			skipped++
			continue
		}
		records = append(records, decodeTelemetryRecord(item))
	}
	return records, skipped, nil
}

func decodeTelemetryRecord(item gjson.Result) fleet.TelemetryRecord {
	r := fleet.TelemetryRecord{
		VehicleID:     int(item.Get("vehicleid").Int()),
		BMSID:         item.Get("bms_id").String(),
		StateOfCharge: item.Get("state_of_charge").Float(),
		StateOfHealth: item.Get("state_of_health").Float(),
		PackVoltage:   item.Get("total_pack_voltage").Float(),
		PackCurrent:   item.Get("total_pack_current").Float(),
		MaxCellTemp:   item.Get("max_cell_temp").Float(),
		CreatedAt:     item.Get("created_at").String(),
	}

	if driver := item.Get("driver"); driver.Type == gjson.String {
		name := driver.String()
		r.Driver = &name
	}

	if cells := item.Get("cellVoltages"); cells.IsArray() {
		for _, v := range cells.Array() {
			r.CellVoltages = append(r.CellVoltages, v.Float())
		}
	}

	return r
}

// parseArray validates body and returns the elements of its top-level array.
func parseArray(source string, body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ParseError{Source: source, Err: ErrInvalidJSON}
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, &ParseError{Source: source, Err: fmt.Errorf("expected array, got %s", root.Type)}
	}
	return root.Array(), nil
}
