// Package fleet defines the vehicle battery data model shared by the
// sources, the aggregator and the state store.
//
// Records are plain values. Once a source has decoded them they are never
// mutated; the aggregator copies the latest record of each vehicle and
// attaches the derived history sequences to the copy.
package fleet

import "slices"

// TelemetryRecord is one timestamped battery measurement for a vehicle.
type TelemetryRecord struct {
	VehicleID     int     `json:"vehicleid"`
	BMSID         string  `json:"bms_id"`
	StateOfCharge float64 `json:"state_of_charge"`
	StateOfHealth float64 `json:"state_of_health"`
	PackVoltage   float64 `json:"total_pack_voltage"`
	PackCurrent   float64 `json:"total_pack_current"`
	MaxCellTemp   float64 `json:"max_cell_temp"`
	// CreatedAt is an ISO-8601 timestamp; fixed width, so it sorts lexicographically.
	CreatedAt    string    `json:"created_at"`
	Driver       *string   `json:"driver,omitempty"`
	CellVoltages []float64 `json:"cellVoltages,omitempty"`
}

// VehicleState is the most recent record of a vehicle together with the
// state-of-charge and state-of-health values of every record in the same
// batch, oldest first.
type VehicleState struct {
	TelemetryRecord
	SocHistory []float64 `json:"socHistory"`
	SohHistory []float64 `json:"sohHistory"`
}

// Snapshot is the per-vehicle latest-state table of one polling cycle,
// sorted by vehicle id ascending.
type Snapshot []VehicleState

// Find returns the state of the given vehicle.
func (s Snapshot) Find(vehicleID int) (VehicleState, bool) {
	for _, v := range s {
		if v.VehicleID == vehicleID {
			return v, true
		}
	}
	return VehicleState{}, false
}

// Equal reports whether two vehicle states carry the same values.
func (v VehicleState) Equal(o VehicleState) bool {
	a, b := v.TelemetryRecord, o.TelemetryRecord
	if a.VehicleID != b.VehicleID || a.BMSID != b.BMSID || a.CreatedAt != b.CreatedAt ||
		a.StateOfCharge != b.StateOfCharge || a.StateOfHealth != b.StateOfHealth ||
		a.PackVoltage != b.PackVoltage || a.PackCurrent != b.PackCurrent || a.MaxCellTemp != b.MaxCellTemp {
		return false
	}
	if (a.Driver == nil) != (b.Driver == nil) || (a.Driver != nil && *a.Driver != *b.Driver) {
		return false
	}
	return slices.Equal(a.CellVoltages, b.CellVoltages) &&
		slices.Equal(v.SocHistory, o.SocHistory) &&
		slices.Equal(v.SohHistory, o.SohHistory)
}

// Probability is the classifier output attached to a prediction.
type Probability struct {
	Healthy  float64 `json:"Healthy"`
	Warning  float64 `json:"Warning"`
	Critical float64 `json:"Critical"`
}

// Prediction is a battery-health advisory for one vehicle.
type Prediction struct {
	ID             string      `json:"prediction_id"`
	VehicleID      int         `json:"vehicle_id"`
	Status         string      `json:"prediction_status"`
	Probability    Probability `json:"probability"`
	Recommendation string      `json:"recommendation"`
	CreatedAt      string      `json:"created_at"`
}

// ConvoyRecommendation is a driving advisory for one vehicle of a convoy.
type ConvoyRecommendation struct {
	VehicleID            int     `json:"vehicle_id"`
	Reason               string  `json:"reason"`
	Action               string  `json:"action"`
	RecommendedSpeedKmph float64 `json:"recommended_speed_kmph"`
}

// ConvoyPrediction is the predicted battery usage of one convoy vehicle.
type ConvoyPrediction struct {
	VehicleID               int     `json:"vehicle_id"`
	PredictedBatteryUsedKWh float64 `json:"predicted_batteryused_kwh"`
}

// ConvoyReport is the decoded convoy envelope.
type ConvoyReport struct {
	Recommendations []ConvoyRecommendation `json:"convoy_recommendations"`
	Predictions     []ConvoyPrediction     `json:"predictions"`
	Timestamp       string                 `json:"timestamp"`
	Status          int                    `json:"status"`
}

// Empty reports whether the report carries no advisories at all.
func (r ConvoyReport) Empty() bool {
	return len(r.Recommendations) == 0 && len(r.Predictions) == 0
}
