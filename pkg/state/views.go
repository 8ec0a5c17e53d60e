package state

import (
	"time"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

// Status discriminates the variants of a view.
type Status string

const (
	// StatusLoading means no result has been received yet.
	StatusLoading Status = "loading"
	// StatusSuccess means the view carries data.
	StatusSuccess Status = "success"
	// StatusNoData means the source answered with an empty result.
	StatusNoData Status = "no_data"
	// StatusError means the most recent fetch failed or the view cannot be resolved.
	StatusError Status = "error"
)

// View names, used by subscribers that forward individual views.
const (
	ViewFleet       = "fleet"
	ViewVehicle     = "vehicle"
	ViewPredictions = "predictions"
	ViewConvoy      = "convoy"
)

// FleetView is the fleet list. Stale is only set when the store retains
// the last snapshot after a failed poll; Error then carries the failure.
type FleetView struct {
	Status    Status         `json:"status"`
	Vehicles  fleet.Snapshot `json:"vehicles,omitempty"`
	Stale     bool           `json:"stale,omitempty"`
	Error     string         `json:"error,omitempty"`
	Version   uint64         `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt,omitzero"`
}

// VehicleView is the focused vehicle.
type VehicleView struct {
	Status     Status              `json:"status"`
	Vehicle    *fleet.VehicleState `json:"vehicle,omitempty"`
	SelectedID *int                `json:"selectedId,omitempty"`
	Error      string              `json:"error,omitempty"`
	Version    uint64              `json:"version"`
	UpdatedAt  time.Time           `json:"updatedAt,omitzero"`
}

// PredictionsView is the battery-health advisory list.
type PredictionsView struct {
	Status      Status             `json:"status"`
	Predictions []fleet.Prediction `json:"predictions,omitempty"`
	Error       string             `json:"error,omitempty"`
	Version     uint64             `json:"version"`
	UpdatedAt   time.Time          `json:"updatedAt,omitzero"`
}

// ConvoyView holds the convoy advisories.
type ConvoyView struct {
	Status          Status                       `json:"status"`
	Recommendations []fleet.ConvoyRecommendation `json:"recommendations,omitempty"`
	Predictions     []fleet.ConvoyPrediction     `json:"predictions,omitempty"`
	Timestamp       string                       `json:"timestamp,omitempty"`
	Error           string                       `json:"error,omitempty"`
	Version         uint64                       `json:"version"`
	UpdatedAt       time.Time                    `json:"updatedAt,omitzero"`
}

// ViewSet bundles one read of every view. Views are read independently, so
// two views in a set may stem from different moments.
type ViewSet struct {
	Fleet       FleetView       `json:"fleet"`
	Vehicle     VehicleView     `json:"vehicle"`
	Predictions PredictionsView `json:"predictions"`
	Convoy      ConvoyView      `json:"convoy"`
}

// Versions returns the version of each view keyed by view name.
func (v ViewSet) Versions() map[string]uint64 {
	return map[string]uint64{
		ViewFleet:       v.Fleet.Version,
		ViewVehicle:     v.Vehicle.Version,
		ViewPredictions: v.Predictions.Version,
		ViewConvoy:      v.Convoy.Version,
	}
}

// View returns the named view, or nil for an unknown name.
func (v ViewSet) View(name string) any {
	switch name {
	case ViewFleet:
		return v.Fleet
	case ViewVehicle:
		return v.Vehicle
	case ViewPredictions:
		return v.Predictions
	case ViewConvoy:
		return v.Convoy
	default:
		return nil
	}
}

// ViewNames lists every view in a stable order.
func ViewNames() []string {
	return []string{ViewFleet, ViewVehicle, ViewPredictions, ViewConvoy}
}
