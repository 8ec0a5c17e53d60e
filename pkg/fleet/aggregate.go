package fleet

import (
	"slices"
	"sort"
)

// Aggregate turns the raw records of one poll into a Snapshot.
//
// Records are grouped by vehicle id and each group is ordered newest first by
// CreatedAt. The newest record becomes the vehicle's state, and the SoC and
// SoH values of the whole group are attached to it oldest first. The result is
// sorted by vehicle id ascending.
//
// Aggregate is pure: it does not modify records and returns the same output
// for the same input. An empty input yields an empty, non-nil snapshot.
func Aggregate(records []TelemetryRecord) Snapshot {
	groups := make(map[int][]TelemetryRecord)
	for _, r := range records {
		groups[r.VehicleID] = append(groups[r.VehicleID], r)
	}

	snapshot := make(Snapshot, 0, len(groups))
	for _, group := range groups {
		snapshot = append(snapshot, collapse(group))
	}

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].VehicleID < snapshot[j].VehicleID
	})

	return snapshot
}

// collapse reduces the records of a single vehicle to its latest state.
// group is owned by the caller's map and may be reordered.
func collapse(group []TelemetryRecord) VehicleState {
	// Stable keeps input order among equal timestamps, so output is deterministic.
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].CreatedAt > group[j].CreatedAt
	})

	soc := make([]float64, len(group))
	soh := make([]float64, len(group))
	for i, r := range group {
		soc[i] = r.StateOfCharge
		soh[i] = r.StateOfHealth
	}
	slices.Reverse(soc)
	slices.Reverse(soh)

	latest := group[0]
	if latest.CellVoltages != nil {
		latest.CellVoltages = slices.Clone(latest.CellVoltages)
	}

	return VehicleState{
		TelemetryRecord: latest,
		SocHistory:      soc,
		SohHistory:      soh,
	}
}
