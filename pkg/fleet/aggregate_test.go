package fleet

import (
	"reflect"
	"testing"
)

func rec(vehicle int, createdAt string, soc, soh float64) TelemetryRecord {
	return TelemetryRecord{
		VehicleID:     vehicle,
		BMSID:         "bms",
		StateOfCharge: soc,
		StateOfHealth: soh,
		CreatedAt:     createdAt,
	}
}

func TestAggregate_FleetScenario(t *testing.T) {
	// Input deliberately out of order across vehicles and timestamps.
	records := []TelemetryRecord{
		rec(9002, "2025-01-01T00:00:01Z", 90, 99),
		rec(9001, "2025-01-01T00:00:02Z", 78, 97),
		rec(9001, "2025-01-01T00:00:03Z", 76, 96),
		rec(9002, "2025-01-01T00:00:02Z", 88, 98),
		rec(9001, "2025-01-01T00:00:01Z", 80, 98),
	}

	snapshot := Aggregate(records)

	if len(snapshot) != 2 {
		t.Fatalf("expected 2 vehicles, got %d", len(snapshot))
	}

	tests := []struct {
		vehicle   int
		latestSoC float64
		latestAt  string
		socHist   []float64
		sohHist   []float64
	}{
		{9001, 76, "2025-01-01T00:00:03Z", []float64{80, 78, 76}, []float64{98, 97, 96}},
		{9002, 88, "2025-01-01T00:00:02Z", []float64{90, 88}, []float64{99, 98}},
	}

	for i, tt := range tests {
		got := snapshot[i]
		if got.VehicleID != tt.vehicle {
			t.Errorf("snapshot[%d].VehicleID = %d, want %d", i, got.VehicleID, tt.vehicle)
		}
		if got.StateOfCharge != tt.latestSoC {
			t.Errorf("vehicle %d: latest SoC = %v, want %v", tt.vehicle, got.StateOfCharge, tt.latestSoC)
		}
		if got.CreatedAt != tt.latestAt {
			t.Errorf("vehicle %d: latest created_at = %q, want %q", tt.vehicle, got.CreatedAt, tt.latestAt)
		}
		if !reflect.DeepEqual(got.SocHistory, tt.socHist) {
			t.Errorf("vehicle %d: socHistory = %v, want %v", tt.vehicle, got.SocHistory, tt.socHist)
		}
		if !reflect.DeepEqual(got.SohHistory, tt.sohHist) {
			t.Errorf("vehicle %d: sohHistory = %v, want %v", tt.vehicle, got.SohHistory, tt.sohHist)
		}
	}
}

func TestAggregate_Empty(t *testing.T) {
	for _, in := range [][]TelemetryRecord{nil, {}} {
		snapshot := Aggregate(in)
		if snapshot == nil {
			t.Fatal("expected non-nil snapshot")
		}
		if len(snapshot) != 0 {
			t.Errorf("expected empty snapshot, got %d vehicles", len(snapshot))
		}
	}
}

func TestAggregate_OneStatePerVehicle(t *testing.T) {
	var records []TelemetryRecord
	counts := map[int]int{3: 4, 1: 1, 7: 2, 2: 5}
	ts := 0
	for vehicle, n := range counts {
		for i := 0; i < n; i++ {
			ts++
			records = append(records, rec(vehicle, stamp(ts), float64(ts), 100))
		}
	}

	snapshot := Aggregate(records)

	if len(snapshot) != len(counts) {
		t.Fatalf("expected %d vehicles, got %d", len(counts), len(snapshot))
	}

	for i, v := range snapshot {
		if i > 0 && snapshot[i-1].VehicleID >= v.VehicleID {
			t.Errorf("snapshot not sorted by vehicle id: %d before %d", snapshot[i-1].VehicleID, v.VehicleID)
		}
		if len(v.SocHistory) != counts[v.VehicleID] {
			t.Errorf("vehicle %d: history length %d, want %d", v.VehicleID, len(v.SocHistory), counts[v.VehicleID])
		}
		for j := 1; j < len(v.SocHistory); j++ {
			// SoC was seeded from the increasing timestamp counter.
			if v.SocHistory[j-1] >= v.SocHistory[j] {
				t.Errorf("vehicle %d: history not oldest-first: %v", v.VehicleID, v.SocHistory)
			}
		}
		if v.SocHistory[len(v.SocHistory)-1] != v.StateOfCharge {
			t.Errorf("vehicle %d: last history value %v != latest SoC %v", v.VehicleID, v.SocHistory[len(v.SocHistory)-1], v.StateOfCharge)
		}
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	records := []TelemetryRecord{
		rec(5, "2025-01-01T00:00:01Z", 50, 90),
		rec(5, "2025-01-01T00:00:01Z", 51, 91),
		rec(4, "2025-01-01T00:00:02Z", 40, 80),
		rec(5, "2025-01-01T00:00:00Z", 52, 92),
	}

	first := Aggregate(records)
	second := Aggregate(records)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("aggregation not deterministic:\n%v\n%v", first, second)
	}
}

func TestAggregate_DoesNotMutateInput(t *testing.T) {
	driver := "Ana"
	records := []TelemetryRecord{
		{VehicleID: 1, CreatedAt: "2025-01-01T00:00:01Z", StateOfCharge: 10, CellVoltages: []float64{3.6, 3.7}},
		{VehicleID: 1, CreatedAt: "2025-01-01T00:00:02Z", StateOfCharge: 20, Driver: &driver},
	}
	before := make([]TelemetryRecord, len(records))
	copy(before, records)

	snapshot := Aggregate(records)

	if !reflect.DeepEqual(records, before) {
		t.Errorf("input was modified: %v", records)
	}
	if snapshot[0].Driver == nil || *snapshot[0].Driver != "Ana" {
		t.Errorf("expected driver to carry over from latest record")
	}
}

func TestSnapshot_Find(t *testing.T) {
	snapshot := Aggregate([]TelemetryRecord{rec(1, "a", 1, 1), rec(2, "a", 2, 2)})

	if v, ok := snapshot.Find(2); !ok || v.StateOfCharge != 2 {
		t.Errorf("Find(2) = %v, %v", v, ok)
	}
	if _, ok := snapshot.Find(3); ok {
		t.Error("Find(3) should report missing vehicle")
	}
}

func stamp(i int) string {
	return "2025-01-01T00:00:" + string(rune('0'+i/10)) + string(rune('0'+i%10)) + "Z"
}

func TestVehicleState_Equal(t *testing.T) {
	driver := func(s string) *string { return &s }
	base := func() VehicleState {
		return VehicleState{
			TelemetryRecord: TelemetryRecord{VehicleID: 9001, StateOfCharge: 80, CreatedAt: "2025-01-01T00:00:00Z",
				Driver: driver("Ana"), CellVoltages: []float64{3.61, 3.62}},
			SocHistory: []float64{81, 80},
			SohHistory: []float64{97, 97},
		}
	}

	tests := []struct {
		name   string
		modify func(*VehicleState)
		want   bool
	}{
		{"identical", func(*VehicleState) {}, true},
		{"same driver value", func(v *VehicleState) { v.Driver = driver("Ana") }, true},
		{"soc", func(v *VehicleState) { v.StateOfCharge = 79 }, false},
		{"timestamp", func(v *VehicleState) { v.CreatedAt = "2025-01-01T00:00:01Z" }, false},
		{"driver", func(v *VehicleState) { v.Driver = driver("Ben") }, false},
		{"no driver", func(v *VehicleState) { v.Driver = nil }, false},
		{"cell voltages", func(v *VehicleState) { v.CellVoltages = []float64{3.61} }, false},
		{"history", func(v *VehicleState) { v.SocHistory = []float64{82, 81, 80} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base()
			tt.modify(&other)
			if got := base().Equal(other); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}
