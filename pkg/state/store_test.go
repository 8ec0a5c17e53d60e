package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

func snapshotOf(ids ...int) fleet.Snapshot {
	var records []fleet.TelemetryRecord
	for _, id := range ids {
		records = append(records, fleet.TelemetryRecord{VehicleID: id, StateOfCharge: float64(id % 100), CreatedAt: "2025-01-01T00:00:00Z"})
	}
	return fleet.Aggregate(records)
}

func predictions(statuses ...string) []fleet.Prediction {
	out := make([]fleet.Prediction, len(statuses))
	for i, s := range statuses {
		out[i] = fleet.Prediction{ID: string(rune('a' + i)), VehicleID: 9000 + i, Status: s}
	}
	return out
}

func TestNew_AllViewsLoading(t *testing.T) {
	s := New(Options{})
	v := s.Views()

	if v.Fleet.Status != StatusLoading || v.Vehicle.Status != StatusLoading ||
		v.Predictions.Status != StatusLoading || v.Convoy.Status != StatusLoading {
		t.Errorf("expected all views loading, got %+v", v)
	}
	if _, ok := s.Selection(); ok {
		t.Error("expected no selection")
	}
}

func TestFleetView_Transitions(t *testing.T) {
	tests := []struct {
		name       string
		retain     bool
		steps      func(s *Store)
		wantStatus Status
		wantCount  int
		wantStale  bool
		wantErr    string
	}{
		{
			name:       "success",
			steps:      func(s *Store) { s.PublishFleet(snapshotOf(2, 1)) },
			wantStatus: StatusSuccess,
			wantCount:  2,
		},
		{
			name:       "empty snapshot is no data",
			steps:      func(s *Store) { s.PublishFleet(fleet.Aggregate(nil)) },
			wantStatus: StatusNoData,
		},
		{
			name:       "failure before any snapshot",
			steps:      func(s *Store) { s.FailFleet(errors.New("dial tcp: refused")) },
			wantStatus: StatusError,
			wantErr:    "dial tcp: refused",
		},
		{
			name: "failure after success drops the snapshot",
			steps: func(s *Store) {
				s.PublishFleet(snapshotOf(1))
				s.FailFleet(errors.New("timeout"))
			},
			wantStatus: StatusError,
			wantErr:    "timeout",
		},
		{
			name:   "failure after success retained when configured",
			retain: true,
			steps: func(s *Store) {
				s.PublishFleet(snapshotOf(1, 2))
				s.FailFleet(errors.New("timeout"))
			},
			wantStatus: StatusSuccess,
			wantCount:  2,
			wantStale:  true,
			wantErr:    "timeout",
		},
		{
			name:   "retain does not apply without a prior snapshot",
			retain: true,
			steps: func(s *Store) {
				s.PublishFleet(fleet.Aggregate(nil))
				s.FailFleet(errors.New("timeout"))
			},
			wantStatus: StatusError,
			wantErr:    "timeout",
		},
		{
			name: "recovery clears the error",
			steps: func(s *Store) {
				s.FailFleet(errors.New("timeout"))
				s.PublishFleet(snapshotOf(3))
			},
			wantStatus: StatusSuccess,
			wantCount:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{RetainOnFailure: tt.retain})
			tt.steps(s)

			got := s.Fleet()
			if got.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tt.wantStatus)
			}
			if len(got.Vehicles) != tt.wantCount {
				t.Errorf("vehicles = %d, want %d", len(got.Vehicles), tt.wantCount)
			}
			if got.Stale != tt.wantStale {
				t.Errorf("stale = %v, want %v", got.Stale, tt.wantStale)
			}
			if got.Error != tt.wantErr {
				t.Errorf("error = %q, want %q", got.Error, tt.wantErr)
			}
		})
	}
}

func TestVehicleView_DefaultsToFirstVehicle(t *testing.T) {
	s := New(Options{})
	s.PublishFleet(snapshotOf(9002, 9001))

	v := s.Vehicle()
	if v.Status != StatusSuccess {
		t.Fatalf("status = %q, want success", v.Status)
	}
	if v.Vehicle.VehicleID != 9001 {
		t.Errorf("focused vehicle = %d, want 9001", v.Vehicle.VehicleID)
	}
	if v.SelectedID != nil {
		t.Errorf("expected no selection, got %d", *v.SelectedID)
	}
}

func TestVehicleView_SelectionPersistsAndReportsMissing(t *testing.T) {
	s := New(Options{})
	s.PublishFleet(snapshotOf(9001, 9002))

	s.SelectVehicle(9002)
	if v := s.Vehicle(); v.Status != StatusSuccess || v.Vehicle.VehicleID != 9002 {
		t.Fatalf("expected 9002 in focus, got %+v", v)
	}

	// 9002 disappears: no silent fallback to 9001.
	s.PublishFleet(snapshotOf(9001))
	v := s.Vehicle()
	if v.Status != StatusError {
		t.Fatalf("status = %q, want error", v.Status)
	}
	if v.Error != "vehicle 9002 not found" {
		t.Errorf("error = %q", v.Error)
	}

	// It comes back.
	s.PublishFleet(snapshotOf(9001, 9002))
	if v := s.Vehicle(); v.Status != StatusSuccess || v.Vehicle.VehicleID != 9002 {
		t.Errorf("expected 9002 back in focus, got %+v", v)
	}
}

func TestVehicleView_LoadingUntilSnapshot(t *testing.T) {
	s := New(Options{})

	s.PublishFleet(fleet.Aggregate(nil))
	if s.Fleet().Status != StatusNoData {
		t.Fatalf("fleet status = %q, want no_data", s.Fleet().Status)
	}

	s.SelectVehicle(9001)
	if v := s.Vehicle(); v.Status != StatusLoading {
		t.Fatalf("vehicle status = %q, want loading", v.Status)
	}

	s.FailFleet(errors.New("down"))
	if v := s.Vehicle(); v.Status != StatusLoading {
		t.Fatalf("vehicle status after failure = %q, want loading", v.Status)
	}

	s.PublishFleet(snapshotOf(9001))
	if v := s.Vehicle(); v.Status != StatusSuccess || v.Vehicle.VehicleID != 9001 {
		t.Errorf("expected 9001 once a snapshot arrives, got %+v", v)
	}
}

func TestSelectVehicle_SameIDIsNoop(t *testing.T) {
	s := New(Options{})
	s.PublishFleet(snapshotOf(1))
	s.SelectVehicle(1)
	before := s.Vehicle().Version

	s.SelectVehicle(1)
	if after := s.Vehicle().Version; after != before {
		t.Errorf("version changed from %d to %d on repeated selection", before, after)
	}
}

func TestVehicleView_VersionOnlyBumpsOnChange(t *testing.T) {
	s := New(Options{})
	s.PublishFleet(snapshotOf(1, 2))
	first := s.Vehicle()

	// Another poll with the same focused state, even if other vehicles moved.
	other := snapshotOf(1, 2)
	other[1].StateOfCharge = 55
	s.PublishFleet(other)
	if got := s.Vehicle(); got.Version != first.Version || !got.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("vehicle view replaced without a change: version %d -> %d", first.Version, got.Version)
	}
	if s.Fleet().Version <= first.Version {
		t.Error("fleet view should still advance")
	}

	changed := snapshotOf(1, 2)
	changed[0].StateOfCharge = 42
	s.PublishFleet(changed)
	got := s.Vehicle()
	if got.Version <= first.Version || got.Vehicle.StateOfCharge != 42 {
		t.Errorf("vehicle view = %+v, want a new version with SoC 42", got)
	}

	// Loading stays loading across failures of an empty fleet.
	empty := New(Options{})
	before := empty.Vehicle().Version
	empty.FailFleet(errors.New("down"))
	empty.PublishFleet(fleet.Aggregate(nil))
	if after := empty.Vehicle().Version; after != before {
		t.Errorf("loading vehicle view version %d -> %d", before, after)
	}
}

func TestAcknowledgePrediction(t *testing.T) {
	s := New(Options{})
	s.PublishFleet(snapshotOf(9001, 9002))
	s.SelectVehicle(9002)
	s.PublishPredictions(predictions("Warning", "Critical", "Healthy"))

	if !s.AcknowledgePrediction("b") {
		t.Fatal("expected acknowledgement to remove entry")
	}
	if got := len(s.Predictions().Predictions); got != 2 {
		t.Fatalf("predictions = %d, want 2", got)
	}

	version := s.Predictions().Version
	if s.AcknowledgePrediction("b") {
		t.Error("second acknowledgement should be a no-op")
	}
	if got := len(s.Predictions().Predictions); got != 2 {
		t.Errorf("predictions = %d after repeat, want 2", got)
	}
	if s.Predictions().Version != version {
		t.Error("no-op acknowledgement must not bump the version")
	}

	if id, ok := s.Selection(); !ok || id != 9002 {
		t.Errorf("selection changed to %d, %v", id, ok)
	}
}

func TestAcknowledgePrediction_DoesNotMutatePublishedSlice(t *testing.T) {
	s := New(Options{})
	s.PublishPredictions(predictions("Warning", "Critical"))
	before := s.Predictions()

	s.AcknowledgePrediction("a")

	if len(before.Predictions) != 2 || before.Predictions[0].ID != "a" {
		t.Errorf("earlier view was modified: %+v", before.Predictions)
	}
}

func TestClearNonWarningPredictions(t *testing.T) {
	s := New(Options{})
	s.PublishPredictions(predictions("Critical", "Warning", "Healthy", "warning"))

	removed := s.ClearNonWarningPredictions()
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	got := s.Predictions().Predictions
	if len(got) != 2 {
		t.Fatalf("remaining = %d, want 2", len(got))
	}
	for _, p := range got {
		if p.Status != "Warning" && p.Status != "warning" {
			t.Errorf("unexpected remaining status %q", p.Status)
		}
	}

	if s.ClearNonWarningPredictions() != 0 {
		t.Error("second clear should remove nothing")
	}
}

func TestPublishPredictions_DedupesAndEmpty(t *testing.T) {
	s := New(Options{})

	list := []fleet.Prediction{
		{ID: "p1", Status: "Warning", Recommendation: "first"},
		{ID: "p2", Status: "Critical"},
		{ID: "p1", Status: "Healthy", Recommendation: "second"},
	}
	s.PublishPredictions(list)

	got := s.Predictions()
	if len(got.Predictions) != 2 {
		t.Fatalf("predictions = %d, want 2", len(got.Predictions))
	}
	if got.Predictions[0].Recommendation != "first" {
		t.Errorf("expected first occurrence to win, got %+v", got.Predictions[0])
	}

	s.PublishPredictions(nil)
	if s.Predictions().Status != StatusNoData {
		t.Errorf("status = %q, want no_data", s.Predictions().Status)
	}

	s.FailPredictions(errors.New("http status 500"))
	if p := s.Predictions(); p.Status != StatusError || p.Error != "http status 500" || len(p.Predictions) != 0 {
		t.Errorf("unexpected failed view: %+v", p)
	}
}

func TestConvoy_PublishAndAcknowledge(t *testing.T) {
	s := New(Options{})
	s.PublishConvoy(fleet.ConvoyReport{
		Recommendations: []fleet.ConvoyRecommendation{
			{VehicleID: 1, Action: "slow"},
			{VehicleID: 2, Action: "stop"},
			{VehicleID: 1, Action: "dup"},
		},
		Predictions: []fleet.ConvoyPrediction{
			{VehicleID: 1, PredictedBatteryUsedKWh: 10},
			{VehicleID: 2, PredictedBatteryUsedKWh: 20},
		},
		Timestamp: "2025-01-01T00:00:00Z",
	})

	c := s.Convoy()
	if c.Status != StatusSuccess || len(c.Recommendations) != 2 || c.Timestamp == "" {
		t.Fatalf("unexpected convoy view: %+v", c)
	}

	if !s.AcknowledgeConvoyRecommendation(1) {
		t.Error("expected recommendation 1 to be removed")
	}
	if s.AcknowledgeConvoyRecommendation(1) {
		t.Error("repeat acknowledgement should be a no-op")
	}
	if !s.AcknowledgeConvoyPrediction(2) {
		t.Error("expected prediction 2 to be removed")
	}
	if s.AcknowledgeConvoyPrediction(42) {
		t.Error("unknown vehicle should be a no-op")
	}

	c = s.Convoy()
	if len(c.Recommendations) != 1 || c.Recommendations[0].VehicleID != 2 {
		t.Errorf("recommendations = %+v", c.Recommendations)
	}
	if len(c.Predictions) != 1 || c.Predictions[0].VehicleID != 1 {
		t.Errorf("predictions = %+v", c.Predictions)
	}
	if c.Timestamp != "2025-01-01T00:00:00Z" {
		t.Errorf("timestamp lost: %q", c.Timestamp)
	}
}

func TestConvoy_EmptyAndFailure(t *testing.T) {
	s := New(Options{})

	s.PublishConvoy(fleet.ConvoyReport{Timestamp: "t"})
	if s.Convoy().Status != StatusNoData {
		t.Errorf("status = %q, want no_data", s.Convoy().Status)
	}

	s.FailConvoy(errors.New("convoy: http status 503: busy"))
	if c := s.Convoy(); c.Status != StatusError || c.Error == "" {
		t.Errorf("unexpected failed view: %+v", c)
	}
}

func TestSubscribe_CoalescesAndUnsubscribes(t *testing.T) {
	s := New(Options{})
	ch, cancel := s.Subscribe()

	s.PublishFleet(snapshotOf(1))
	s.PublishPredictions(predictions("Warning"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce into one")
	default:
	}

	cancel()
	cancel()
	s.SelectVehicle(1)
	select {
	case <-ch:
		t.Fatal("unsubscribed channel received a signal")
	default:
	}
}

func TestVersions_Monotonic(t *testing.T) {
	s := New(Options{})
	s.PublishFleet(snapshotOf(1))
	v1 := s.Views().Versions()

	s.PublishPredictions(predictions("Warning"))
	v2 := s.Views().Versions()

	if v2[ViewPredictions] <= v1[ViewFleet] {
		t.Errorf("versions not increasing: %v then %v", v1, v2)
	}
	if v2[ViewFleet] != v1[ViewFleet] {
		t.Errorf("unrelated view version changed: %v then %v", v1, v2)
	}
}

func TestStore_ConcurrentWritersAndReaders(t *testing.T) {
	s := New(Options{})
	list := make([]fleet.Prediction, 100)
	for i := range list {
		list[i] = fleet.Prediction{ID: string(rune(0x100 + i)), Status: "Warning"}
	}
	s.PublishPredictions(list)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.AcknowledgePrediction(id)
		}(list[i].ID)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.PublishFleet(snapshotOf(i, i+1))
			s.SelectVehicle(i)
			_ = s.Views()
		}(i)
	}
	wg.Wait()

	if n := len(s.Predictions().Predictions); n != 0 {
		t.Errorf("lost acknowledgements: %d predictions left", n)
	}
	v := s.Vehicle()
	if v.Status != StatusSuccess && v.Status != StatusError {
		t.Errorf("unexpected vehicle status %q", v.Status)
	}
}
