// Package state holds the shared fleet state and derives the read-only views
// the presentation layer consumes.
//
// Every unit of state (fleet, selection, predictions, convoy advisories and
// the derived focused-vehicle view) lives behind an atomic pointer and is
// replaced wholesale, never modified in place. Readers load pointers without
// locking. Writers, both poll publications and user mutations, are
// serialized by a single mutex so that read-modify-write mutations do not
// lose concurrent updates.
//
// Values returned by the getters share their slices with the store. They
// must be treated as read-only.
package state

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

// Options configures a Store.
type Options struct {
	// RetainOnFailure keeps the last fleet snapshot, marked stale, when a
	// telemetry poll fails. By default a failed poll drops the fleet view
	// to error.
	RetainOnFailure bool

	// Now is the clock used for UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Store is the engine's shared state. The zero value is not usable; call New.
type Store struct {
	mu              sync.Mutex
	version         uint64
	retainOnFailure bool
	now             func() time.Time

	fleet       atomic.Pointer[FleetView]
	selection   atomic.Pointer[int]
	vehicle     atomic.Pointer[VehicleView]
	predictions atomic.Pointer[PredictionsView]
	convoy      atomic.Pointer[ConvoyView]

	subsMu  sync.Mutex
	subs    map[uint64]chan struct{}
	nextSub uint64
}

// New creates a store with every view loading.
func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		retainOnFailure: opts.RetainOnFailure,
		now:             now,
		subs:            make(map[uint64]chan struct{}),
	}

	s.fleet.Store(&FleetView{Status: StatusLoading})
	s.vehicle.Store(&VehicleView{Status: StatusLoading})
	s.predictions.Store(&PredictionsView{Status: StatusLoading})
	s.convoy.Store(&ConvoyView{Status: StatusLoading})

	return s
}

// Fleet returns the fleet view.
func (s *Store) Fleet() FleetView { return *s.fleet.Load() }

// Vehicle returns the focused-vehicle view.
func (s *Store) Vehicle() VehicleView { return *s.vehicle.Load() }

// Predictions returns the prediction view.
func (s *Store) Predictions() PredictionsView { return *s.predictions.Load() }

// Convoy returns the convoy view.
func (s *Store) Convoy() ConvoyView { return *s.convoy.Load() }

// Selection returns the selected vehicle id, if any.
func (s *Store) Selection() (int, bool) {
	if id := s.selection.Load(); id != nil {
		return *id, true
	}
	return 0, false
}

// Views reads every view.
func (s *Store) Views() ViewSet {
	return ViewSet{
		Fleet:       s.Fleet(),
		Vehicle:     s.Vehicle(),
		Predictions: s.Predictions(),
		Convoy:      s.Convoy(),
	}
}

// PublishFleet replaces the fleet with a freshly aggregated snapshot.
// An empty snapshot yields the no-data state.
func (s *Store) PublishFleet(snapshot fleet.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &FleetView{
		Status:    StatusSuccess,
		Vehicles:  snapshot,
		Version:   s.nextVersion(),
		UpdatedAt: s.now(),
	}
	if len(snapshot) == 0 {
		view.Status = StatusNoData
		view.Vehicles = nil
	}

	s.fleet.Store(view)
	s.recomputeVehicle()
	s.notify()
}

// FailFleet records a failed telemetry poll.
func (s *Store) FailFleet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &FleetView{
		Status:    StatusError,
		Error:     message(err),
		Version:   s.nextVersion(),
		UpdatedAt: s.now(),
	}

	if prev := s.fleet.Load(); s.retainOnFailure && prev.Status == StatusSuccess {
		view.Status = StatusSuccess
		view.Vehicles = prev.Vehicles
		view.Stale = true
	}

	s.fleet.Store(view)
	s.recomputeVehicle()
	s.notify()
}

// SelectVehicle puts a vehicle in focus. The selection persists across
// polls even when the vehicle is missing from later snapshots.
func (s *Store) SelectVehicle(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.selection.Load(); cur != nil && *cur == id {
		return
	}

	s.selection.Store(&id)
	s.recomputeVehicle()
	s.notify()
}

// recomputeVehicle derives the focused-vehicle view from the current fleet
// and selection. The view is only replaced, and its version bumped, when the
// focused state differs from the current one. Callers hold s.mu.
func (s *Store) recomputeVehicle() {
	fv := s.fleet.Load()
	sel := s.selection.Load()

	view := &VehicleView{
		Status:     StatusLoading,
		SelectedID: sel,
	}

	if len(fv.Vehicles) > 0 {
		target := fv.Vehicles[0].VehicleID
		if sel != nil {
			target = *sel
		}
		if v, ok := fv.Vehicles.Find(target); ok {
			view.Status = StatusSuccess
			view.Vehicle = &v
		} else {
			view.Status = StatusError
			view.Error = fmt.Sprintf("vehicle %d not found", target)
		}
	}

	if sameVehicleView(s.vehicle.Load(), view) {
		return
	}
	view.Version = s.nextVersion()
	view.UpdatedAt = s.now()
	s.vehicle.Store(view)
}

func sameVehicleView(a, b *VehicleView) bool {
	if a == nil || a.Status != b.Status || a.Error != b.Error {
		return false
	}
	if (a.SelectedID == nil) != (b.SelectedID == nil) || (a.SelectedID != nil && *a.SelectedID != *b.SelectedID) {
		return false
	}
	if a.Vehicle == nil || b.Vehicle == nil {
		return a.Vehicle == b.Vehicle
	}
	return a.Vehicle.Equal(*b.Vehicle)
}

// PublishPredictions replaces the prediction list. Duplicate ids keep their
// first occurrence.
func (s *Store) PublishPredictions(predictions []fleet.Prediction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := dedupe(predictions, func(p fleet.Prediction) string { return p.ID })
	view := &PredictionsView{
		Status:      StatusSuccess,
		Predictions: list,
		Version:     s.nextVersion(),
		UpdatedAt:   s.now(),
	}
	if len(list) == 0 {
		view.Status = StatusNoData
		view.Predictions = nil
	}

	s.predictions.Store(view)
	s.notify()
}

// FailPredictions records a failed prediction poll.
func (s *Store) FailPredictions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictions.Store(&PredictionsView{
		Status:    StatusError,
		Error:     message(err),
		Version:   s.nextVersion(),
		UpdatedAt: s.now(),
	})
	s.notify()
}

// AcknowledgePrediction dismisses the prediction with the given id. It
// reports whether anything was removed; acknowledging an absent id is a no-op.
func (s *Store) AcknowledgePrediction(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.predictions.Load()
	next := slices.DeleteFunc(slices.Clone(cur.Predictions), func(p fleet.Prediction) bool {
		return p.ID == id
	})
	if len(next) == len(cur.Predictions) {
		return false
	}

	s.replacePredictions(cur, next)
	return true
}

// ClearNonWarningPredictions keeps only predictions whose status is
// "Warning", compared case-insensitively. Critical and healthy entries are
// removed as well. It returns the number of removed entries.
func (s *Store) ClearNonWarningPredictions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.predictions.Load()
	next := slices.DeleteFunc(slices.Clone(cur.Predictions), func(p fleet.Prediction) bool {
		return !strings.EqualFold(p.Status, "Warning")
	})
	removed := len(cur.Predictions) - len(next)
	if removed == 0 {
		return 0
	}

	s.replacePredictions(cur, next)
	return removed
}

func (s *Store) replacePredictions(cur *PredictionsView, next []fleet.Prediction) {
	s.predictions.Store(&PredictionsView{
		Status:      cur.Status,
		Predictions: next,
		Version:     s.nextVersion(),
		UpdatedAt:   s.now(),
	})
	s.notify()
}

// PublishConvoy replaces the convoy advisories. Duplicate vehicle ids keep
// their first occurrence in each list.
func (s *Store) PublishConvoy(report fleet.ConvoyReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &ConvoyView{
		Status:          StatusSuccess,
		Recommendations: dedupe(report.Recommendations, func(r fleet.ConvoyRecommendation) int { return r.VehicleID }),
		Predictions:     dedupe(report.Predictions, func(p fleet.ConvoyPrediction) int { return p.VehicleID }),
		Timestamp:       report.Timestamp,
		Version:         s.nextVersion(),
		UpdatedAt:       s.now(),
	}
	if report.Empty() {
		view.Status = StatusNoData
		view.Recommendations = nil
		view.Predictions = nil
	}

	s.convoy.Store(view)
	s.notify()
}

// FailConvoy records a failed convoy fetch.
func (s *Store) FailConvoy(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convoy.Store(&ConvoyView{
		Status:    StatusError,
		Error:     message(err),
		Version:   s.nextVersion(),
		UpdatedAt: s.now(),
	})
	s.notify()
}

// AcknowledgeConvoyRecommendation dismisses the recommendation for a vehicle.
func (s *Store) AcknowledgeConvoyRecommendation(vehicleID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.convoy.Load()
	next := slices.DeleteFunc(slices.Clone(cur.Recommendations), func(r fleet.ConvoyRecommendation) bool {
		return r.VehicleID == vehicleID
	})
	if len(next) == len(cur.Recommendations) {
		return false
	}

	view := *cur
	view.Recommendations = next
	s.replaceConvoy(&view)
	return true
}

// AcknowledgeConvoyPrediction dismisses the battery-use prediction for a vehicle.
func (s *Store) AcknowledgeConvoyPrediction(vehicleID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.convoy.Load()
	next := slices.DeleteFunc(slices.Clone(cur.Predictions), func(p fleet.ConvoyPrediction) bool {
		return p.VehicleID == vehicleID
	})
	if len(next) == len(cur.Predictions) {
		return false
	}

	view := *cur
	view.Predictions = next
	s.replaceConvoy(&view)
	return true
}

func (s *Store) replaceConvoy(view *ConvoyView) {
	view.Version = s.nextVersion()
	view.UpdatedAt = s.now()
	s.convoy.Store(view)
	s.notify()
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce: a slow subscriber sees one pending signal and should
// re-read the views. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// nextVersion returns a store-wide monotonically increasing version.
// Callers hold s.mu.
func (s *Store) nextVersion() uint64 {
	s.version++
	return s.version
}

func message(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func dedupe[T any, K comparable](items []T, key func(T) K) []T {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[K]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}
