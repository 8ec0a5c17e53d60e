package sources

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/voltfleet/voltfleet/pkg/fleet"
)

const (
	simulatedVehicleID = 9999
	simulatedDriver    = "Simulated Driver"
	simulatedBMSID     = "simulated-bms-id"
	simulatedSeedCount = 20
	simulatedWindow    = 30
)

// Simulated is an in-process telemetry source for a single discharging
// vehicle. It needs no network and is used for demos and local development.
//
// Every Fetch advances the simulation by one sample and returns the whole
// retained window, so the aggregator sees a full history. State of charge
// drops by up to 0.5 per sample and stays within [30, 95].
type Simulated struct {
	VehicleID int
	Driver    string
	// Window is the number of samples retained (defaults to 30).
	Window int

	mu      sync.Mutex
	rng     *rand.Rand
	now     func() time.Time
	samples []fleet.TelemetryRecord
}

// NewSimulated returns a simulated source seeded deterministically.
func NewSimulated(seed uint64) *Simulated {
	return &Simulated{
		VehicleID: simulatedVehicleID,
		Driver:    simulatedDriver,
		Window:    simulatedWindow,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:       time.Now,
	}
}

func (s *Simulated) Name() string { return "simulated" }

// Fetch implements Source.
func (s *Simulated) Fetch(ctx context.Context) ([]fleet.TelemetryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if s.now == nil {
		s.now = time.Now
	}

	now := s.now().UTC().Truncate(time.Second)
	if len(s.samples) == 0 {
		s.seed(now)
	}

	last := s.samples[len(s.samples)-1]
	soc := clamp(last.StateOfCharge-s.rng.Float64()*0.5, 30, 95)

	// Timestamps must stay strictly increasing even when Fetch is called
	// faster than once per second.
	at := now
	if prev, err := time.Parse(time.RFC3339, last.CreatedAt); err == nil && !at.After(prev) {
		at = prev.Add(time.Second)
	}
	s.samples = append(s.samples, s.sample(soc, at))

	window := s.Window
	if window <= 0 {
		window = simulatedWindow
	}
	if len(s.samples) > window {
		s.samples = append([]fleet.TelemetryRecord(nil), s.samples[len(s.samples)-window:]...)
	}

	out := make([]fleet.TelemetryRecord, len(s.samples))
	copy(out, s.samples)
	return out, nil
}

// seed fills the window with samples one second apart, ending before now.
func (s *Simulated) seed(now time.Time) {
	for i := simulatedSeedCount; i > 0; i-- {
		soc := 80 + s.rng.Float64()*10
		s.samples = append(s.samples, s.sample(soc, now.Add(-time.Duration(i)*time.Second)))
	}
}

func (s *Simulated) sample(soc float64, at time.Time) fleet.TelemetryRecord {
	driver := s.Driver
	cells := make([]float64, 6)
	for i := range cells {
		cells[i] = 3.60 + s.rng.Float64()*0.05
	}

	return fleet.TelemetryRecord{
		VehicleID:     s.VehicleID,
		BMSID:         simulatedBMSID,
		StateOfCharge: soc,
		StateOfHealth: 99.5 - (100-soc)/15,
		PackVoltage:   380 + soc/10,
		PackCurrent:   -5.5 - s.rng.Float64()*2,
		MaxCellTemp:   31.5 + s.rng.Float64()*3,
		CreatedAt:     at.Format(time.RFC3339),
		Driver:        &driver,
		CellVoltages:  cells,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
