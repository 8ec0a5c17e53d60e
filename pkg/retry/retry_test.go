package retry

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

var errTransient = errors.New("connection reset")

func alwaysTransient(error) bool { return true }

func TestDo_FailsTwiceThenSucceeds(t *testing.T) {
	timer := &recordingTimer{}
	calls := 0

	got, err := DoValue(context.Background(), DefaultPolicy(), alwaysTransient, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	}, WithTimer(timer))

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if !reflect.DeepEqual(timer.waits, want) {
		t.Errorf("waits = %v, want %v", timer.waits, want)
	}
}

func TestDo_AlwaysFailsReturnsLastError(t *testing.T) {
	timer := &recordingTimer{}
	calls := 0
	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}

	err := Do(context.Background(), DefaultPolicy(), alwaysTransient, func(ctx context.Context) error {
		e := errs[calls]
		calls++
		return e
	}, WithTimer(timer))

	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if err != errs[2] {
		t.Errorf("expected last error unwrapped, got %v", err)
	}
	if len(timer.waits) != 2 {
		t.Errorf("expected 2 waits, got %v", timer.waits)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	timer := &recordingTimer{}
	permanent := errors.New("malformed json")
	calls := 0

	err := Do(context.Background(), DefaultPolicy(), func(err error) bool { return err != permanent }, func(ctx context.Context) error {
		calls++
		return permanent
	}, WithTimer(timer))

	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
	if err != permanent {
		t.Errorf("expected permanent error unwrapped, got %v", err)
	}
	if len(timer.waits) != 0 {
		t.Errorf("expected no waits, got %v", timer.waits)
	}
}

func TestDo_NilClassifierIsPermanent(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), DefaultPolicy(), nil, func(ctx context.Context) error {
		calls++
		return errTransient
	}, WithTimer(&recordingTimer{}))

	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDo_SingleAttemptPolicy(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Once(), alwaysTransient, func(ctx context.Context) error {
		calls++
		return errTransient
	})

	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestDo_ContextCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, Policy{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Factor: 2}, alwaysTransient, func(ctx context.Context) error {
			calls++
			return errTransient
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}

	if calls != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancel took too long: %v", time.Since(start))
	}
}

func TestDo_Notify(t *testing.T) {
	var attempts []int
	var waits []time.Duration

	_ = Do(context.Background(), DefaultPolicy(), alwaysTransient, func(ctx context.Context) error {
		return errTransient
	}, WithTimer(&recordingTimer{}), WithNotify(func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
		waits = append(waits, wait)
	}))

	if !reflect.DeepEqual(attempts, []int{1, 2}) {
		t.Errorf("notify attempts = %v, want [1 2]", attempts)
	}
	if !reflect.DeepEqual(waits, []time.Duration{time.Second, 2 * time.Second}) {
		t.Errorf("notify waits = %v", waits)
	}
}

func TestPolicy_Delays(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   []time.Duration
	}{
		{
			name:   "default",
			policy: DefaultPolicy(),
			want:   []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:   "capped",
			policy: Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second, Factor: 2},
			want:   []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second},
		},
		{
			name:   "single attempt",
			policy: Once(),
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Delays()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Delays() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"once", Once(), false},
		{"zero attempts", Policy{}, true},
		{"zero delay", Policy{MaxAttempts: 2, MaxDelay: time.Second, Factor: 2}, true},
		{"cap below initial", Policy{MaxAttempts: 2, InitialDelay: 2 * time.Second, MaxDelay: time.Second, Factor: 2}, true},
		{"shrinking factor", Policy{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: time.Second, Factor: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
