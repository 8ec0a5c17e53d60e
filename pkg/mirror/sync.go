package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/voltfleet/voltfleet/pkg/state"
)

// Syncer forwards changed views from a state store to a mirror.
type Syncer struct {
	store   *state.Store
	mirror  Mirror
	logger  *slog.Logger
	timeout time.Duration

	// OnError is called for every failed publish. Optional.
	OnError func(view string, err error)
}

// NewSyncer creates a syncer. Each publish is bounded by timeout
// (0 means 3 seconds).
func NewSyncer(store *state.Store, m Mirror, timeout time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Syncer{
		store:   store,
		mirror:  m,
		logger:  logger.With("component", "mirror"),
		timeout: timeout,
	}
}

// Run publishes every view whose version changed until ctx is canceled.
// Publish failures are logged and retried on the next change.
func (s *Syncer) Run(ctx context.Context) error {
	changes, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	sent := make(map[string]uint64)
	s.flush(ctx, sent)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			s.flush(ctx, sent)
		}
	}
}

func (s *Syncer) flush(ctx context.Context, sent map[string]uint64) {
	views := s.store.Views()
	versions := views.Versions()

	for _, name := range state.ViewNames() {
		version := versions[name]
		if version == sent[name] {
			continue
		}

		entry, err := NewEntry(name, version, views.View(name))
		if err != nil {
			s.fail(name, err)
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.mirror.Publish(pctx, entry)
		cancel()
		if err != nil {
			s.fail(name, err)
			continue
		}

		sent[name] = version
		s.logger.Debug("view mirrored", "view", name, "version", version)
	}
}

func (s *Syncer) fail(view string, err error) {
	s.logger.Warn("failed to mirror view", "view", view, "error", err)
	if s.OnError != nil {
		s.OnError(view, err)
	}
}
