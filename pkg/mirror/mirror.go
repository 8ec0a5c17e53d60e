// Package mirror copies state views to an external sink as they change.
//
// A mirror is write-only: nothing is ever read back from it, and the engine
// never restores state from it. It exists so that other processes can observe
// the fleet views without polling the HTTP API.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed is returned when publishing to a closed mirror.
var ErrClosed = errors.New("mirror closed")

// Entry is one published view.
type Entry struct {
	View        string          `json:"view"`
	Version     uint64          `json:"version"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Mirror receives view changes.
type Mirror interface {
	Publish(ctx context.Context, entry Entry) error
	Close() error
}

// NewEntry marshals a view into an Entry.
func NewEntry(view string, version uint64, payload any) (Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		View:        view,
		Version:     version,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}, nil
}
