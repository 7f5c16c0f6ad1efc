package session

import (
	"context"
	"errors"
	"time"

	"devsession_mon/internal/store"
)

var (
	// ErrInvalidPath is returned when a session is started on a missing path or a file
	ErrInvalidPath = errors.New("invalid project path")

	// ErrCollectorStart marks a collector that could not attach; the session continues without it
	ErrCollectorStart = errors.New("collector failed to start")

	// ErrNotActive is returned when stopping, or recording into, a session that is not active
	ErrNotActive = errors.New("session is not active")

	// ErrClosed is returned when starting a session on a closed manager
	ErrClosed = errors.New("session manager is closed")
)

// EventWriter is the part of the event store the collectors write to
type EventWriter interface {
	InsertFileEvent(ctx context.Context, ev *store.FileEvent) error
	InsertWindowEvent(ctx context.Context, ev *store.WindowEvent) error
	SetWindowDuration(ctx context.Context, eventID int64, d time.Duration) (bool, error)
	InsertCommandEvent(ctx context.Context, ev *store.CommandEvent) error
}
