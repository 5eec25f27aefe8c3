// Package history stores finished imaging sessions in completion order.
//
// Entries are never removed or reordered. The only change after Append is a
// single AttachLocation per session, which moves it from pending to resolved.
package history

import (
	"context"

	"github.com/robert-malhotra/orbit-imager/internal/session"
)

// Store is an append-only log of finished sessions.
type Store interface {
	session.HistoryStore

	// Get returns a session by id, or ErrNotFound.
	Get(ctx context.Context, id string) (session.Session, error)

	// List returns up to limit sessions starting at offset, oldest first.
	List(ctx context.Context, offset, limit int) ([]session.Session, error)

	// Len returns the number of recorded sessions.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Sentinel errors for history operations
var (
	ErrNotFound     = historyError("session not found")
	ErrDuplicateID  = historyError("session already recorded")
	ErrNotCompleted = historyError("session has not ended")
)

type historyError string

func (e historyError) Error() string {
	return string(e)
}

func validate(s session.Session) error {
	if s.EndedAt == nil {
		return ErrNotCompleted
	}
	return nil
}
