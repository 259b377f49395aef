package journal

import (
	"context"
	"time"
)

// Entry kinds. They match the CHECK constraint on command_journal.kind.
const (
	KindSent         = "sent"
	KindFailed       = "failed"
	KindDropped      = "dropped"
	KindRefused      = "refused"
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
)

// ValidKind reports whether kind can be stored.
func ValidKind(kind string) bool {
	switch kind {
	case KindSent, KindFailed, KindDropped, KindRefused, KindConnected, KindDisconnected:
		return true
	}
	return false
}

// Entry is one journal row.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Command   string    `json:"command,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Kind   string // optional: one of the Kind constants
	Limit  int    // default 50, max 500
	Offset int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries journal entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}
