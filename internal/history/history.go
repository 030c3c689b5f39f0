package history

import (
	"context"
	"time"
)

// Event is one recorded state transition of a server instance.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Instance   string    `json:"instance"`
	ServerUUID string    `json:"server_uuid"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	PID        int       `json:"pid"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Reader lists recorded events, newest first.
type Reader interface {
	Recent(ctx context.Context, instance string, limit int) ([]Event, error)
}
