package instance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/mineguard/internal/parser"
	"github.com/loykin/mineguard/internal/stream"
)

// Payload is one of StateChange, StdLine or Semantic.
type Payload interface {
	fmt.Stringer
	isPayload()
}

// StateChange records a transition performed by the Handle.
type StateChange struct {
	Old, New Status
}

func (StateChange) isPayload() {}

func (s StateChange) String() string {
	return fmt.Sprintf("StateChange { old: %s, new: %s }", s.Old, s.New)
}

// StdLine carries one line of child output.
type StdLine struct {
	Line stream.Line
}

func (StdLine) isPayload() {}

func (s StdLine) String() string {
	return fmt.Sprintf("StdLine { %s: %s }", s.Line.Source, s.Line.Text)
}

// Semantic carries a signal recognised in the server log.
type Semantic struct {
	Signal parser.Signal
}

func (Semantic) isPayload() {}

func (s Semantic) String() string {
	return fmt.Sprintf("Semantic { %s }", s.Signal)
}

// Event is an immutable lifecycle notification.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Payload   Payload
}

func newEvent(p Payload) Event {
	return Event{ID: uuid.New(), Timestamp: time.Now().UTC(), Payload: p}
}

func newLineEvent(l stream.Line) Event {
	return Event{ID: uuid.New(), Timestamp: l.Timestamp(), Payload: StdLine{Line: l}}
}

func (e Event) String() string {
	return fmt.Sprintf("UUID: %s\nTimestamp: %s\nPayload: %s",
		e.ID, e.Timestamp.Format(time.RFC3339), e.Payload)
}
