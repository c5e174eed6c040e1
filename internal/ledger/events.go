package ledger

// EventType names a committed ledger mutation.
type EventType string

const (
	EventOpened  EventType = "position_opened"
	EventAmended EventType = "position_amended"
	EventClosed  EventType = "position_closed"
	EventMarked  EventType = "mark_updated"
)

// Event is published after a mutation commits, so subscribers can re-read
// positions and closed records.
type Event struct {
	Type       EventType `json:"type"`
	PositionID int64     `json:"position_id"`
	ClosedID   int64     `json:"closed_id,omitempty"`
	Ticker     string    `json:"ticker,omitempty"`
	Remaining  *int64    `json:"remaining,omitempty"` // set on close; 0 means the position is gone
}

// Notifier receives ledger events. Notify must not block.
type Notifier interface {
	Notify(e Event)
}
