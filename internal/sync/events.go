package sync

// EventType classifies sync notifications delivered to observers.
type EventType string

const (
	// EventOnline fires when connectivity is regained.
	EventOnline EventType = "online"

	// EventOffline fires when connectivity is lost.
	EventOffline EventType = "offline"

	// EventSynced fires after a reconciliation pass completes.
	EventSynced EventType = "synced"

	// EventConflict fires when a pull resolves a concurrent edit.
	EventConflict EventType = "conflict"
)

// Event is one notification. Store and RecordID are set for conflict
// events; Detail carries event-specific context for UI display.
type Event struct {
	Type      EventType              `json:"type"`
	Store     string                 `json:"store,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Listener receives sync events. Listeners are invoked synchronously from
// the sync path and must not block.
type Listener func(Event)
