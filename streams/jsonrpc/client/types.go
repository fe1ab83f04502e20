package client

import (
	"encoding/json"
)

// Event types sent by the server. Replayed events come out of the server's journal and
// precede live delivery.
const (
	EventTypeReplay = "replay"
	EventTypeLive   = "live"
)

// SubscriptionEvent is the wrapper object received from the server. Payload is kept as raw
// bytes until the type is known.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}
