package domain

import "time"

// Message is a single immutable row of the per-conversation message log.
// CreatedAt and ID are assigned by the write coordinator before the row is
// persisted, so the same values can be fanned out to the inbox projections.
type Message struct {
	ConversationID int64
	ID             string
	SenderID       int64
	ReceiverID     int64
	Content        string
	CreatedAt      time.Time
}

// MessageCursor marks the last row of a returned page. The next page
// requests rows strictly older in (CreatedAt desc, ID asc) order.
type MessageCursor struct {
	CreatedAt time.Time
	ID        string
}
