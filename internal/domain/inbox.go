package domain

import "time"

// InboxEntry is one user's denormalized view of one conversation: who the
// counterpart is and what the newest message looks like. Each live
// conversation owns exactly one entry per participant.
type InboxEntry struct {
	UserID             int64
	ConversationID     int64
	OtherUserID        int64
	LastMessageContent string
	LastMessageAt      time.Time
}

// InboxCursor marks the last entry of a returned inbox page.
type InboxCursor struct {
	LastMessageAt  time.Time
	ConversationID int64
}
