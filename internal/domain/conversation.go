package domain

import "time"

// Conversation is the authoritative participant record. The pair is
// immutable after creation; User1ID always holds the smaller id.
type Conversation struct {
	ID        int64
	User1ID   int64
	User2ID   int64
	CreatedAt time.Time
}

// Other returns the counterpart of userID in the conversation.
func (c Conversation) Other(userID int64) int64 {
	if userID == c.User1ID {
		return c.User2ID
	}
	return c.User1ID
}

// Has reports whether userID is one of the two participants.
func (c Conversation) Has(userID int64) bool {
	return userID == c.User1ID || userID == c.User2ID
}
