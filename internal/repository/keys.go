package repository

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	skPrefixMsg   = "MSG#"
	skPrefixInbox = "INBOX#"
	skMeta        = "META#"
	skPair        = "PAIR#"
)

// convPK returns the partition key of a conversation's message log and of
// its registry row.
func convPK(conversationID int64) string {
	return "CONV#" + strconv.FormatInt(conversationID, 10)
}

// userPK returns the partition key of a user's inbox.
func userPK(userID int64) string {
	return "USER#" + strconv.FormatInt(userID, 10)
}

// pairPK returns the partition key of the pair-lookup row. The pair is
// already canonicalized, so the same two users always map to one key.
func pairPK(user1, user2 int64) string {
	return fmt.Sprintf("PAIR#%d#%d", user1, user2)
}

// invertTS encodes a timestamp so that ascending lexicographic order over
// the encoded form is descending chronological order. The store sorts a
// range in one direction only; inverting the timestamp keeps the required
// (timestamp desc, id asc) clustering order in a single ascending scan.
func invertTS(ts time.Time) string {
	return fmt.Sprintf("%020d", math.MaxInt64-ts.UTC().UnixNano())
}

// msgSK returns the message sort key. The trailing message id breaks ties
// between identical timestamps, ascending.
func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + invertTS(ts) + "#" + messageID
}

// inboxSK returns the inbox sort key. The conversation id is zero-padded so
// ties on the activity timestamp order by ascending id.
func inboxSK(lastMessageAt time.Time, conversationID int64) string {
	return fmt.Sprintf("%s%s#%020d", skPrefixInbox, invertTS(lastMessageAt), conversationID)
}
