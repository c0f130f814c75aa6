package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"messenger-store/internal/domain"
)

// inboxAPI is the minimal DynamoDB interface required by Inbox.
type inboxAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Inbox is the per-user recency-ordered conversation index. The activity
// timestamp is part of the clustering position, so moving a conversation to
// the top is a delete of the old position plus an insert of the new one.
type Inbox struct {
	api       inboxAPI
	tableName string
}

// NewInbox creates an inbox index backed by the given table.
func NewInbox(api inboxAPI, tableName string) (*Inbox, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Inbox{api: api, tableName: tableName}, nil
}

// Upsert moves the entry's conversation to the top of the user's inbox.
// prevActivity is the clustering position of the prior entry, carried
// forward by the coordinator; nil means no prior entry is known, in which
// case only the insert happens (a stale duplicate, if one exists, is
// tolerated by the read path and cleaned up by repair). When prevActivity
// is known, the delete and insert run in one transaction.
func (i *Inbox) Upsert(ctx context.Context, e domain.InboxEntry, prevActivity *time.Time) error {
	if e.UserID <= 0 || e.ConversationID <= 0 || e.LastMessageAt.IsZero() {
		return errors.New("repository: Upsert: user id, conversation id and timestamp are required")
	}

	// Same timestamp means the same clustering position; a transaction may
	// not touch one item twice, and a plain put replaces it anyway.
	if prevActivity == nil || prevActivity.Equal(e.LastMessageAt) {
		_, err := i.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(i.tableName),
			Item:      inboxItem(e),
		})
		if err != nil {
			return fmt.Errorf("repository: Upsert: %w", err)
		}
		return nil
	}

	_, err := i.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName: aws.String(i.tableName),
					Key: map[string]types.AttributeValue{
						"PK": strValue(userPK(e.UserID)),
						"SK": strValue(inboxSK(*prevActivity, e.ConversationID)),
					},
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(i.tableName),
					Item:      inboxItem(e),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Upsert transact: %w", err)
	}
	return nil
}

// Page returns up to limit inbox entries in (last activity desc,
// conversation id asc) order, with the same cursor contract as the message
// log.
func (i *Inbox) Page(ctx context.Context, userID int64, before *domain.InboxCursor, limit int) ([]domain.InboxEntry, *domain.InboxCursor, error) {
	if userID <= 0 {
		return nil, nil, errors.New("repository: Page: user id is required")
	}
	if limit <= 0 {
		return nil, nil, errors.New("repository: Page: limit must be positive")
	}

	in := &dynamodb.QueryInput{
		TableName: aws.String(i.tableName),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": strValue(userPK(userID)),
		},
		Limit: aws.Int32(int32(limit)),
	}
	if before == nil {
		in.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		in.ExpressionAttributeValues[":prefix"] = strValue(skPrefixInbox)
	} else {
		in.KeyConditionExpression = aws.String("PK = :pk AND SK > :after")
		in.ExpressionAttributeValues[":after"] = strValue(inboxSK(before.LastMessageAt, before.ConversationID))
	}

	out, err := i.api.Query(ctx, in)
	if err != nil {
		return nil, nil, fmt.Errorf("repository: Page query: %w", err)
	}

	entries := make([]domain.InboxEntry, 0, len(out.Items))
	for _, item := range out.Items {
		e, err := itemToInboxEntry(item)
		if err != nil {
			return nil, nil, fmt.Errorf("repository: Page unmarshal: %w", err)
		}
		entries = append(entries, e)
	}

	var next *domain.InboxCursor
	if len(entries) == limit {
		last := entries[len(entries)-1]
		next = &domain.InboxCursor{LastMessageAt: last.LastMessageAt, ConversationID: last.ConversationID}
	}
	return entries, next, nil
}

// FindEntry scans at most scanLimit newest entries of a user's inbox for
// the given conversation. Best-effort recovery of a prior clustering
// position when the fast-path cache has none; ErrNotFound when the bounded
// scan does not reach the entry.
func (i *Inbox) FindEntry(ctx context.Context, userID, conversationID int64, scanLimit int) (domain.InboxEntry, error) {
	if userID <= 0 || conversationID <= 0 {
		return domain.InboxEntry{}, errors.New("repository: FindEntry: user id and conversation id are required")
	}
	if scanLimit <= 0 {
		return domain.InboxEntry{}, errors.New("repository: FindEntry: scan limit must be positive")
	}

	out, err := i.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(i.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("conversationId = :conv"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strValue(userPK(userID)),
			":prefix": strValue(skPrefixInbox),
			":conv":   numValue(conversationID),
		},
		Limit: aws.Int32(int32(scanLimit)),
	})
	if err != nil {
		return domain.InboxEntry{}, fmt.Errorf("repository: FindEntry query: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.InboxEntry{}, ErrNotFound
	}
	e, err := itemToInboxEntry(out.Items[0])
	if err != nil {
		return domain.InboxEntry{}, fmt.Errorf("repository: FindEntry unmarshal: %w", err)
	}
	return e, nil
}

func inboxItem(e domain.InboxEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                 strValue(userPK(e.UserID)),
		"SK":                 strValue(inboxSK(e.LastMessageAt, e.ConversationID)),
		"userId":             numValue(e.UserID),
		"conversationId":     numValue(e.ConversationID),
		"otherUserId":        numValue(e.OtherUserID),
		"lastMessageContent": strValue(e.LastMessageContent),
		"lastMessageAt":      timeValue(e.LastMessageAt),
	}
}

func itemToInboxEntry(item map[string]types.AttributeValue) (domain.InboxEntry, error) {
	userID, err := int64Attr(item, "userId")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	conversationID, err := int64Attr(item, "conversationId")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	otherUserID, err := int64Attr(item, "otherUserId")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	content, err := strAttr(item, "lastMessageContent")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	lastMessageAt, err := timeAttr(item, "lastMessageAt")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	return domain.InboxEntry{
		UserID:             userID,
		ConversationID:     conversationID,
		OtherUserID:        otherUserID,
		LastMessageContent: content,
		LastMessageAt:      lastMessageAt,
	}, nil
}
