package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"messenger-store/internal/domain"
)

// messagesAPI is the minimal DynamoDB interface required by Messages.
// Defined here for testability.
type messagesAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Messages is the append-only, time-ordered message log. One partition per
// conversation; rows cluster newest-first with ascending message id on ties.
type Messages struct {
	api       messagesAPI
	tableName string
}

// NewMessages creates a message log backed by the given table.
func NewMessages(api messagesAPI, tableName string) (*Messages, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Messages{api: api, tableName: tableName}, nil
}

// Append persists one message row. The caller assigns CreatedAt and ID
// before this call; the fresh random id guarantees a distinct clustering
// position, so no uniqueness condition is needed. Store rejections are
// wrapped and returned, never masked.
func (m *Messages) Append(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID <= 0 || msg.ID == "" || msg.CreatedAt.IsZero() {
		return errors.New("repository: Append: conversation id, message id and timestamp are required")
	}

	_, err := m.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      messageItem(msg),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// Page returns up to limit messages in (timestamp desc, id asc) order. A
// non-nil cursor restricts the scan to rows strictly older than the cursor
// position, so consecutive pages never re-issue rows already seen even if
// new messages arrive between pages. The returned cursor is nil once the
// log is exhausted.
func (m *Messages) Page(ctx context.Context, conversationID int64, before *domain.MessageCursor, limit int) ([]domain.Message, *domain.MessageCursor, error) {
	if conversationID <= 0 {
		return nil, nil, errors.New("repository: Page: conversation id is required")
	}
	if limit <= 0 {
		return nil, nil, errors.New("repository: Page: limit must be positive")
	}

	in := &dynamodb.QueryInput{
		TableName: aws.String(m.tableName),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": strValue(convPK(conversationID)),
		},
		Limit: aws.Int32(int32(limit)),
	}
	if before == nil {
		in.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		in.ExpressionAttributeValues[":prefix"] = strValue(skPrefixMsg)
	} else {
		// Encoded sort keys ascend as timestamps descend, so "strictly
		// older than the cursor" is a greater-than range condition.
		in.KeyConditionExpression = aws.String("PK = :pk AND SK > :after")
		in.ExpressionAttributeValues[":after"] = strValue(msgSK(before.CreatedAt, before.ID))
	}

	out, err := m.api.Query(ctx, in)
	if err != nil {
		return nil, nil, fmt.Errorf("repository: Page query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, nil, fmt.Errorf("repository: Page unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}

	var next *domain.MessageCursor
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		next = &domain.MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return msgs, next, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             strValue(convPK(msg.ConversationID)),
		"SK":             strValue(msgSK(msg.CreatedAt, msg.ID)),
		"conversationId": numValue(msg.ConversationID),
		"messageId":      strValue(msg.ID),
		"senderId":       numValue(msg.SenderID),
		"receiverId":     numValue(msg.ReceiverID),
		"content":        strValue(msg.Content),
		"createdAt":      timeValue(msg.CreatedAt),
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	conversationID, err := int64Attr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	senderID, err := int64Attr(item, "senderId")
	if err != nil {
		return domain.Message{}, err
	}
	receiverID, err := int64Attr(item, "receiverId")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ConversationID: conversationID,
		ID:             id,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		CreatedAt:      createdAt,
	}, nil
}
