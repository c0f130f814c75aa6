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
	"messenger-store/internal/identity"
)

// ErrNotFound reports that the requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// participantsAPI is the minimal DynamoDB interface required by Participants.
type participantsAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Participants owns the authoritative conversation registry plus the
// pair-lookup rows that reverse-index a canonical pair to its conversation
// id. The conditional write on the pair row is the only concurrency
// arbiter in the store: whoever inserts it first owns conversation
// creation, and everyone else converges on that id.
type Participants struct {
	api       participantsAPI
	tableName string
}

// NewParticipants creates a participant registry backed by the given table.
func NewParticipants(api participantsAPI, tableName string) (*Participants, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Participants{api: api, tableName: tableName}, nil
}

// Get returns the registry row for a conversation, ErrNotFound when absent.
func (p *Participants) Get(ctx context.Context, conversationID int64) (domain.Conversation, error) {
	if conversationID <= 0 {
		return domain.Conversation{}, errors.New("repository: Get: conversation id is required")
	}

	out, err := p.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"PK": strValue(convPK(conversationID)),
			"SK": strValue(skMeta),
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	return itemToConversation(conversationID, out.Item)
}

// FindByPair resolves a canonical pair to its conversation id via the
// pair-lookup row, ErrNotFound when the pair has no conversation yet.
func (p *Participants) FindByPair(ctx context.Context, pair identity.Pair) (int64, error) {
	out, err := p.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"PK": strValue(pairPK(pair.User1, pair.User2)),
			"SK": strValue(skPair),
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: FindByPair: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, ErrNotFound
	}
	id, err := int64Attr(out.Item, "conversationId")
	if err != nil {
		return 0, fmt.Errorf("repository: FindByPair decode: %w", err)
	}
	return id, nil
}

// Create registers a conversation for the pair, idempotently. The pair row
// is inserted with an insert-if-absent condition; the winner writes the
// registry row and returns conversationID, a loser re-reads the pair row
// and returns the id the winner allocated. Concurrent duplicate calls all
// observe the same id.
func (p *Participants) Create(ctx context.Context, pair identity.Pair, conversationID int64, createdAt time.Time) (int64, error) {
	if conversationID <= 0 || createdAt.IsZero() {
		return 0, errors.New("repository: Create: conversation id and timestamp are required")
	}

	_, err := p.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             strValue(pairPK(pair.User1, pair.User2)),
			"SK":             strValue(skPair),
			"conversationId": numValue(conversationID),
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &condFailed) {
			return 0, fmt.Errorf("repository: Create pair row: %w", err)
		}
		existing, err := p.FindByPair(ctx, pair)
		if err != nil {
			return 0, fmt.Errorf("repository: Create lost race, re-read: %w", err)
		}
		return existing, nil
	}

	_, err = p.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        strValue(convPK(conversationID)),
			"SK":        strValue(skMeta),
			"user1Id":   numValue(pair.User1),
			"user2Id":   numValue(pair.User2),
			"createdAt": timeValue(createdAt),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("repository: Create registry row: %w", err)
	}
	return conversationID, nil
}

func itemToConversation(conversationID int64, item map[string]types.AttributeValue) (domain.Conversation, error) {
	user1, err := int64Attr(item, "user1Id")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get decode: %w", err)
	}
	user2, err := int64Attr(item, "user2Id")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get decode: %w", err)
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get decode: %w", err)
	}
	return domain.Conversation{
		ID:        conversationID,
		User1ID:   user1,
		User2ID:   user2,
		CreatedAt: createdAt,
	}, nil
}
