package usecase

import (
	"context"
	"errors"

	"messenger-store/internal/domain"
	"messenger-store/internal/repository"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// MessageReader pages the message log.
type MessageReader interface {
	Page(ctx context.Context, conversationID int64, before *domain.MessageCursor, limit int) ([]domain.Message, *domain.MessageCursor, error)
}

// InboxReader pages a user's inbox index.
type InboxReader interface {
	Page(ctx context.Context, userID int64, before *domain.InboxCursor, limit int) ([]domain.InboxEntry, *domain.InboxCursor, error)
}

// ConversationGetter reads the authoritative registry row.
type ConversationGetter interface {
	Get(ctx context.Context, conversationID int64) (domain.Conversation, error)
}

// ReadService is the read path. Reads bypass the write coordinator and are
// pure; abandoning a pagination sequence between pages has no side effects.
type ReadService struct {
	registry ConversationGetter
	messages MessageReader
	inbox    InboxReader
}

func NewReadService(registry ConversationGetter, messages MessageReader, inbox InboxReader) (*ReadService, error) {
	if registry == nil {
		return nil, errors.New("usecase: registry must not be nil")
	}
	if messages == nil {
		return nil, errors.New("usecase: message log must not be nil")
	}
	if inbox == nil {
		return nil, errors.New("usecase: inbox must not be nil")
	}
	return &ReadService{registry: registry, messages: messages, inbox: inbox}, nil
}

type MessagesInput struct {
	ConversationID int64
	Before         *domain.MessageCursor
	Limit          int
}

type MessagesOutput struct {
	Messages []domain.Message
	Next     *domain.MessageCursor
}

// Messages returns one page of a conversation's log, newest first with
// ascending message id on timestamp ties.
func (r *ReadService) Messages(ctx context.Context, in MessagesInput) (MessagesOutput, error) {
	if in.ConversationID <= 0 {
		return MessagesOutput{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}

	if _, err := r.registry.Get(ctx, in.ConversationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return MessagesOutput{}, newError(ErrorNotFound, "conversation_not_found", nil)
		}
		return MessagesOutput{}, newError(ErrorInternal, "registry_read_error", err)
	}

	msgs, next, err := r.messages.Page(ctx, in.ConversationID, in.Before, clampLimit(in.Limit))
	if err != nil {
		return MessagesOutput{}, newError(ErrorInternal, "message_page_error", err)
	}
	return MessagesOutput{Messages: msgs, Next: next}, nil
}

type InboxInput struct {
	UserID int64
	Before *domain.InboxCursor
	Limit  int
}

type InboxOutput struct {
	Entries []domain.InboxEntry
	Next    *domain.InboxCursor
}

// Inbox returns one page of a user's conversations, most recent activity
// first. The index is an eventually consistent projection of the message
// log, so a just-sent message may briefly be missing here.
func (r *ReadService) Inbox(ctx context.Context, in InboxInput) (InboxOutput, error) {
	if in.UserID <= 0 {
		return InboxOutput{}, newError(ErrorInvalidInput, "invalid_user_id", nil)
	}

	entries, next, err := r.inbox.Page(ctx, in.UserID, in.Before, clampLimit(in.Limit))
	if err != nil {
		return InboxOutput{}, newError(ErrorInternal, "inbox_page_error", err)
	}
	return InboxOutput{Entries: entries, Next: next}, nil
}

type ConversationOutput struct {
	Conversation domain.Conversation
	LastMessage  *domain.Message
}

// Conversation returns the registry row plus the newest message when one
// exists.
func (r *ReadService) Conversation(ctx context.Context, conversationID int64) (ConversationOutput, error) {
	if conversationID <= 0 {
		return ConversationOutput{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}

	conv, err := r.registry.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ConversationOutput{}, newError(ErrorNotFound, "conversation_not_found", nil)
		}
		return ConversationOutput{}, newError(ErrorInternal, "registry_read_error", err)
	}

	msgs, _, err := r.messages.Page(ctx, conversationID, nil, 1)
	if err != nil {
		return ConversationOutput{}, newError(ErrorInternal, "message_page_error", err)
	}

	out := ConversationOutput{Conversation: conv}
	if len(msgs) > 0 {
		out.LastMessage = &msgs[0]
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
