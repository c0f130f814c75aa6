package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"messenger-store/internal/domain"
	"messenger-store/internal/identity"
	"messenger-store/internal/repository"
)

const (
	defaultMaxContentLen = 2000
	fanoutMaxRetries     = 2 // 3 attempts total
	priorScanLimit       = 200
)

// Registry is the participant registry surface used on the send path.
type Registry interface {
	FindByPair(ctx context.Context, pair identity.Pair) (int64, error)
	Create(ctx context.Context, pair identity.Pair, conversationID int64, createdAt time.Time) (int64, error)
}

// MessageAppender is the append-only message log surface.
type MessageAppender interface {
	Append(ctx context.Context, msg domain.Message) error
}

// InboxWriter is the inbox projection surface used by the fanout.
type InboxWriter interface {
	Upsert(ctx context.Context, e domain.InboxEntry, prevActivity *time.Time) error
	FindEntry(ctx context.Context, userID, conversationID int64, scanLimit int) (domain.InboxEntry, error)
}

// RecencyCache is the optional fast path for pair resolution and prior
// inbox positions. Any error is treated as a miss; correctness never
// depends on the cache.
type RecencyCache interface {
	Conversation(ctx context.Context, pair identity.Pair) (int64, error)
	SetConversation(ctx context.Context, pair identity.Pair, conversationID int64) error
	LastActivity(ctx context.Context, userID, conversationID int64) (time.Time, error)
	SetLastActivity(ctx context.Context, userID, conversationID int64, ts time.Time) error
}

// SendService coordinates the fan-out write for one logical send:
// resolve conversation, append to the log, then project into both
// participants' inboxes. The message log is the source of truth; the inbox
// sides are retried independently and never roll the message back.
type SendService struct {
	resolver *identity.Resolver
	registry Registry
	messages MessageAppender
	inbox    InboxWriter
	cache    RecencyCache
	logger   *zap.Logger

	maxContentLen  int
	initialBackoff time.Duration
}

type SendInput struct {
	SenderID   int64
	ReceiverID int64
	Content    string
}

type SendOutput struct {
	MessageID      string
	ConversationID int64
	CreatedAt      time.Time
}

// NewSendService wires the coordinator. cache may be nil; logger may be nil
// (a no-op logger is substituted).
func NewSendService(resolver *identity.Resolver, registry Registry, messages MessageAppender, inbox InboxWriter, cache RecencyCache, logger *zap.Logger, maxContentLen int) (*SendService, error) {
	if resolver == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if registry == nil {
		return nil, errors.New("usecase: registry must not be nil")
	}
	if messages == nil {
		return nil, errors.New("usecase: message log must not be nil")
	}
	if inbox == nil {
		return nil, errors.New("usecase: inbox must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxContentLen <= 0 {
		maxContentLen = defaultMaxContentLen
	}
	return &SendService{
		resolver:       resolver,
		registry:       registry,
		messages:       messages,
		inbox:          inbox,
		cache:          cache,
		logger:         logger,
		maxContentLen:  maxContentLen,
		initialBackoff: 250 * time.Millisecond,
	}, nil
}

// Send runs ResolveConversation, Append, then both inbox fanouts
// concurrently. A failure before or during Append fails the whole send and
// writes nothing further; once Append succeeds the send succeeds, and
// exhausted fanout retries are logged for asynchronous repair instead of
// being surfaced.
func (s *SendService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	if in.Content == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_content", nil)
	}
	if len(in.Content) > s.maxContentLen {
		return SendOutput{}, newError(ErrorInvalidInput, "content_too_long", nil)
	}

	pair, err := s.resolver.Resolve(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidUser) || errors.Is(err, identity.ErrSelfConversation) || errors.Is(err, identity.ErrUnknownUser) {
			return SendOutput{}, newError(ErrorInvalidParticipants, "invalid_pair", err)
		}
		return SendOutput{}, newError(ErrorResolutionFailed, "directory_error", err)
	}

	conversationID, err := s.resolveConversation(ctx, pair)
	if err != nil {
		return SendOutput{}, newError(ErrorResolutionFailed, "registry_error", err)
	}

	msg := domain.Message{
		ConversationID: conversationID,
		ID:             newMessageID(),
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		CreatedAt:      timeNow().UTC(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return SendOutput{}, newError(ErrorMessageWrite, "append_error", err)
	}

	// The two sides write disjoint rows and share no state; run them in
	// parallel. Cancellation from here on only stops remaining retries.
	var wg sync.WaitGroup
	for _, side := range [2]struct{ user, other int64 }{
		{user: in.SenderID, other: in.ReceiverID},
		{user: in.ReceiverID, other: in.SenderID},
	} {
		wg.Add(1)
		go func(user, other int64) {
			defer wg.Done()
			s.fanout(ctx, user, other, msg)
		}(side.user, side.other)
	}
	wg.Wait()

	return SendOutput{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// resolveConversation maps the canonical pair to its conversation id,
// creating the conversation on first contact. The registry's conditional
// write arbitrates concurrent first messages, so a freshly allocated id may
// be discarded in favor of the winner's.
func (s *SendService) resolveConversation(ctx context.Context, pair identity.Pair) (int64, error) {
	if s.cache != nil {
		if id, err := s.cache.Conversation(ctx, pair); err == nil {
			return id, nil
		}
	}

	id, err := s.registry.FindByPair(ctx, pair)
	if errors.Is(err, repository.ErrNotFound) {
		id, err = s.registry.Create(ctx, pair, newConversationID(), timeNow().UTC())
	}
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.SetConversation(ctx, pair, id); err != nil {
			s.logger.Debug("pair cache set failed", zap.Error(err))
		}
	}
	return id, nil
}

// fanout moves one participant's inbox entry to the top, retrying with
// exponential backoff. The prior clustering position is recovered from the
// cache or a bounded scan; when neither finds it the old row is left behind
// as a stale duplicate the read path tolerates.
func (s *SendService) fanout(ctx context.Context, userID, otherID int64, msg domain.Message) {
	prev := s.priorActivity(ctx, userID, msg.ConversationID)
	entry := domain.InboxEntry{
		UserID:             userID,
		ConversationID:     msg.ConversationID,
		OtherUserID:        otherID,
		LastMessageContent: msg.Content,
		LastMessageAt:      msg.CreatedAt,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, fanoutMaxRetries), ctx)

	err := backoff.Retry(func() error {
		return s.inbox.Upsert(ctx, entry, prev)
	}, policy)
	if err != nil {
		s.logger.Warn("inbox fanout exhausted retries, leaving projection for repair",
			zap.Int64("user_id", userID),
			zap.Int64("conversation_id", msg.ConversationID),
			zap.Time("message_at", msg.CreatedAt),
			zap.Error(err),
		)
		return
	}

	if s.cache != nil {
		if err := s.cache.SetLastActivity(ctx, userID, msg.ConversationID, msg.CreatedAt); err != nil {
			s.logger.Debug("recency cache set failed", zap.Error(err))
		}
	}
}

// priorActivity returns the clustering position of the user's current inbox
// entry for the conversation, or nil when none is known.
func (s *SendService) priorActivity(ctx context.Context, userID, conversationID int64) *time.Time {
	if s.cache != nil {
		if ts, err := s.cache.LastActivity(ctx, userID, conversationID); err == nil {
			return &ts
		}
	}
	e, err := s.inbox.FindEntry(ctx, userID, conversationID, priorScanLimit)
	if err != nil {
		return nil
	}
	return &e.LastMessageAt
}

// Override points for deterministic tests.
var (
	timeNow      = time.Now
	newMessageID = uuid.NewString
	// Conversation ids derive from the allocation time; the registry's
	// conditional write collapses racing allocations for one pair to a
	// single winner.
	newConversationID = func() int64 { return time.Now().UnixNano() }
)
