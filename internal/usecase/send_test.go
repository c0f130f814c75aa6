package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messenger-store/internal/domain"
	"messenger-store/internal/identity"
	"messenger-store/internal/repository"
)

type fakeRegistry struct {
	mu          sync.Mutex
	findID      int64
	findErr     error
	createErr   error
	findCalls   int
	createCalls int
	createdID   int64
}

func (f *fakeRegistry) FindByPair(_ context.Context, _ identity.Pair) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	return f.findID, f.findErr
}

func (f *fakeRegistry) Create(_ context.Context, _ identity.Pair, conversationID int64, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.createdID = conversationID
	return conversationID, nil
}

type fakeAppender struct {
	err  error
	msgs []domain.Message
}

func (f *fakeAppender) Append(_ context.Context, msg domain.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

type upsertCall struct {
	entry domain.InboxEntry
	prev  *time.Time
}

type fakeInbox struct {
	mu       sync.Mutex
	upserts  []upsertCall
	failUser map[int64]bool
	entries  map[int64]domain.InboxEntry
}

func (f *fakeInbox) Upsert(_ context.Context, e domain.InboxEntry, prev *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, upsertCall{entry: e, prev: prev})
	if f.failUser[e.UserID] {
		return errors.New("inbox write rejected")
	}
	return nil
}

func (f *fakeInbox) FindEntry(_ context.Context, userID, _ int64, _ int) (domain.InboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[userID]
	if !ok {
		return domain.InboxEntry{}, repository.ErrNotFound
	}
	return e, nil
}

func (f *fakeInbox) upsertsFor(userID int64) []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []upsertCall
	for _, c := range f.upserts {
		if c.entry.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

type fakeCache struct {
	mu       sync.Mutex
	conv     map[identity.Pair]int64
	activity map[[2]int64]time.Time
	setConvs int
	setActs  int
}

func (f *fakeCache) Conversation(_ context.Context, pair identity.Pair) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.conv[pair]
	if !ok {
		return 0, errors.New("cache miss")
	}
	return id, nil
}

func (f *fakeCache) SetConversation(_ context.Context, pair identity.Pair, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conv == nil {
		f.conv = map[identity.Pair]int64{}
	}
	f.conv[pair] = conversationID
	f.setConvs++
	return nil
}

func (f *fakeCache) LastActivity(_ context.Context, userID, conversationID int64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.activity[[2]int64{userID, conversationID}]
	if !ok {
		return time.Time{}, errors.New("cache miss")
	}
	return ts, nil
}

func (f *fakeCache) SetLastActivity(_ context.Context, userID, conversationID int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activity == nil {
		f.activity = map[[2]int64]time.Time{}
	}
	f.activity[[2]int64{userID, conversationID}] = ts
	f.setActs++
	return nil
}

func newTestSendService(t *testing.T, reg Registry, app MessageAppender, inbox InboxWriter, cache RecencyCache) *SendService {
	t.Helper()
	s, err := NewSendService(identity.NewResolver(nil), reg, app, inbox, cache, zap.NewNop(), 0)
	require.NoError(t, err)
	s.initialBackoff = time.Millisecond
	return s
}

func stubClockAndIDs(t *testing.T, ts time.Time, msgID string, convID int64) {
	t.Helper()
	prevNow, prevMsg, prevConv := timeNow, newMessageID, newConversationID
	timeNow = func() time.Time { return ts }
	newMessageID = func() string { return msgID }
	newConversationID = func() int64 { return convID }
	t.Cleanup(func() {
		timeNow, newMessageID, newConversationID = prevNow, prevMsg, prevConv
	})
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
}

func TestSend_FirstMessageCreatesEverything(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	stubClockAndIDs(t, t0, "m1", 77)

	reg := &fakeRegistry{findErr: repository.ErrNotFound}
	app := &fakeAppender{}
	inbox := &fakeInbox{}
	s := newTestSendService(t, reg, app, inbox, nil)

	out, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, int64(77), out.ConversationID)
	require.Equal(t, "m1", out.MessageID)
	require.Equal(t, t0, out.CreatedAt)

	require.Equal(t, 1, reg.createCalls)
	require.Len(t, app.msgs, 1)
	require.Equal(t, domain.Message{
		ConversationID: 77,
		ID:             "m1",
		SenderID:       5,
		ReceiverID:     9,
		Content:        "hi",
		CreatedAt:      t0,
	}, app.msgs[0])

	senderSide := inbox.upsertsFor(5)
	receiverSide := inbox.upsertsFor(9)
	require.Len(t, senderSide, 1)
	require.Len(t, receiverSide, 1)
	require.Nil(t, senderSide[0].prev) // first-ever message, no prior row
	require.Equal(t, int64(9), senderSide[0].entry.OtherUserID)
	require.Equal(t, int64(5), receiverSide[0].entry.OtherUserID)
	require.Equal(t, "hi", receiverSide[0].entry.LastMessageContent)
	require.Equal(t, t0, receiverSide[0].entry.LastMessageAt)
}

func TestSend_ExistingConversationSkipsCreate(t *testing.T) {
	reg := &fakeRegistry{findID: 42}
	app := &fakeAppender{}
	inbox := &fakeInbox{}
	s := newTestSendService(t, reg, app, inbox, nil)

	out, err := s.Send(context.Background(), SendInput{SenderID: 9, ReceiverID: 5, Content: "hey"})
	require.NoError(t, err)
	require.Equal(t, int64(42), out.ConversationID)
	require.Equal(t, 0, reg.createCalls)
}

func TestSend_SecondMessageCarriesPriorPosition(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	stubClockAndIDs(t, t2, "m2", 0)

	reg := &fakeRegistry{findID: 42}
	app := &fakeAppender{}
	inbox := &fakeInbox{entries: map[int64]domain.InboxEntry{
		5: {UserID: 5, ConversationID: 42, LastMessageAt: t1},
		9: {UserID: 9, ConversationID: 42, LastMessageAt: t1},
	}}
	s := newTestSendService(t, reg, app, inbox, nil)

	_, err := s.Send(context.Background(), SendInput{SenderID: 9, ReceiverID: 5, Content: "hey"})
	require.NoError(t, err)

	for _, userID := range []int64{5, 9} {
		calls := inbox.upsertsFor(userID)
		require.Len(t, calls, 1)
		require.NotNil(t, calls[0].prev)
		require.Equal(t, t1, *calls[0].prev)
		require.Equal(t, t2, calls[0].entry.LastMessageAt)
		require.Equal(t, "hey", calls[0].entry.LastMessageContent)
	}
}

func TestSend_CacheHitSkipsRegistry(t *testing.T) {
	pair, err := identity.NewPair(5, 9)
	require.NoError(t, err)

	reg := &fakeRegistry{findErr: errors.New("registry should not be called")}
	cache := &fakeCache{conv: map[identity.Pair]int64{pair: 42}}
	inbox := &fakeInbox{}
	s := newTestSendService(t, reg, &fakeAppender{}, inbox, cache)

	out, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, int64(42), out.ConversationID)
	require.Equal(t, 0, reg.findCalls)
}

func TestSend_CachedActivityUsedAsPriorPosition(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	pair, err := identity.NewPair(5, 9)
	require.NoError(t, err)

	cache := &fakeCache{
		conv: map[identity.Pair]int64{pair: 42},
		activity: map[[2]int64]time.Time{
			{5, 42}: t1,
			{9, 42}: t1,
		},
	}
	inbox := &fakeInbox{}
	s := newTestSendService(t, &fakeRegistry{}, &fakeAppender{}, inbox, cache)

	_, err = s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	require.NoError(t, err)

	calls := inbox.upsertsFor(5)
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].prev)
	require.Equal(t, t1, *calls[0].prev)
}

func TestSend_EmptyContent(t *testing.T) {
	s := newTestSendService(t, &fakeRegistry{}, &fakeAppender{}, &fakeInbox{}, nil)
	_, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9})
	requireCode(t, err, ErrorInvalidInput)
}

func TestSend_ContentTooLong(t *testing.T) {
	s := newTestSendService(t, &fakeRegistry{}, &fakeAppender{}, &fakeInbox{}, nil)
	long := make([]byte, defaultMaxContentLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: string(long)})
	requireCode(t, err, ErrorInvalidInput)
}

func TestSend_SelfConversationRejected(t *testing.T) {
	s := newTestSendService(t, &fakeRegistry{}, &fakeAppender{}, &fakeInbox{}, nil)
	_, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 5, Content: "hi"})
	requireCode(t, err, ErrorInvalidParticipants)
}

func TestSend_RegistryDownIsFatal(t *testing.T) {
	reg := &fakeRegistry{findErr: errors.New("store unavailable")}
	app := &fakeAppender{}
	s := newTestSendService(t, reg, app, &fakeInbox{}, nil)

	_, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	requireCode(t, err, ErrorResolutionFailed)
	require.Empty(t, app.msgs) // nothing written before resolution
}

func TestSend_AppendFailureIsFatalAndSkipsFanout(t *testing.T) {
	reg := &fakeRegistry{findID: 42}
	app := &fakeAppender{err: errors.New("store rejected write")}
	inbox := &fakeInbox{}
	s := newTestSendService(t, reg, app, inbox, nil)

	_, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	requireCode(t, err, ErrorMessageWrite)
	require.Empty(t, inbox.upserts)
}

func TestSend_FanoutFailureRetriedThenSwallowed(t *testing.T) {
	reg := &fakeRegistry{findID: 42}
	inbox := &fakeInbox{failUser: map[int64]bool{9: true}}
	s := newTestSendService(t, reg, &fakeAppender{}, inbox, nil)

	out, err := s.Send(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	require.NoError(t, err) // message is durable, fanout loss is repairable
	require.NotEmpty(t, out.MessageID)

	require.Len(t, inbox.upsertsFor(5), 1)
	require.Len(t, inbox.upsertsFor(9), 3) // bounded retry attempts
}

func TestNewSendService_Validation(t *testing.T) {
	resolver := identity.NewResolver(nil)
	_, err := NewSendService(nil, &fakeRegistry{}, &fakeAppender{}, &fakeInbox{}, nil, nil, 0)
	require.Error(t, err)
	_, err = NewSendService(resolver, nil, &fakeAppender{}, &fakeInbox{}, nil, nil, 0)
	require.Error(t, err)
	_, err = NewSendService(resolver, &fakeRegistry{}, nil, &fakeInbox{}, nil, nil, 0)
	require.Error(t, err)
	_, err = NewSendService(resolver, &fakeRegistry{}, &fakeAppender{}, nil, nil, nil, 0)
	require.Error(t, err)
}
