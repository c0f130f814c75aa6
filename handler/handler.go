// Package handler exposes the storage layer over API Gateway. It only
// routes, decodes and maps errors; all semantics live in the usecase layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"messenger-store/internal/domain"
	"messenger-store/internal/usecase"
)

type sender interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
}

type reader interface {
	Messages(ctx context.Context, in usecase.MessagesInput) (usecase.MessagesOutput, error)
	Inbox(ctx context.Context, in usecase.InboxInput) (usecase.InboxOutput, error)
	Conversation(ctx context.Context, conversationID int64) (usecase.ConversationOutput, error)
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

type Handler struct {
	send sender
	read reader
}

func NewHandler(send sender, read reader) (*Handler, error) {
	if send == nil {
		return nil, errors.New("handler: send service must not be nil")
	}
	if read == nil {
		return nil, errors.New("handler: read service must not be nil")
	}
	return &Handler{send: send, read: read}, nil
}

type sendRequest struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
}

type messageBody struct {
	ID             string    `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	ReceiverID     int64     `json:"receiverId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type messageCursorBody struct {
	BeforeTs string `json:"beforeTs"`
	BeforeID string `json:"beforeId"`
}

type messagesBody struct {
	Messages []messageBody      `json:"messages"`
	Next     *messageCursorBody `json:"next,omitempty"`
}

type inboxEntryBody struct {
	ConversationID     int64     `json:"conversationId"`
	OtherUserID        int64     `json:"otherUserId"`
	LastMessageContent string    `json:"lastMessageContent"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
}

type inboxCursorBody struct {
	BeforeTs           string `json:"beforeTs"`
	BeforeConversation int64  `json:"beforeConversation"`
}

type inboxBody struct {
	Conversations []inboxEntryBody `json:"conversations"`
	Next          *inboxCursorBody `json:"next,omitempty"`
}

type conversationBody struct {
	ID                 int64     `json:"id"`
	User1ID            int64     `json:"user1Id"`
	User2ID            int64     `json:"user2Id"`
	CreatedAt          time.Time `json:"createdAt"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessageContent *string   `json:"lastMessageContent"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes one API Gateway request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (Response, error) {
	corrID := correlationID(req.Headers)
	segs := pathSegments(req.Path)

	var (
		status int
		body   any
	)
	switch {
	case req.HTTPMethod == http.MethodPost && len(segs) == 1 && segs[0] == "messages":
		status, body = h.sendMessage(ctx, req.Body)
	case req.HTTPMethod == http.MethodGet && len(segs) == 2 && segs[0] == "conversations":
		status, body = h.conversation(ctx, segs[1])
	case req.HTTPMethod == http.MethodGet && len(segs) == 3 && segs[0] == "conversations" && segs[2] == "messages":
		status, body = h.messages(ctx, segs[1], req.QueryStringParameters)
	case req.HTTPMethod == http.MethodGet && len(segs) == 3 && segs[0] == "users" && segs[2] == "conversations":
		status, body = h.inbox(ctx, segs[1], req.QueryStringParameters)
	default:
		status, body = http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "unknown_route"}
	}

	return jsonResponse(status, corrID, body), nil
}

func (h *Handler) sendMessage(ctx context.Context, rawBody string) (int, any) {
	var req sendRequest
	if err := json.Unmarshal([]byte(rawBody), &req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"}
	}

	out, err := h.send.Send(ctx, usecase.SendInput{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
	})
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusCreated, messageBody{
		ID:             out.MessageID,
		ConversationID: out.ConversationID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		CreatedAt:      out.CreatedAt,
	}
}

func (h *Handler) conversation(ctx context.Context, rawID string) (int, any) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_conversation_id"}
	}

	out, err := h.read.Conversation(ctx, id)
	if err != nil {
		return errorStatus(err)
	}

	body := conversationBody{
		ID:            out.Conversation.ID,
		User1ID:       out.Conversation.User1ID,
		User2ID:       out.Conversation.User2ID,
		CreatedAt:     out.Conversation.CreatedAt,
		LastMessageAt: out.Conversation.CreatedAt,
	}
	if out.LastMessage != nil {
		body.LastMessageAt = out.LastMessage.CreatedAt
		body.LastMessageContent = &out.LastMessage.Content
	}
	return http.StatusOK, body
}

func (h *Handler) messages(ctx context.Context, rawID string, query map[string]string) (int, any) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_conversation_id"}
	}

	var before *domain.MessageCursor
	beforeTs, beforeID := query["before_ts"], query["before_id"]
	if beforeTs != "" || beforeID != "" {
		ts, err := time.Parse(time.RFC3339Nano, beforeTs)
		if err != nil || beforeID == "" {
			return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_cursor"}
		}
		before = &domain.MessageCursor{CreatedAt: ts, ID: beforeID}
	}

	out, err := h.read.Messages(ctx, usecase.MessagesInput{
		ConversationID: id,
		Before:         before,
		Limit:          intQuery(query, "limit"),
	})
	if err != nil {
		return errorStatus(err)
	}

	body := messagesBody{Messages: make([]messageBody, 0, len(out.Messages))}
	for _, msg := range out.Messages {
		body.Messages = append(body.Messages, messageBody{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			ReceiverID:     msg.ReceiverID,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		})
	}
	if out.Next != nil {
		body.Next = &messageCursorBody{
			BeforeTs: out.Next.CreatedAt.Format(time.RFC3339Nano),
			BeforeID: out.Next.ID,
		}
	}
	return http.StatusOK, body
}

func (h *Handler) inbox(ctx context.Context, rawID string, query map[string]string) (int, any) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_user_id"}
	}

	var before *domain.InboxCursor
	beforeTs, beforeConv := query["before_ts"], query["before_conv"]
	if beforeTs != "" || beforeConv != "" {
		ts, tsErr := time.Parse(time.RFC3339Nano, beforeTs)
		convID, convErr := strconv.ParseInt(beforeConv, 10, 64)
		if tsErr != nil || convErr != nil {
			return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_cursor"}
		}
		before = &domain.InboxCursor{LastMessageAt: ts, ConversationID: convID}
	}

	out, err := h.read.Inbox(ctx, usecase.InboxInput{
		UserID: id,
		Before: before,
		Limit:  intQuery(query, "limit"),
	})
	if err != nil {
		return errorStatus(err)
	}

	body := inboxBody{Conversations: make([]inboxEntryBody, 0, len(out.Entries))}
	for _, e := range out.Entries {
		body.Conversations = append(body.Conversations, inboxEntryBody{
			ConversationID:     e.ConversationID,
			OtherUserID:        e.OtherUserID,
			LastMessageContent: e.LastMessageContent,
			LastMessageAt:      e.LastMessageAt,
		})
	}
	if out.Next != nil {
		body.Next = &inboxCursorBody{
			BeforeTs:           out.Next.LastMessageAt.Format(time.RFC3339Nano),
			BeforeConversation: out.Next.ConversationID,
		}
	}
	return http.StatusOK, body
}

func errorStatus(err error) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}

	resp := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidParticipants:
		return http.StatusBadRequest, resp
	case usecase.ErrorNotFound:
		return http.StatusNotFound, resp
	case usecase.ErrorResolutionFailed, usecase.ErrorMessageWrite:
		// Store unavailable; the whole send is safe to retry.
		return http.StatusServiceUnavailable, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func jsonResponse(status int, corrID string, body any) Response {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(raw),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func pathSegments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func intQuery(query map[string]string, key string) int {
	v, ok := query[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
