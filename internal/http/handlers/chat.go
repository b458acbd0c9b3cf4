package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mingainspire/prplx/internal/chatstream"
	"github.com/mingainspire/prplx/internal/http/response"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/retrieval"
	"github.com/mingainspire/prplx/internal/services"
	"github.com/mingainspire/prplx/internal/types"
)

type ChatHandler struct {
	log    *logger.Logger
	chat   services.ChatService
	stream services.StreamService
}

func NewChatHandler(baseLog *logger.Logger, chat services.ChatService, stream services.StreamService) *ChatHandler {
	return &ChatHandler{
		log:    baseLog.With("handler", "ChatHandler"),
		chat:   chat,
		stream: stream,
	}
}

// POST /api/chat
//
// With messages: answers the last user message over SSE. The session is
// resolved (or created) before the stream opens so the response headers can
// carry its url_key. Without messages: creates a session and returns it as
// JSON, for clients that set up the conversation before asking anything.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req services.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	req.CreatedBy = c.GetHeader("X-User-Id")

	// Reject before the SSE response opens: once headers are flushed the only
	// way to report a problem is a frame, and this request has no question to
	// answer.
	if len(req.Messages) > 0 && !hasUserMessage(req.Messages) {
		response.RespondError(c, http.StatusBadRequest, "invalid_request",
			errors.New("messages must include a user message with content"))
		return
	}

	session, _, err := h.chat.ResolveOrCreateSession(c.Request.Context(), req.SessionKey, req.Engine, req.Title, req.CreatedBy)
	if err != nil {
		response.RespondError(c, statusOf(err), "resolve_session_failed", err)
		return
	}

	if len(req.Messages) == 0 {
		response.RespondOK(c, gin.H{"session": session})
		return
	}

	sink, err := chatstream.NewSSESink(c.Writer, session.URLKey)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "stream_unsupported", err)
		return
	}

	req.SessionKey = session.URLKey
	if _, err := h.stream.Run(c.Request.Context(), req, sink); err != nil {
		// The stream already carried the ERROR frame; nothing more can be
		// sent on this response.
		h.log.Warn("chat stream ended with error", "session_id", session.ID, "error", err)
	}
}

// GET /api/chat/sessions/:key
func (h *ChatHandler) GetSession(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	session, err := h.chat.GetSession(c.Request.Context(), key)
	if err != nil {
		response.RespondError(c, statusOf(err), "session_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"session": session})
}

// GET /api/chat/sessions/:key/messages?limit=50
func (h *ChatHandler) ListMessages(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	messages, err := h.chat.ListMessages(c.Request.Context(), key, limit)
	if err != nil {
		response.RespondError(c, statusOf(err), "list_messages_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"messages": messages})
}

func hasUserMessage(messages []services.StreamMessage) bool {
	for _, m := range messages {
		if m.Role == types.RoleUser && strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

// statusOf maps pipeline error kinds onto HTTP statuses for the JSON (non
// streaming) endpoints.
func statusOf(err error) int {
	switch retrieval.KindOf(err) {
	case retrieval.KindSessionNotFound:
		return http.StatusNotFound
	case retrieval.KindTimeout:
		return http.StatusGatewayTimeout
	case retrieval.KindEvidenceStoreUnavailable, retrieval.KindRerankerUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
