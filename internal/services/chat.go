package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mingainspire/prplx/internal/chatstream"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/repos"
	"github.com/mingainspire/prplx/internal/retrieval"
	"github.com/mingainspire/prplx/internal/types"
)

// ChatService creates and looks up sessions and maps stream output to
// persisted message records.
type ChatService interface {
	// ResolveOrCreateSession returns the session for sessionKey, or creates a
	// new one (freezing the engine's current options into the snapshot) when
	// sessionKey is empty. A non-empty key that matches nothing is a caller
	// error.
	ResolveOrCreateSession(ctx context.Context, sessionKey, engine, title, createdBy string) (*types.ChatSession, bool, error)
	GetSession(ctx context.Context, sessionKey string) (*types.ChatSession, error)
	ListMessages(ctx context.Context, sessionKey string, limit int) ([]*types.ChatMessage, error)
	SessionOptions(session *types.ChatSession) (EngineOptions, error)

	AppendUserMessage(ctx context.Context, sessionID uuid.UUID, content string) (*types.ChatMessage, error)
	// BeginAssistantMessage creates the pending assistant row the stream
	// fills in.
	BeginAssistantMessage(ctx context.Context, sessionID uuid.UUID) (*types.ChatMessage, error)
	// FinalizeAssistantMessage persists the stream's accumulated output
	// exactly once; repeated calls for the same message are no-ops.
	FinalizeAssistantMessage(ctx context.Context, messageID uuid.UUID, snap chatstream.Snapshot) (bool, error)
}

type chatService struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.ChatSessionRepo
	messages repos.ChatMessageRepo
	options  *EngineOptionsCache
}

func NewChatService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.ChatSessionRepo,
	messageRepo repos.ChatMessageRepo,
	optionsCache *EngineOptionsCache,
) ChatService {
	return &chatService{
		db:       db,
		log:      baseLog.With("service", "ChatService"),
		sessions: sessionRepo,
		messages: messageRepo,
		options:  optionsCache,
	}
}

func (s *chatService) ResolveOrCreateSession(ctx context.Context, sessionKey, engine, title, createdBy string) (*types.ChatSession, bool, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey != "" {
		session, err := s.sessions.GetByURLKey(ctx, nil, sessionKey)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, retrieval.NewError(retrieval.KindSessionNotFound, "session lookup", err)
			}
			return nil, false, fmt.Errorf("session lookup: %w", err)
		}
		return session, false, nil
	}

	if engine == "" {
		engine = "default"
	}
	opts, err := s.options.Get(ctx, engine)
	if err != nil {
		return nil, false, err
	}
	snapshot, err := json.Marshal(opts)
	if err != nil {
		return nil, false, fmt.Errorf("freeze engine options: %w", err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}
	session := &types.ChatSession{
		ID:            uuid.New(),
		URLKey:        newURLKey(),
		Title:         title,
		Engine:        engine,
		EngineOptions: datatypes.JSON(snapshot),
		CreatedBy:     createdBy,
	}
	if _, err := s.sessions.Create(ctx, nil, session); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("chat session created", "session_id", session.ID, "engine", engine)
	return session, true, nil
}

func (s *chatService) GetSession(ctx context.Context, sessionKey string) (*types.ChatSession, error) {
	session, err := s.sessions.GetByURLKey(ctx, nil, sessionKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, retrieval.NewError(retrieval.KindSessionNotFound, "session lookup", err)
		}
		return nil, err
	}
	return session, nil
}

func (s *chatService) ListMessages(ctx context.Context, sessionKey string, limit int) ([]*types.ChatMessage, error) {
	session, err := s.GetSession(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, nil, session.ID, limit)
}

// SessionOptions decodes the frozen snapshot; the live engine configuration
// is deliberately not consulted here.
func (s *chatService) SessionOptions(session *types.ChatSession) (EngineOptions, error) {
	var opts EngineOptions
	if len(session.EngineOptions) > 0 {
		if err := json.Unmarshal(session.EngineOptions, &opts); err != nil {
			return EngineOptions{}, fmt.Errorf("decode engine options snapshot: %w", err)
		}
	}
	return opts.withDefaults(), nil
}

func (s *chatService) AppendUserMessage(ctx context.Context, sessionID uuid.UUID, content string) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      types.RoleUser,
		Content:   content,
		Status:    types.MessageStatusFinished,
	}
	return s.messages.Create(ctx, nil, msg)
}

func (s *chatService) BeginAssistantMessage(ctx context.Context, sessionID uuid.UUID) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      types.RoleAssistant,
		Status:    types.MessageStatusPending,
	}
	return s.messages.Create(ctx, nil, msg)
}

func (s *chatService) FinalizeAssistantMessage(ctx context.Context, messageID uuid.UUID, snap chatstream.Snapshot) (bool, error) {
	status := types.MessageStatusPending
	switch snap.State {
	case chatstream.StateFinished:
		status = types.MessageStatusFinished
	case chatstream.StateError:
		status = types.MessageStatusError
	}

	var annotations datatypes.JSON
	if len(snap.Annotations) > 0 {
		raw, err := json.Marshal(snap.Annotations)
		if err != nil {
			return false, fmt.Errorf("encode annotations: %w", err)
		}
		annotations = datatypes.JSON(raw)
	}

	applied, err := s.messages.Finalize(ctx, nil, messageID, repos.MessageFinal{
		Content:        snap.Content,
		Status:         status,
		ErrorMessage:   snap.ErrorMessage,
		TraceReference: snap.TraceReference,
		Annotations:    annotations,
	})
	if err != nil {
		return false, fmt.Errorf("finalize assistant message: %w", err)
	}
	return applied, nil
}

// newURLKey returns the session's public key: 16 random bytes, url-safe
// base64, no padding. Collisions surface as a unique-index violation.
func newURLKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
