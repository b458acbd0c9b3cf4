package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mingainspire/prplx/internal/chatstream"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/platform/rerank"
	"github.com/mingainspire/prplx/internal/repos"
	"github.com/mingainspire/prplx/internal/retrieval"
	"github.com/mingainspire/prplx/internal/types"
)

type fakeChat struct {
	opts     EngineOptions
	sessions map[string]*types.ChatSession
	messages map[uuid.UUID]*types.ChatMessage
}

func newFakeChat(opts EngineOptions) *fakeChat {
	return &fakeChat{
		opts:     opts,
		sessions: map[string]*types.ChatSession{},
		messages: map[uuid.UUID]*types.ChatMessage{},
	}
}

func (f *fakeChat) ResolveOrCreateSession(_ context.Context, sessionKey, engine, title, createdBy string) (*types.ChatSession, bool, error) {
	if sessionKey != "" {
		session, ok := f.sessions[sessionKey]
		if !ok {
			return nil, false, retrieval.NewError(retrieval.KindSessionNotFound, "session lookup", gorm.ErrRecordNotFound)
		}
		return session, false, nil
	}
	snapshot, err := json.Marshal(f.opts)
	if err != nil {
		return nil, false, err
	}
	session := &types.ChatSession{
		ID:            uuid.New(),
		URLKey:        fmt.Sprintf("key-%d", len(f.sessions)+1),
		Title:         title,
		Engine:        engine,
		EngineOptions: datatypes.JSON(snapshot),
		CreatedBy:     createdBy,
	}
	f.sessions[session.URLKey] = session
	return session, true, nil
}

func (f *fakeChat) GetSession(_ context.Context, sessionKey string) (*types.ChatSession, error) {
	session, ok := f.sessions[sessionKey]
	if !ok {
		return nil, retrieval.NewError(retrieval.KindSessionNotFound, "session lookup", gorm.ErrRecordNotFound)
	}
	return session, nil
}

func (f *fakeChat) ListMessages(_ context.Context, _ string, _ int) ([]*types.ChatMessage, error) {
	return nil, nil
}

func (f *fakeChat) SessionOptions(session *types.ChatSession) (EngineOptions, error) {
	var opts EngineOptions
	if len(session.EngineOptions) > 0 {
		if err := json.Unmarshal(session.EngineOptions, &opts); err != nil {
			return EngineOptions{}, err
		}
	}
	return opts.withDefaults(), nil
}

func (f *fakeChat) AppendUserMessage(_ context.Context, sessionID uuid.UUID, content string) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{ID: uuid.New(), SessionID: sessionID, Role: types.RoleUser, Content: content, Status: types.MessageStatusFinished}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeChat) BeginAssistantMessage(_ context.Context, sessionID uuid.UUID) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{ID: uuid.New(), SessionID: sessionID, Role: types.RoleAssistant, Status: types.MessageStatusPending}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeChat) FinalizeAssistantMessage(_ context.Context, messageID uuid.UUID, snap chatstream.Snapshot) (bool, error) {
	msg, ok := f.messages[messageID]
	if !ok {
		return false, fmt.Errorf("message %s not found", messageID)
	}
	if msg.FinalizedAt != nil {
		return false, nil
	}
	status := types.MessageStatusPending
	switch snap.State {
	case chatstream.StateFinished:
		status = types.MessageStatusFinished
	case chatstream.StateError:
		status = types.MessageStatusError
	}
	now := time.Now()
	msg.Content = snap.Content
	msg.Status = status
	msg.ErrorMessage = snap.ErrorMessage
	msg.TraceReference = snap.TraceReference
	msg.FinalizedAt = &now
	return true, nil
}

func (f *fakeChat) assistantMessage(t *testing.T) *types.ChatMessage {
	t.Helper()
	for _, msg := range f.messages {
		if msg.Role == types.RoleAssistant {
			return msg
		}
	}
	t.Fatal("no assistant message persisted")
	return nil
}

type noopQueryRepo struct{}

func (noopQueryRepo) Create(_ context.Context, _ *gorm.DB, query *types.RetrievalQuery) (*types.RetrievalQuery, error) {
	return query, nil
}

func (noopQueryRepo) MarkSearchFinished(context.Context, *gorm.DB, uuid.UUID, time.Time, datatypes.JSON) error {
	return nil
}

func (noopQueryRepo) MarkRerankFinished(context.Context, *gorm.DB, uuid.UUID, time.Time, string, datatypes.JSON, []*types.RetrievalResult) error {
	return nil
}

func (noopQueryRepo) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.RetrievalQuery, error) {
	return nil, gorm.ErrRecordNotFound
}

func (noopQueryRepo) GetResults(context.Context, *gorm.DB, uuid.UUID) ([]*types.RetrievalResult, error) {
	return nil, nil
}

var _ repos.RetrievalQueryRepo = noopQueryRepo{}

type stubEmbedder struct{}

func (stubEmbedder) Identifier() string { return "stub" }

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubStore struct {
	onSearch func()
}

func (s *stubStore) Search(_ context.Context, _ string, _ []float32, topK int, _ []string) ([]retrieval.EvidenceChunk, error) {
	if s.onSearch != nil {
		s.onSearch()
	}
	n := 10
	if topK < n {
		n = topK
	}
	chunks := make([]retrieval.EvidenceChunk, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, retrieval.EvidenceChunk{
			ChunkID: fmt.Sprintf("chunk-%d", i),
			Text:    fmt.Sprintf("evidence %d", i),
			Score:   1.0 - float64(i)*0.05,
			URI:     fmt.Sprintf("https://example.com/doc-%d", i),
			Title:   fmt.Sprintf("Doc %d", i),
		})
	}
	return chunks, nil
}

type stubGenerator struct {
	deltas    []string
	failAfter int // fail before emitting delta at this index, -1 = never
	called    bool
}

func (g *stubGenerator) StreamText(_ context.Context, _ string, _ string, onDelta func(string)) (string, error) {
	g.called = true
	var b strings.Builder
	for i, d := range g.deltas {
		if g.failAfter >= 0 && i == g.failAfter {
			return b.String(), errors.New("model overloaded")
		}
		onDelta(d)
		b.WriteString(d)
	}
	return b.String(), nil
}

type captureSink struct {
	frames []chatstream.Frame
}

func (s *captureSink) WriteFrame(frame chatstream.Frame) error {
	s.frames = append(s.frames, frame)
	return nil
}

func (s *captureSink) states() []chatstream.State {
	var out []chatstream.State
	for _, f := range s.frames {
		if f.Type != chatstream.FrameAnnotation {
			continue
		}
		a := f.Value.(chatstream.Annotation)
		if a.State != "" {
			out = append(out, a.State)
		}
	}
	return out
}

func (s *captureSink) text() string {
	var b strings.Builder
	for _, f := range s.frames {
		if f.Type == chatstream.FrameText {
			b.WriteString(f.Value.(string))
		}
	}
	return b.String()
}

type streamFixture struct {
	chat      *fakeChat
	store     *stubStore
	generator *stubGenerator
	sink      *captureSink
	svc       StreamService
}

func newStreamFixture(t *testing.T, generator *stubGenerator) *streamFixture {
	t.Helper()
	chat := newFakeChat(EngineOptions{TopK: 3})
	store := &stubStore{}
	orchestrator, err := retrieval.NewOrchestrator(logger.NewNop(), noopQueryRepo{}, store, retrieval.Providers{
		DefaultEmbedder: "stub",
		Embedders:       map[string]retrieval.Embedder{"stub": stubEmbedder{}},
		DefaultReranker: "similarity_order",
		Rerankers:       map[string]rerank.Reranker{"similarity_order": rerank.SimilarityOrder{}},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	svc, err := NewStreamService(logger.NewNop(), chat, orchestrator, generator, time.Minute)
	if err != nil {
		t.Fatalf("NewStreamService failed: %v", err)
	}
	return &streamFixture{chat: chat, store: store, generator: generator, sink: &captureSink{}, svc: svc}
}

func question(text string) StreamRequest {
	return StreamRequest{Messages: []StreamMessage{{Role: types.RoleUser, Content: text}}}
}

func TestRunHappyPath(t *testing.T) {
	fx := newStreamFixture(t, &stubGenerator{deltas: []string{"Hello ", "world"}, failAfter: -1})

	session, err := fx.svc.Run(context.Background(), question("What is prplx?"), fx.sink)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if session == nil || session.URLKey == "" {
		t.Fatal("session not created")
	}
	if session.Title != "What is prplx?" {
		t.Fatalf("session title = %q", session.Title)
	}

	want := []chatstream.State{
		chatstream.StateCreating,
		chatstream.StateSearching,
		chatstream.StateReranking,
		chatstream.StateGenerating,
		chatstream.StateFinished,
	}
	got := fx.sink.states()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
	if fx.sink.text() != "Hello world" {
		t.Fatalf("streamed text = %q", fx.sink.text())
	}

	// Sources arrive after reranking and before generation starts.
	sourcesAt, generatingAt := -1, -1
	for i, f := range fx.sink.frames {
		if f.Type != chatstream.FrameAnnotation {
			continue
		}
		a := f.Value.(chatstream.Annotation)
		if len(a.Sources) > 0 && sourcesAt < 0 {
			sourcesAt = i
		}
		if a.State == chatstream.StateGenerating {
			generatingAt = i
		}
	}
	if sourcesAt < 0 || generatingAt < 0 || sourcesAt > generatingAt {
		t.Fatalf("sources at %d, generating at %d", sourcesAt, generatingAt)
	}

	msg := fx.chat.assistantMessage(t)
	if msg.Status != types.MessageStatusFinished {
		t.Fatalf("assistant status = %q", msg.Status)
	}
	if msg.Content != "Hello world" {
		t.Fatalf("assistant content = %q", msg.Content)
	}
	if msg.FinalizedAt == nil {
		t.Fatal("assistant message not finalized")
	}
}

func TestRunGenerationFailurePersistsPartial(t *testing.T) {
	fx := newStreamFixture(t, &stubGenerator{deltas: []string{"First ", "second ", "never"}, failAfter: 2})

	_, err := fx.svc.Run(context.Background(), question("q"), fx.sink)
	if retrieval.KindOf(err) != retrieval.KindGenerationFailed {
		t.Fatalf("kind = %s, want generation_failed", retrieval.KindOf(err))
	}

	last := fx.sink.frames[len(fx.sink.frames)-1]
	if last.Type != chatstream.FrameError {
		t.Fatalf("last frame = %+v, want error frame", last)
	}

	msg := fx.chat.assistantMessage(t)
	if msg.Status != types.MessageStatusError {
		t.Fatalf("assistant status = %q", msg.Status)
	}
	if msg.Content != "First second " {
		t.Fatalf("partial content = %q", msg.Content)
	}
	if msg.ErrorMessage == "" {
		t.Fatal("error message empty")
	}
}

func TestRunClientDisconnectDiscardsResults(t *testing.T) {
	fx := newStreamFixture(t, &stubGenerator{failAfter: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Disconnect mid-retrieval: the pipeline still finishes on the detached
	// context, but generation must never start.
	fx.store.onSearch = cancel

	_, err := fx.svc.Run(ctx, question("q"), fx.sink)
	if err != nil {
		t.Fatalf("Run returned error on disconnect: %v", err)
	}
	if fx.generator.called {
		t.Fatal("generator ran after client disconnect")
	}

	states := fx.sink.states()
	if states[len(states)-1] != chatstream.StateReranking {
		t.Fatalf("last state = %s, want RERANKING", states[len(states)-1])
	}

	msg := fx.chat.assistantMessage(t)
	if msg.Status != types.MessageStatusPending {
		t.Fatalf("assistant status = %q, want pending", msg.Status)
	}
	if msg.Content != "" {
		t.Fatalf("assistant content = %q, want empty", msg.Content)
	}
	if msg.FinalizedAt == nil {
		t.Fatal("partial message not persisted")
	}
}

func TestRunRejectsRequestWithoutUserMessage(t *testing.T) {
	cases := []struct {
		name string
		req  StreamRequest
	}{
		{name: "no_messages", req: StreamRequest{}},
		{name: "assistant_only", req: StreamRequest{
			Messages: []StreamMessage{{Role: types.RoleAssistant, Content: "hi"}},
		}},
		{name: "blank_user_content", req: StreamRequest{
			Messages: []StreamMessage{{Role: types.RoleUser, Content: "   "}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newStreamFixture(t, &stubGenerator{failAfter: -1})
			if _, err := fx.svc.Run(context.Background(), tc.req, fx.sink); err == nil {
				t.Fatal("expected error for request without a user message")
			}
			// Rejection happens before any frame is written, so callers can
			// still answer with a plain HTTP error instead of a broken stream.
			if len(fx.sink.frames) != 0 {
				t.Fatalf("frames written before validation: %+v", fx.sink.frames)
			}
		})
	}
}

func TestRunUnknownSessionKey(t *testing.T) {
	fx := newStreamFixture(t, &stubGenerator{failAfter: -1})
	req := question("q")
	req.SessionKey = "missing"

	_, err := fx.svc.Run(context.Background(), req, fx.sink)
	if retrieval.KindOf(err) != retrieval.KindSessionNotFound {
		t.Fatalf("kind = %s, want session_not_found", retrieval.KindOf(err))
	}
	last := fx.sink.frames[len(fx.sink.frames)-1]
	if last.Type != chatstream.FrameError {
		t.Fatalf("last frame = %+v, want error frame", last)
	}
	if last.Value.(string) != "The chat session could not be found." {
		t.Fatalf("error message = %q", last.Value)
	}
}

func TestRunReusesExistingSession(t *testing.T) {
	fx := newStreamFixture(t, &stubGenerator{deltas: []string{"a"}, failAfter: -1})

	first, err := fx.svc.Run(context.Background(), question("first"), fx.sink)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	req := question("second")
	req.SessionKey = first.URLKey
	second, err := fx.svc.Run(context.Background(), req, &captureSink{})
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("existing session key resolved to a different session")
	}
	if len(fx.chat.sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(fx.chat.sessions))
	}
}
