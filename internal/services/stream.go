package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mingainspire/prplx/internal/chatstream"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/retrieval"
	"github.com/mingainspire/prplx/internal/types"
)

const streamTracerName = "prplx/chatstream"

type StreamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type StreamRequest struct {
	SessionKey string          `json:"session_id,omitempty"`
	Engine     string          `json:"engine,omitempty"`
	Title      string          `json:"name,omitempty"`
	CreatedBy  string          `json:"-"`
	Messages   []StreamMessage `json:"messages"`
	Namespaces []string        `json:"namespaces,omitempty"`
	IndexName  string          `json:"index,omitempty"`
}

// StreamService runs one question through retrieval and generation, driving
// the stream state machine over the caller's sink.
type StreamService interface {
	Run(ctx context.Context, req StreamRequest, sink chatstream.FrameSink) (*types.ChatSession, error)
}

type streamService struct {
	log          *logger.Logger
	chat         ChatService
	orchestrator *retrieval.Orchestrator
	generator    retrieval.GenerationStream
	timeout      time.Duration
}

func NewStreamService(
	baseLog *logger.Logger,
	chat ChatService,
	orchestrator *retrieval.Orchestrator,
	generator retrieval.GenerationStream,
	timeout time.Duration,
) (StreamService, error) {
	if chat == nil || orchestrator == nil || generator == nil {
		return nil, fmt.Errorf("stream service: chat, orchestrator, and generator required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &streamService{
		log:          baseLog.With("service", "StreamService"),
		chat:         chat,
		orchestrator: orchestrator,
		generator:    generator,
		timeout:      timeout,
	}, nil
}

// Run drives one assistant turn. The caller's ctx signals client disconnect;
// external calls run on a detached context bounded by the wall-clock ceiling
// so an abandoned stream still settles its audit rows, but their results are
// discarded once the client is gone. The partial assistant message is
// persisted on every exit path.
func (s *streamService) Run(ctx context.Context, req StreamRequest, sink chatstream.FrameSink) (*types.ChatSession, error) {
	question := lastUserContent(req.Messages)
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("stream: no user message to answer")
	}

	controller, err := chatstream.NewController(s.log, sink)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	tracer := otel.Tracer(streamTracerName)
	opCtx, span := tracer.Start(opCtx, "chat.stream")
	defer span.End()

	if err := controller.SetState(chatstream.StateCreating, ""); err != nil {
		return nil, err
	}

	session, created, err := s.chat.ResolveOrCreateSession(opCtx, req.SessionKey, req.Engine, firstLine(question, req.Title), req.CreatedBy)
	if err != nil {
		_ = controller.Fail(retrieval.UserMessage(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("chat.session_id", session.ID.String()),
		attribute.Bool("chat.session_created", created),
	)

	opts, err := s.chat.SessionOptions(session)
	if err != nil {
		_ = controller.Fail(retrieval.UserMessage(err))
		return session, err
	}
	namespaces := req.Namespaces
	if len(namespaces) == 0 {
		namespaces = opts.Namespaces
	}
	indexName := req.IndexName
	if indexName == "" {
		indexName = opts.IndexName
	}

	if _, err := s.chat.AppendUserMessage(opCtx, session.ID, question); err != nil {
		_ = controller.Fail(retrieval.UserMessage(err))
		return session, err
	}
	assistant, err := s.chat.BeginAssistantMessage(opCtx, session.ID)
	if err != nil {
		_ = controller.Fail(retrieval.UserMessage(err))
		return session, err
	}

	// Persist whatever the stream reached, on every exit path. Finalize is
	// idempotent, so racing a second call is harmless.
	defer func() {
		persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer persistCancel()
		if _, perr := s.chat.FinalizeAssistantMessage(persistCtx, assistant.ID, controller.Snapshot()); perr != nil {
			s.log.Error("persist assistant message failed", "message_id", assistant.ID, "error", perr)
		}
	}()

	if sc := span.SpanContext(); sc.HasTraceID() {
		_ = controller.SetTraceReference(sc.TraceID().String())
	}

	progress := func(stage retrieval.Stage) {
		switch stage {
		case retrieval.StageGraphRetrieval:
			_ = controller.SetState(chatstream.StateKGRetrieving, "")
		case retrieval.StageSearch:
			_ = controller.SetState(chatstream.StateSearching, "")
		case retrieval.StageRerank:
			_ = controller.SetState(chatstream.StateReranking, "")
		}
	}

	resp, err := s.orchestrator.Retrieve(opCtx, retrieval.Request{
		Text:       question,
		TopK:       opts.TopK,
		SearchTopK: opts.SearchTopK,
		Namespaces: namespaces,
		Reranker:   opts.Reranker,
		IndexName:  indexName,
	}, opts.Graph, progress)
	if err != nil {
		err = s.deadlineError(opCtx, err)
		_ = controller.Fail(retrieval.UserMessage(err))
		return session, err
	}

	// Client gone: the retrieval above ran to completion (audit rows are
	// settled) but its results are discarded and generation never starts.
	if ctx.Err() != nil || controller.Detached() {
		s.log.Info("client disconnected, persisting partial message",
			"session_id", session.ID, "state", controller.State())
		return session, nil
	}

	_ = controller.SetSources(sourcesOf(resp.RelevantChunks))

	if err := controller.SetState(chatstream.StateGenerating, ""); err != nil {
		return session, err
	}
	_, err = s.generator.StreamText(opCtx, systemPrompt(opts), userPrompt(question, resp.RelevantChunks), func(delta string) {
		_ = controller.AppendText(delta)
	})
	if err != nil {
		err = s.deadlineError(opCtx, retrieval.NewError(retrieval.KindGenerationFailed, "generation stream", err))
		_ = controller.Fail(retrieval.UserMessage(err))
		return session, err
	}

	if err := controller.Finish(); err != nil {
		return session, err
	}
	return session, nil
}

// deadlineError rewrites a stage failure as a timeout when the wall-clock
// ceiling is what actually killed it.
func (s *streamService) deadlineError(opCtx context.Context, err error) error {
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return retrieval.NewError(retrieval.KindTimeout, "request deadline exceeded", err)
	}
	return err
}

func lastUserContent(messages []StreamMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// firstLine derives a session title from the question when the caller gave
// none.
func firstLine(question, title string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	line := strings.TrimSpace(question)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	const maxTitle = 120
	if len(line) > maxTitle {
		line = line[:maxTitle]
	}
	return line
}

func sourcesOf(chunks []retrieval.RankedChunk) []chatstream.Source {
	seen := make(map[string]struct{}, len(chunks))
	sources := make([]chatstream.Source, 0, len(chunks))
	for _, c := range chunks {
		key := c.URI
		if key == "" {
			key = c.ChunkID
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		title := c.Title
		if title == "" {
			title = c.URI
		}
		sources = append(sources, chatstream.Source{Title: title, URI: c.URI})
	}
	return sources
}

func systemPrompt(opts EngineOptions) string {
	if strings.TrimSpace(opts.SystemPrompt) != "" {
		return opts.SystemPrompt
	}
	return "You are a helpful assistant. Answer using only the provided context. " +
		"When the context does not contain the answer, say so instead of guessing."
}

func userPrompt(question string, chunks []retrieval.RankedChunk) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for _, c := range chunks {
		if c.Title != "" {
			fmt.Fprintf(&b, "[%d] %s (%s)\n", c.Rank, c.Title, c.URI)
		} else {
			fmt.Fprintf(&b, "[%d] %s\n", c.Rank, c.URI)
		}
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
