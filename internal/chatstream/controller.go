package chatstream

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mingainspire/prplx/internal/platform/logger"
)

// Controller drives the per-message stream state machine over a FrameSink.
// It emits a frame only when something actually changed (never two identical
// consecutive {state, message} frames), enforces forward-only ordering, and
// accumulates everything it emitted so the assistant message can be persisted
// from Snapshot at the end — including after a disconnect mid-stream.
type Controller struct {
	log  *logger.Logger
	sink FrameSink
	now  func() time.Time

	mu           sync.Mutex
	state        State
	stateMessage string
	transcript   strings.Builder
	annotations  []Annotation
	sources      []Source
	traceRef     string
	errMessage   string
	sinkBroken   bool
}

// Snapshot is the accumulated stream output used to finalize the assistant
// message.
type Snapshot struct {
	State          State
	StateMessage   string
	Content        string
	Annotations    []Annotation
	Sources        []Source
	TraceReference string
	ErrorMessage   string
}

func NewController(log *logger.Logger, sink FrameSink) (*Controller, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sink == nil {
		return nil, fmt.Errorf("chatstream: frame sink required")
	}
	return &Controller{
		log:   log.With("service", "ChatStreamController"),
		sink:  sink,
		now:   time.Now,
		state: StateConnecting,
	}, nil
}

// SetState transitions to the given state, emitting an annotation frame when
// the state or message changed. Backward transitions are rejected; terminal
// states absorb everything after them.
func (c *Controller) SetState(state State, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !state.Valid() {
		return fmt.Errorf("chatstream: unknown state %q", state)
	}
	if c.state.Terminal() {
		return nil
	}
	if state == c.state {
		if message == c.stateMessage {
			return nil
		}
	} else if !c.state.CanTransition(state) {
		return fmt.Errorf("chatstream: illegal transition %s -> %s", c.state, state)
	}

	c.state = state
	c.stateMessage = message
	if state == StateError && message != "" {
		c.errMessage = message
	}
	return c.emitAnnotation(Annotation{State: state, StateMessage: message, TS: c.now().UnixMilli()})
}

// AppendText forwards one generation delta. Text is only legal while
// generating; nothing may follow a terminal state.
func (c *Controller) AppendText(delta string) error {
	if delta == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return fmt.Errorf("chatstream: text after terminal state %s", c.state)
	}
	if c.state != StateGenerating {
		return fmt.Errorf("chatstream: text in state %s", c.state)
	}
	c.transcript.WriteString(delta)
	return c.writeFrame(Frame{Type: FrameText, Value: delta})
}

// SetSources emits the evidence source list. Only emitted on change, and by
// contract only called once the full reranked set is known.
func (c *Controller) SetSources(sources []Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return nil
	}
	if sourcesEqual(c.sources, sources) {
		return nil
	}
	c.sources = append([]Source(nil), sources...)
	return c.emitAnnotation(Annotation{Sources: c.sources, TS: c.now().UnixMilli()})
}

// SetTraceReference emits the trace link once, when it first becomes known.
func (c *Controller) SetTraceReference(ref string) error {
	if ref == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() || c.traceRef == ref {
		return nil
	}
	c.traceRef = ref
	return c.emitAnnotation(Annotation{TraceReference: ref, TS: c.now().UnixMilli()})
}

// Fail forces the stream into ERROR with a non-empty human-readable message,
// emitting the state annotation followed by an error frame. Calling Fail on
// an already-terminal stream is a no-op.
func (c *Controller) Fail(message string) error {
	if message == "" {
		message = "internal error"
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return nil
	}
	c.state = StateError
	c.stateMessage = message
	c.errMessage = message
	if err := c.emitAnnotation(Annotation{State: StateError, StateMessage: message, TS: c.now().UnixMilli()}); err != nil {
		return err
	}
	return c.writeFrame(Frame{Type: FrameError, Value: message})
}

// Finish moves the stream into FINISHED.
func (c *Controller) Finish() error {
	return c.SetState(StateFinished, "")
}

// Detached reports whether the sink has failed (client gone). The state
// machine keeps accumulating after detach so the partial message can still
// be persisted.
func (c *Controller) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinkBroken
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:          c.state,
		StateMessage:   c.stateMessage,
		Content:        c.transcript.String(),
		Annotations:    append([]Annotation(nil), c.annotations...),
		Sources:        append([]Source(nil), c.sources...),
		TraceReference: c.traceRef,
		ErrorMessage:   c.errMessage,
	}
}

// emitAnnotation records the annotation and writes it out. The record is
// kept even when the sink has failed so a disconnect still leaves a complete
// snapshot to persist.
func (c *Controller) emitAnnotation(a Annotation) error {
	c.annotations = append(c.annotations, a)
	return c.writeFrame(Frame{Type: FrameAnnotation, Value: a})
}

func (c *Controller) writeFrame(frame Frame) error {
	if c.sinkBroken {
		return nil
	}
	if err := c.sink.WriteFrame(frame); err != nil {
		c.sinkBroken = true
		c.log.Warn("frame sink write failed, stream detached", "state", c.state, "error", err)
		return nil
	}
	return nil
}

func sourcesEqual(a, b []Source) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
