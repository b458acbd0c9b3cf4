package chatstream

// FrameType discriminates the stream protocol's frame kinds.
type FrameType string

const (
	FrameText       FrameType = "text"
	FrameAnnotation FrameType = "annotation"
	FrameError      FrameType = "error"
)

// Frame is one unit of the outbound stream protocol. Value is a string for
// text and error frames and an Annotation for annotation frames.
type Frame struct {
	Type  FrameType `json:"type"`
	Value any       `json:"value"`
}

// Source identifies one evidence document shown to the user.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Annotation is an out-of-band delta attached to the in-progress assistant
// message. Fields are optional; the client merges annotations last-value-wins
// per field using TS (unix milliseconds) ordering.
type Annotation struct {
	State          State    `json:"state,omitempty"`
	StateMessage   string   `json:"state_message,omitempty"`
	Sources        []Source `json:"sources,omitempty"`
	TraceReference string   `json:"trace_reference,omitempty"`
	TS             int64    `json:"ts"`
}

// FrameSink accepts stream frames one at a time. Implementations apply
// backpressure by blocking in WriteFrame until the transport has accepted
// the frame.
type FrameSink interface {
	WriteFrame(frame Frame) error
}
