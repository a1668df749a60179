package live

// EventType identifies one kind of server event surfaced by a [Client].
type EventType int

const (
	// EventAudio carries a decoded PCM16 audio chunk from a model turn.
	EventAudio EventType = iota
	// EventText carries text the model emitted alongside its audio.
	EventText
	// EventToolCall carries one function invocation requested by the model.
	EventToolCall
	// EventTurnComplete signals the end of a model turn.
	EventTurnComplete
	// EventInterrupted signals the server cut the current model turn short,
	// usually because the user started speaking.
	EventInterrupted
	// EventError carries a server-reported or transport error.
	EventError
)

// String returns the event type name for logging.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventToolCall:
		return "tool_call"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCall is one function invocation requested by the model. The ID must be
// echoed verbatim in the matching [Client.SendToolResponse] call; servers
// that omit IDs correlate by name alone.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Event is a single server event. Only the fields matching Type are set.
type Event struct {
	Type EventType

	// Audio holds decoded PCM16 bytes for [EventAudio].
	Audio []byte
	// Text holds the model's text for [EventText].
	Text string
	// ToolCall holds the invocation for [EventToolCall].
	ToolCall *ToolCall
	// Err holds the error for [EventError].
	Err error
}

// Handler receives events of one subscribed type. Handlers run on the
// client's receive goroutine: all handlers for a frame complete before the
// next frame is parsed, so a handler that blocks stalls the stream.
type Handler func(Event)
