package chat

// Event is one push-delivered occurrence on a chat's stream. The backend
// guarantees ordered, at-most-once delivery per chat; the reconciler applies
// events in receipt order and makes no attempt to reorder.
type Event interface {
	Chat() string
}

// TokenDelta carries an incremental slice of assistant content.
type TokenDelta struct {
	ChatID    string
	MessageID string
	Delta     string
}

func (e TokenDelta) Chat() string { return e.ChatID }

// ReasoningDelta carries an incremental slice of assistant thinking text.
type ReasoningDelta struct {
	ChatID    string
	MessageID string
	Delta     string
}

func (e ReasoningDelta) Chat() string { return e.ChatID }

// ToolCallUpdate carries the latest snapshot of one tool call. MessageID is
// the RoleToolCall message's own id; ParentID is the assistant message that
// raised the call, which keys the permission request when the snapshot is
// pending_permission.
type ToolCallUpdate struct {
	ChatID    string
	MessageID string
	ParentID  string
	Call      ToolCallSnapshot
}

func (e ToolCallUpdate) Chat() string { return e.ChatID }

// Completed signals the end of a chat's active stream.
type Completed struct {
	ChatID    string
	MessageID string
	Usage     *TokenUsage
}

func (e Completed) Chat() string { return e.ChatID }

// StreamFailed signals a backend error on the active stream. Applied content
// stands; CanRetry tells the UI whether a retry affordance makes sense.
type StreamFailed struct {
	ChatID    string
	MessageID string
	Err       string
	CanRetry  bool
}

func (e StreamFailed) Chat() string { return e.ChatID }

// StreamStopped signals an explicit user stop. Nothing is truncated.
type StreamStopped struct {
	ChatID string
}

func (e StreamStopped) Chat() string { return e.ChatID }
