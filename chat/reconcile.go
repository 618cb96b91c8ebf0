package chat

import (
	"time"

	"parley/config"
)

// Reconciler folds backend stream events into the message store. One
// instance serves all chats; events for different chats are independent.
type Reconciler struct {
	store       *Store
	permissions *Coordinator
}

// NewReconciler creates a reconciler over the given store. The coordinator
// may be nil when no permission flow is wired (tests, headless use).
func NewReconciler(store *Store, permissions *Coordinator) *Reconciler {
	return &Reconciler{store: store, permissions: permissions}
}

// Apply folds one event into the store. Malformed events are dropped with a
// debug-log line and never mutate the chat.
func (r *Reconciler) Apply(ev Event) {
	switch e := ev.(type) {
	case TokenDelta:
		r.applyTokenDelta(e)
	case ReasoningDelta:
		r.applyReasoningDelta(e)
	case ToolCallUpdate:
		r.applyToolCallUpdate(e)
	case Completed:
		r.applyCompleted(e)
	case StreamFailed:
		r.applyStreamFailed(e)
	case StreamStopped:
		r.store.ClearStreamTarget(e.ChatID)
	default:
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Reconciler] Dropping unknown event type %T", ev)
		}
	}
}

func (r *Reconciler) applyTokenDelta(e TokenDelta) {
	if e.MessageID == "" {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Reconciler] Dropping token delta with empty message id (chat %s)", e.ChatID)
		}
		return
	}

	if r.store.Mutate(e.ChatID, e.MessageID, func(m *Message) {
		m.Content += e.Delta
	}) {
		return
	}

	// First-token case: the assistant message does not exist yet. Create it
	// and make it the chat's stream target; the latest target always wins.
	r.store.Append(e.ChatID, Message{
		ID:        e.MessageID,
		Role:      RoleAssistant,
		Content:   e.Delta,
		Timestamp: time.Now(),
	})
	r.store.SetStreamTarget(e.ChatID, e.MessageID)
}

func (r *Reconciler) applyReasoningDelta(e ReasoningDelta) {
	if e.MessageID == "" {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Reconciler] Dropping reasoning delta with empty message id (chat %s)", e.ChatID)
		}
		return
	}

	if r.store.Mutate(e.ChatID, e.MessageID, func(m *Message) {
		m.Reasoning += e.Delta
	}) {
		return
	}

	// Reasoning can arrive before any content token does.
	r.store.Append(e.ChatID, Message{
		ID:        e.MessageID,
		Role:      RoleAssistant,
		Reasoning: e.Delta,
		Timestamp: time.Now(),
	})
	r.store.SetStreamTarget(e.ChatID, e.MessageID)
}

func (r *Reconciler) applyToolCallUpdate(e ToolCallUpdate) {
	if e.MessageID == "" || e.Call.ID == "" || e.Call.Name == "" {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Reconciler] Dropping malformed tool call update (chat %s, msg %q, call %q)",
				e.ChatID, e.MessageID, e.Call.ID)
		}
		return
	}
	if _, ok := toolStatusRank[e.Call.Status]; !ok {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Reconciler] Dropping tool call update with unknown status %q", e.Call.Status)
		}
		return
	}

	if existing, ok := r.store.Get(e.ChatID, e.MessageID); ok {
		prev, err := DecodeToolCall(existing.Content)
		if err == nil && !CanTransition(prev.Status, e.Call.Status) {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Reconciler] Rejecting illegal tool status transition %s -> %s (call %s)",
					prev.Status, e.Call.Status, e.Call.ID)
			}
			return
		}
		content, err := EncodeToolCall(e.Call)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Reconciler] Dropping tool call update: %v", err)
			}
			return
		}
		r.store.Mutate(e.ChatID, e.MessageID, func(m *Message) {
			m.Content = content
		})
	} else {
		content, err := EncodeToolCall(e.Call)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Reconciler] Dropping tool call update: %v", err)
			}
			return
		}
		r.store.Append(e.ChatID, Message{
			ID:        e.MessageID,
			Role:      RoleToolCall,
			Content:   content,
			Timestamp: time.Now(),
		})
	}

	if e.Call.Status == ToolPendingPermission && r.permissions != nil {
		r.permissions.Track(e.ChatID, e.ParentID, ToolCallRef{
			ID:        e.Call.ID,
			Name:      e.Call.Name,
			Arguments: e.Call.Arguments,
			MessageID: e.MessageID,
		})
	}
}

func (r *Reconciler) applyCompleted(e Completed) {
	if e.Usage != nil && e.MessageID != "" {
		usage := *e.Usage
		r.store.Mutate(e.ChatID, e.MessageID, func(m *Message) {
			m.TokenUsage = &usage
		})
	}
	r.store.ClearStreamTarget(e.ChatID)
	if r.permissions != nil {
		r.permissions.Release(e.ChatID)
	}
}

func (r *Reconciler) applyStreamFailed(e StreamFailed) {
	r.store.SetStreamError(e.ChatID, StreamingError{
		MessageID: e.MessageID,
		Message:   e.Err,
		CanRetry:  e.CanRetry,
	})
	if r.permissions != nil {
		r.permissions.Release(e.ChatID)
	}
}
