package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"parley/config"
)

// DefaultPermissionTimeout is how long a pending tool approval waits before
// auto-denial when the workspace does not configure its own value.
const DefaultPermissionTimeout = 60 * time.Second

// ToolCallRef identifies one tool call inside a permission request.
type ToolCallRef struct {
	ID        string
	Name      string
	Arguments map[string]any
	MessageID string // the RoleToolCall message carrying the snapshot
}

// PendingPermission is one outstanding approval request, keyed by the
// assistant message that raised it. Every tool call in the batch shares the
// same timeout window.
type PendingPermission struct {
	ChatID    string
	MessageID string
	ToolCalls []ToolCallRef
	RaisedAt  time.Time
}

// PermissionResponder is the backend surface the coordinator notifies when
// a request resolves. Implemented by the command facade.
type PermissionResponder interface {
	RespondToToolPermission(ctx context.Context, messageID string, approved bool, allowedToolIDs []string) error
}

// Coordinator tracks pending tool-permission requests and auto-denies them
// on timeout. A single shared tick drives every countdown; there are no
// per-request timers. Elapsed time uses the monotonic readings time.Now
// embeds, so wall-clock changes cannot skew a countdown.
type Coordinator struct {
	store     *Store
	responder PermissionResponder
	timeout   time.Duration
	pending   map[string]*PendingPermission

	// resolved guards against events queued behind a resolution reopening
	// the request; keyed by message id, valued by chat id so Release can
	// drop the entries once the chat's stream settles.
	resolved map[string]string
	now      func() time.Time
}

// NewCoordinator creates a coordinator. A timeout of zero falls back to
// DefaultPermissionTimeout.
func NewCoordinator(store *Store, responder PermissionResponder, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultPermissionTimeout
	}
	return &Coordinator{
		store:     store,
		responder: responder,
		timeout:   timeout,
		pending:  make(map[string]*PendingPermission),
		resolved: make(map[string]string),
		now:      time.Now,
	}
}

// SetTimeout updates the timeout for requests raised from now on.
func (c *Coordinator) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

// Track registers a tool call under its request's message id. The first
// call for a message id opens the timeout window; later calls in the same
// batch join it. Already-resolved ids are ignored.
func (c *Coordinator) Track(chatID, messageID string, call ToolCallRef) {
	if messageID == "" {
		return
	}
	if _, done := c.resolved[messageID]; done {
		return
	}

	req := c.pending[messageID]
	if req == nil {
		req = &PendingPermission{
			ChatID:    chatID,
			MessageID: messageID,
			RaisedAt:  c.now(),
		}
		c.pending[messageID] = req
	}

	for _, existing := range req.ToolCalls {
		if existing.ID == call.ID {
			return
		}
	}
	req.ToolCalls = append(req.ToolCalls, call)
}

// Pending returns the outstanding request for a message id, or nil.
func (c *Coordinator) Pending(messageID string) *PendingPermission {
	return c.pending[messageID]
}

// PendingForChat returns all outstanding requests for a chat, oldest first.
func (c *Coordinator) PendingForChat(chatID string) []*PendingPermission {
	var reqs []*PendingPermission
	for _, req := range c.pending {
		if req.ChatID == chatID {
			reqs = append(reqs, req)
		}
	}
	for i := 1; i < len(reqs); i++ {
		for j := i; j > 0 && reqs[j].RaisedAt.Before(reqs[j-1].RaisedAt); j-- {
			reqs[j], reqs[j-1] = reqs[j-1], reqs[j]
		}
	}
	return reqs
}

// Remaining returns the whole seconds left on a request's countdown,
// rounded up, clamped at zero. Unknown ids report zero.
func (c *Coordinator) Remaining(messageID string) int {
	req := c.pending[messageID]
	if req == nil {
		return 0
	}
	left := c.timeout - c.now().Sub(req.RaisedAt)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

// Approve resolves a request in favor of the listed tool ids only; tools in
// the batch not named stay unapproved. The backend resumes execution for
// the approved ids.
func (c *Coordinator) Approve(ctx context.Context, messageID string, allowedToolIDs []string) error {
	req := c.pending[messageID]
	if req == nil {
		return nil
	}
	c.resolved[messageID] = req.ChatID
	delete(c.pending, messageID)

	if c.responder == nil {
		return nil
	}
	if err := c.responder.RespondToToolPermission(ctx, messageID, true, allowedToolIDs); err != nil {
		return fmt.Errorf("failed to deliver permission approval: %w", err)
	}
	return nil
}

// Deny resolves a request against all of its tool calls, appends a
// system-style chat message naming the denied tools, and notifies the
// backend. Safe to call repeatedly: only the first call for a message id
// does anything.
func (c *Coordinator) Deny(ctx context.Context, messageID string) error {
	req := c.pending[messageID]
	if req == nil {
		return nil
	}
	c.resolved[messageID] = req.ChatID
	delete(c.pending, messageID)

	names := make([]string, 0, len(req.ToolCalls))
	for _, call := range req.ToolCalls {
		names = append(names, call.Name)
	}
	c.store.Append(req.ChatID, NewMessage(RoleSystem,
		fmt.Sprintf("🚫 Permission denied for tool(s): %s. Flow cancelled.", strings.Join(names, ", "))))

	if c.responder == nil {
		return nil
	}
	if err := c.responder.RespondToToolPermission(ctx, messageID, false, nil); err != nil {
		return fmt.Errorf("failed to deliver permission denial: %w", err)
	}
	return nil
}

// Tick recomputes every pending countdown and auto-denies the expired ones.
// Expiry fires only once elapsed time strictly exceeds the timeout, so a
// countdown always reaches zero before denial. Returns the message ids
// denied on this tick.
func (c *Coordinator) Tick(ctx context.Context) []string {
	var denied []string
	for messageID, req := range c.pending {
		if c.now().Sub(req.RaisedAt) > c.timeout {
			if err := c.Deny(ctx, messageID); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[Permissions] Auto-deny for %s failed: %v", messageID, err)
			}
			denied = append(denied, messageID)
		}
	}
	return denied
}

// Release drops the resolved guards for a chat. Called when the chat's
// stream settles: no further permission events for those requests can
// arrive, so the guards have nothing left to absorb and the map stays
// bounded across a long session.
func (c *Coordinator) Release(chatID string) {
	for messageID, chat := range c.resolved {
		if chat == chatID {
			delete(c.resolved, messageID)
		}
	}
}

// HasPending reports whether any request is outstanding. The UI uses this
// to decide whether the shared countdown tick needs to keep running.
func (c *Coordinator) HasPending() bool {
	return len(c.pending) > 0
}
