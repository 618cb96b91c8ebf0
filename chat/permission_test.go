package chat

import (
	"context"
	"strings"
	"testing"
	"time"
)

type recordingResponder struct {
	calls []permissionResponse
}

type permissionResponse struct {
	messageID string
	approved  bool
	allowed   []string
}

func (r *recordingResponder) RespondToToolPermission(_ context.Context, messageID string, approved bool, allowedToolIDs []string) error {
	r.calls = append(r.calls, permissionResponse{messageID, approved, allowedToolIDs})
	return nil
}

func newTestCoordinator(timeout time.Duration) (*Coordinator, *Store, *recordingResponder, *time.Time) {
	store := NewStore()
	responder := &recordingResponder{}
	coord := NewCoordinator(store, responder, timeout)
	now := time.Now()
	coord.now = func() time.Time { return now }
	return coord, store, responder, &now
}

func TestCountdownRemaining(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"fresh request", 0, 5},
		{"4s elapsed of 5s rounds up to 1", 4000 * time.Millisecond, 1},
		{"4.5s elapsed rounds up to 1", 4500 * time.Millisecond, 1},
		{"exactly expired", 5000 * time.Millisecond, 0},
		{"past expiry clamps at zero", 7 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord, _, _, now := newTestCoordinator(5 * time.Second)
			coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_read"})
			*now = now.Add(tt.elapsed)
			if got := coord.Remaining("m1"); got != tt.want {
				t.Errorf("Remaining = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTimeoutFiresOnlyPastExpiry(t *testing.T) {
	coord, _, responder, now := newTestCoordinator(5 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_read"})

	// Exactly at the timeout: countdown reads zero but denial must not fire.
	*now = now.Add(5000 * time.Millisecond)
	if denied := coord.Tick(context.Background()); len(denied) != 0 {
		t.Fatalf("denied at exactly timeout: %v", denied)
	}

	// One millisecond past: the next tick denies.
	*now = now.Add(time.Millisecond)
	denied := coord.Tick(context.Background())
	if len(denied) != 1 || denied[0] != "m1" {
		t.Fatalf("denied = %v, want [m1]", denied)
	}
	if len(responder.calls) != 1 || responder.calls[0].approved {
		t.Fatalf("responder calls = %+v, want one denial", responder.calls)
	}
}

func TestAutoDenialIsIdempotent(t *testing.T) {
	coord, store, responder, now := newTestCoordinator(5 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_write"})

	*now = now.Add(6 * time.Second)
	coord.Tick(context.Background())
	// The recurring tick keeps running; repeats must not re-deny.
	coord.Tick(context.Background())
	coord.Tick(context.Background())

	if len(responder.calls) != 1 {
		t.Errorf("responder notified %d times, want exactly once", len(responder.calls))
	}

	var denialMessages int
	for _, msg := range store.Messages("c1") {
		if msg.Role == RoleSystem && strings.Contains(msg.Content, "fs_write") {
			denialMessages++
		}
	}
	if denialMessages != 1 {
		t.Errorf("found %d synthesized denial messages, want exactly one", denialMessages)
	}

	// An explicit deny after processing is also a no-op.
	if err := coord.Deny(context.Background(), "m1"); err != nil {
		t.Fatalf("repeat deny: %v", err)
	}
	if len(responder.calls) != 1 {
		t.Errorf("repeat explicit deny reached the responder")
	}
}

func TestResolvedGuardsReleaseWhenChatSettles(t *testing.T) {
	coord, _, responder, _ := newTestCoordinator(5 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_write"})
	if err := coord.Deny(context.Background(), "m1"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	// A pending event queued behind the denial must not reopen the request.
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_write"})
	if coord.Pending("m1") != nil {
		t.Error("resolved request reopened by a late event")
	}
	if len(responder.calls) != 1 {
		t.Errorf("responder notified %d times, want exactly once", len(responder.calls))
	}

	// Once the chat's stream settles the guards drain; other chats keep theirs.
	coord.Track("c2", "m9", ToolCallRef{ID: "call9", Name: "web_fetch"})
	if err := coord.Deny(context.Background(), "m9"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	coord.Release("c1")
	if _, held := coord.resolved["m1"]; held {
		t.Error("guard for settled chat retained")
	}
	if _, held := coord.resolved["m9"]; !held {
		t.Error("guard for another chat dropped")
	}
}

func TestReconcilerReleasesGuardsOnStreamEnd(t *testing.T) {
	store := NewStore()
	coord := NewCoordinator(store, nil, 0)
	r := NewReconciler(store, coord)

	r.Apply(ToolCallUpdate{ChatID: "c1", MessageID: "tc1", ParentID: "m1",
		Call: ToolCallSnapshot{ID: "call1", Name: "fs_write", Status: ToolPendingPermission}})
	if err := coord.Approve(context.Background(), "m1", []string{"call1"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	r.Apply(Completed{ChatID: "c1", MessageID: "m1"})
	if len(coord.resolved) != 0 {
		t.Errorf("guards retained after stream completion: %v", coord.resolved)
	}
}

func TestDenialNamesEveryToolInBatch(t *testing.T) {
	coord, store, _, _ := newTestCoordinator(5 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_write"})
	coord.Track("c1", "m1", ToolCallRef{ID: "call2", Name: "web_fetch"})

	if err := coord.Deny(context.Background(), "m1"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	msgs := store.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "fs_write") || !strings.Contains(msgs[0].Content, "web_fetch") {
		t.Errorf("denial message missing tool names: %q", msgs[0].Content)
	}
}

func TestApproveForwardsAllowedIDsOnly(t *testing.T) {
	coord, _, responder, _ := newTestCoordinator(5 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_read"})
	coord.Track("c1", "m1", ToolCallRef{ID: "call2", Name: "fs_write"})

	if err := coord.Approve(context.Background(), "m1", []string{"call1"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if len(responder.calls) != 1 {
		t.Fatalf("responder calls = %d, want 1", len(responder.calls))
	}
	call := responder.calls[0]
	if !call.approved {
		t.Error("approval delivered as denial")
	}
	if len(call.allowed) != 1 || call.allowed[0] != "call1" {
		t.Errorf("allowed ids = %v, want [call1] only", call.allowed)
	}
	if coord.Pending("m1") != nil {
		t.Error("request still pending after approval")
	}
}

func TestDuplicateCallIDsCollapse(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(5 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_read"})
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_read"})

	req := coord.Pending("m1")
	if req == nil || len(req.ToolCalls) != 1 {
		t.Fatalf("duplicate call id tracked twice: %+v", req)
	}
}

func TestTimeoutWindowSharedAcrossBatch(t *testing.T) {
	coord, _, _, now := newTestCoordinator(5 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call1", Name: "fs_read"})

	// The second call arrives late but joins the original window.
	*now = now.Add(3 * time.Second)
	coord.Track("c1", "m1", ToolCallRef{ID: "call2", Name: "fs_write"})

	if got := coord.Remaining("m1"); got != 2 {
		t.Errorf("Remaining = %d, want 2 (window anchored at first call)", got)
	}
}
