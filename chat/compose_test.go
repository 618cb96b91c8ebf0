package chat

import (
	"context"
	"errors"
	"testing"
)

type recordingSender struct {
	sent []Message
	err  error
}

func (s *recordingSender) CreateMessage(_ context.Context, _ string, msg Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func TestAssembleTextConcatenationOrder(t *testing.T) {
	tests := []struct {
		name     string
		mentions []string
		prompt   string
		free     string
		want     string
	}{
		{
			name:     "mentions, prompt and free text",
			mentions: []string{"agent1", "agent2"},
			prompt:   "Template:",
			free:     "hello",
			want:     "@agent1 @agent2 Template:\n\nhello",
		},
		{
			name: "free text only",
			free: "hello",
			want: "hello",
		},
		{
			name:     "mentions only, no free text",
			mentions: []string{"agent1"},
			want:     "@agent1 ",
		},
		{
			name:   "prompt ending in newline gets no extra separator",
			prompt: "Template:\n",
			free:   "hello",
			want:   "Template:\nhello",
		},
		{
			name:   "prompt with whitespace-only free text",
			prompt: "Template:",
			free:   "   ",
			want:   "Template:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComposer(NewStore(), &recordingSender{})
			for _, m := range tt.mentions {
				c.StageMention(m)
			}
			if tt.prompt != "" {
				c.StagePrompt(tt.prompt)
			}
			if got := c.AssembleText(tt.free); got != tt.want {
				t.Errorf("AssembleText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubmitSuppressedWhenEmpty(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{}
	c := NewComposer(store, sender)

	_, ok, err := c.Submit(context.Background(), "c1", "   \n  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("empty submission not suppressed")
	}
	if len(sender.sent) != 0 {
		t.Errorf("suppressed submission produced %d outbound calls", len(sender.sent))
	}
	if len(store.Messages("c1")) != 0 {
		t.Error("suppressed submission mutated the store")
	}
}

func TestSubmitWithOnlyAttachmentGoesOut(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{}
	c := NewComposer(store, sender)
	c.StageFile(StagedFile{Name: "notes.txt", Mime: "text/plain", Data: []byte("hi")})

	msg, ok, err := c.Submit(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ok {
		t.Fatal("submission with attachment suppressed")
	}
	meta := DecodeMetadata(msg.Metadata)
	if meta.Kind != MetadataFiles || len(meta.Files) != 1 {
		t.Fatalf("metadata = %+v, want one encoded file", meta)
	}
	if meta.Files[0].Data == "" {
		t.Error("file not encoded to transportable form")
	}
}

func TestSubmitFlowAttachmentMetadata(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{}
	c := NewComposer(store, sender)
	c.StageFlow(Flow{ID: "f1", Name: "triage"})

	msg, ok, err := c.Submit(context.Background(), "c1", "run it")
	if err != nil || !ok {
		t.Fatalf("submit: ok=%v err=%v", ok, err)
	}
	meta := DecodeMetadata(msg.Metadata)
	if meta.Kind != MetadataFlowAttachment {
		t.Fatalf("metadata kind = %s, want flow_attachment", meta.Kind)
	}
	if meta.Flow == nil || meta.Flow.ID != "f1" {
		t.Errorf("flow = %+v", meta.Flow)
	}
	if meta.FlowTime.IsZero() {
		t.Error("flow attachment carries no timestamp")
	}
}

func TestSubmitFlowAndFilesBothSurvive(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{}
	c := NewComposer(store, sender)
	c.StageFlow(Flow{ID: "f1", Name: "triage"})
	c.StageFile(StagedFile{Name: "notes.txt", Data: []byte("hi")})

	msg, ok, err := c.Submit(context.Background(), "c1", "run it")
	if err != nil || !ok {
		t.Fatalf("submit: ok=%v err=%v", ok, err)
	}
	meta := DecodeMetadata(msg.Metadata)
	if meta.Kind != MetadataFlowAttachment {
		t.Fatalf("metadata kind = %s, want flow_attachment", meta.Kind)
	}
	if meta.Flow == nil || meta.Flow.ID != "f1" {
		t.Errorf("flow = %+v", meta.Flow)
	}
	if len(meta.Files) != 1 || meta.Files[0].Name != "notes.txt" {
		t.Fatalf("files = %+v, want the staged file alongside the flow", meta.Files)
	}
	if meta.Files[0].Data == "" {
		t.Error("file not encoded to transportable form")
	}
}

func TestSubmitFileEncodingAllOrNothing(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{}
	c := NewComposer(store, sender)
	c.encode = func(f StagedFile) (AttachedFile, error) {
		if f.Name == "bad.bin" {
			return AttachedFile{}, errors.New("unreadable")
		}
		return AttachedFile{Name: f.Name, Data: "ZGF0YQ=="}, nil
	}
	c.StageFile(StagedFile{Name: "good.txt", Data: []byte("a")})
	c.StageFile(StagedFile{Name: "bad.bin", Data: []byte("b")})
	c.StageFile(StagedFile{Name: "also-good.txt", Data: []byte("c")})

	_, ok, err := c.Submit(context.Background(), "c1", "text")
	if err == nil {
		t.Fatal("expected a single error aborting the whole submission")
	}
	if ok {
		t.Error("failed submission reported as sent")
	}
	if len(sender.sent) != 0 {
		t.Error("partial attachment set went out")
	}
}

func TestSubmitEncodeFailureKeepsStaged(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{}
	c := NewComposer(store, sender)
	c.encode = func(StagedFile) (AttachedFile, error) {
		return AttachedFile{}, errors.New("unreadable")
	}
	c.StageMention("coder")
	c.StageFile(StagedFile{Name: "bad.bin", Data: []byte("b")})
	c.StageFlow(Flow{ID: "f1", Name: "triage"})

	_, ok, err := c.Submit(context.Background(), "c1", "text")
	if err == nil || ok {
		t.Fatalf("submit: ok=%v err=%v, want aborted", ok, err)
	}

	// Nothing went out, so the user keeps everything staged to retry.
	mentions, files, hasFlow, _ := c.Staged()
	if len(mentions) != 1 || files != 1 || !hasFlow {
		t.Errorf("staged after failed encode = mentions=%v files=%d flow=%v, want all retained",
			mentions, files, hasFlow)
	}
	if len(store.Messages("c1")) != 0 {
		t.Error("failed assembly appended a message")
	}
}

func TestSubmitOptimisticResetStands(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{err: errors.New("backend down")}
	c := NewComposer(store, sender)
	c.StageMention("agent1")

	msg, ok, err := c.Submit(context.Background(), "c1", "hello")
	if !ok {
		t.Fatal("submission suppressed")
	}
	if err == nil {
		t.Fatal("send failure not surfaced")
	}
	// Send failure does not roll back the staged reset or the appended
	// message; the error surfaces via notification only.
	mentions, files, hasFlow, prompt := c.Staged()
	if len(mentions) != 0 || files != 0 || hasFlow || prompt != "" {
		t.Error("staged state not cleared before send result")
	}
	if _, found := store.Get("c1", msg.ID); !found {
		t.Error("optimistically appended message missing from store")
	}
}

func TestSubmitRefusedWhileStreaming(t *testing.T) {
	store := NewStore()
	sender := &recordingSender{}
	c := NewComposer(store, sender)
	store.SetStreamTarget("c1", "m1")

	_, ok, err := c.Submit(context.Background(), "c1", "hello")
	if ok {
		t.Error("submission allowed while chat streams")
	}
	if !errors.Is(err, ErrStreamActive) {
		t.Errorf("err = %v, want ErrStreamActive", err)
	}
	if len(sender.sent) != 0 {
		t.Error("outbound call despite active stream")
	}
}

type reentrantSender struct {
	composer *Composer
	nested   bool
}

func (s *reentrantSender) CreateMessage(ctx context.Context, chatID string, _ Message) error {
	_, ok, _ := s.composer.Submit(ctx, chatID, "nested")
	s.nested = ok
	return nil
}

func TestSubmitSingleFlight(t *testing.T) {
	store := NewStore()
	sender := &reentrantSender{}
	c := NewComposer(store, sender)
	sender.composer = c

	_, ok, err := c.Submit(context.Background(), "c1", "outer")
	if err != nil || !ok {
		t.Fatalf("outer submit: ok=%v err=%v", ok, err)
	}
	if sender.nested {
		t.Error("second submission accepted while the first was in flight")
	}
}
