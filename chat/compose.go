package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrStreamActive is returned when a submission is attempted while the chat
// already has an active stream.
var ErrStreamActive = errors.New("chat has an active stream")

// Sender is the outbound side of the submission pipeline, implemented by
// the command facade.
type Sender interface {
	CreateMessage(ctx context.Context, chatID string, msg Message) error
}

// StagedFile is a file attached to the compose box but not yet encoded.
// Either Data or Path must be set; Path is read at submit time.
type StagedFile struct {
	Name string
	Mime string
	Path string
	Data []byte
}

// Composer assembles a user turn from free text, staged agent mentions,
// attached files, an optional flow attachment, and an optional inserted
// prompt. One composer serves one compose box; it is single-flight.
type Composer struct {
	store  *Store
	sender Sender

	mentions []string
	prompt   string
	files    []StagedFile
	flow     *Flow

	inflight bool
	encode   func(StagedFile) (AttachedFile, error)
	now      func() time.Time
}

// NewComposer creates a composer bound to a store and sender.
func NewComposer(store *Store, sender Sender) *Composer {
	return &Composer{
		store:  store,
		sender: sender,
		encode: encodeFile,
		now:    time.Now,
	}
}

// StageMention adds an agent mention to the pending turn.
func (c *Composer) StageMention(agentID string) {
	for _, m := range c.mentions {
		if m == agentID {
			return
		}
	}
	c.mentions = append(c.mentions, agentID)
}

// StagePrompt sets the inserted prompt template content.
func (c *Composer) StagePrompt(content string) {
	c.prompt = content
}

// StageFile attaches a file to the pending turn.
func (c *Composer) StageFile(f StagedFile) {
	c.files = append(c.files, f)
}

// StageFlow attaches a workflow definition; only one can be staged.
func (c *Composer) StageFlow(flow Flow) {
	c.flow = &flow
}

// Staged reports what is currently staged, for status display.
func (c *Composer) Staged() (mentions []string, files int, hasFlow bool, prompt string) {
	return c.mentions, len(c.files), c.flow != nil, c.prompt
}

// resetStaged clears all staged compose state as one atomic step. It runs
// once assembly has succeeded, before the send result is known; send
// failures never roll it back. Failures surface through notifications only;
// that is a product decision, not an oversight.
func (c *Composer) resetStaged() {
	c.mentions = nil
	c.prompt = ""
	c.files = nil
	c.flow = nil
}

// AssembleText builds the outbound text: mention prefixes, then the
// inserted prompt, then the free text, with a blank line between the
// prefix block and the free text unless the block already ends in one.
func (c *Composer) AssembleText(freeText string) string {
	var block strings.Builder
	for _, m := range c.mentions {
		block.WriteString("@")
		block.WriteString(m)
		block.WriteString(" ")
	}
	block.WriteString(c.prompt)

	prefix := block.String()
	switch {
	case prefix == "":
		return freeText
	case strings.TrimSpace(freeText) == "":
		return prefix
	case strings.HasSuffix(prefix, "\n"):
		return prefix + freeText
	default:
		return prefix + "\n\n" + freeText
	}
}

// Submit assembles and sends one user turn. It returns the created message
// and true when a submission actually went out.
//
// Empty submissions are suppressed: when the combined text is blank and
// nothing is attached, Submit is a no-op with zero outbound calls. A second
// submission while one is in flight is ignored, and submitting into a chat
// with an active stream returns ErrStreamActive.
func (c *Composer) Submit(ctx context.Context, chatID, freeText string) (Message, bool, error) {
	if c.inflight {
		return Message{}, false, nil
	}
	if c.store.Session(chatID).Active() {
		return Message{}, false, ErrStreamActive
	}

	combined := c.AssembleText(freeText)
	if strings.TrimSpace(combined) == "" && len(c.files) == 0 && c.flow == nil {
		return Message{}, false, nil
	}

	c.inflight = true
	defer func() { c.inflight = false }()

	// Assembly failures leave staged state untouched so the user can fix
	// and resubmit.
	encoded, err := c.encodeAll(c.files)
	if err != nil {
		return Message{}, false, fmt.Errorf("failed to attach files: %w", err)
	}

	msg := NewMessage(RoleUser, combined)
	switch {
	case c.flow != nil:
		meta, err := EncodeFlowAttachment(*c.flow, encoded, c.now())
		if err != nil {
			return Message{}, false, fmt.Errorf("failed to encode flow attachment: %w", err)
		}
		msg.Metadata = meta
	case len(encoded) > 0:
		meta, err := EncodeFilesMetadata(encoded)
		if err != nil {
			return Message{}, false, fmt.Errorf("failed to encode file metadata: %w", err)
		}
		msg.Metadata = meta
	}

	c.resetStaged()
	c.store.Append(chatID, msg)

	if err := c.sender.CreateMessage(ctx, chatID, msg); err != nil {
		// Phase 2: the optimistic reset stands; the caller surfaces this
		// through a notification.
		return msg, true, fmt.Errorf("failed to send message: %w", err)
	}
	return msg, true, nil
}

// encodeAll converts every staged file in parallel, all-or-nothing: one
// failure aborts the whole set with a single error.
func (c *Composer) encodeAll(files []StagedFile) ([]AttachedFile, error) {
	if len(files) == 0 {
		return nil, nil
	}

	encoded := make([]AttachedFile, len(files))
	errs := make([]error, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f StagedFile) {
			defer wg.Done()
			encoded[i], errs[i] = c.encode(f)
		}(i, f)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("file %q: %w", files[i].Name, err)
		}
	}
	return encoded, nil
}

func encodeFile(f StagedFile) (AttachedFile, error) {
	data := f.Data
	if data == nil {
		var err error
		data, err = os.ReadFile(f.Path)
		if err != nil {
			return AttachedFile{}, err
		}
	}
	return AttachedFile{
		Name: f.Name,
		Mime: f.Mime,
		Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}
