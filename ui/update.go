package ui

import (
	"context"
	"errors"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"parley/chat"
	"parley/config"
	"parley/storage"
)

const inputHeight = 3

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		chrome := inputHeight + 2 // header + footer
		if !a.ready {
			a.viewport = viewport.New(msg.Width, msg.Height-chrome-1)
			a.ready = true
		} else {
			a.viewport.Width = msg.Width
			a.viewport.Height = msg.Height - chrome - 1
		}
		a.input.SetWidth(msg.Width - 2)
		a.refreshViewport(true)
		return a, nil

	case eventMsg:
		a.reconciler.Apply(msg.ev)
		if msg.ev.Chat() == a.chatID {
			a.refreshViewport(true)
		}
		return a, a.waitForEvent()

	case eventsClosedMsg:
		a.quitting = true
		return a, tea.Quit

	case countdownTickMsg:
		hadPending := a.permissions.HasPending()
		denied := a.permissions.Tick(context.Background())
		if hadPending || len(denied) > 0 {
			a.refreshViewport(false)
		}
		return a, a.countdownTick()

	case historyLoadedMsg:
		if msg.title != "" {
			a.title = msg.title
		}
		for _, m := range msg.messages {
			a.store.Append(a.chatID, m)
		}
		a.refreshViewport(true)
		return a, nil

	case settingsLoadedMsg:
		if secs := msg.settings.ToolPermission.TimeoutSeconds; secs > 0 {
			a.permissions.SetTimeout(time.Duration(secs) * time.Second)
		}
		return a, nil

	case agentsLoadedMsg:
		a.agents = msg.agents
		return a, nil

	case noticeMsg:
		a.notice = string(msg)
		return a, nil

	case spinner.TickMsg:
		if a.store.Session(a.chatID).Active() || a.permissions.HasPending() {
			a.loadingSpinner, cmd = a.loadingSpinner.Update(msg)
			a.refreshViewport(false)
			return a, cmd
		}
		a.loadingSpinner, cmd = a.loadingSpinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return a, tea.Batch(cmds...)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Permission mode captures the keyboard until the request resolves.
	if a.permissions.HasPending() {
		return a.handlePermissionKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		a.quitting = true
		return a, tea.Quit

	case "esc":
		switch {
		case a.mention.open:
			a.mention = mentionState{}
			return a, nil
		case a.store.Session(a.chatID).Active():
			return a, a.stopStream()
		}
		return a, nil

	case "enter":
		if a.mention.open {
			return a.acceptMention()
		}
		return a.submit()

	case "tab":
		if a.mention.open {
			return a.acceptMention()
		}

	case "up":
		if a.mention.open {
			if a.mention.selected > 0 {
				a.mention.selected--
			}
			return a, nil
		}

	case "down":
		if a.mention.open {
			if a.mention.selected < len(a.mention.matches)-1 {
				a.mention.selected++
			}
			return a, nil
		}

	case "ctrl+r":
		session := a.store.Session(a.chatID)
		if session != nil && session.Err != nil && session.Err.CanRetry {
			return a, a.retryStream(session.Err.MessageID)
		}
		return a, nil

	case "ctrl+o":
		a.toggleMarkdown()
		a.refreshViewport(false)
		return a, nil

	case "ctrl+e":
		a.toggleToolExpand()
		a.refreshViewport(false)
		return a, nil

	case "ctrl+y":
		return a, a.copyLastMessage()

	case "pgup", "pgdown":
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.refreshMention()
	return a, cmd
}

func (a App) handlePermissionKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	pending := a.permissions.PendingForChat(a.chatID)
	if len(pending) == 0 {
		// Pending requests for another chat; nothing to act on here.
		if msg.String() == "ctrl+c" {
			a.quitting = true
			return a, tea.Quit
		}
		return a, nil
	}
	req := pending[0]

	switch msg.String() {
	case "y", "Y":
		ids := make([]string, 0, len(req.ToolCalls))
		for _, call := range req.ToolCalls {
			ids = append(ids, call.ID)
		}
		if err := a.permissions.Approve(context.Background(), req.MessageID, ids); err != nil {
			a.notice = err.Error()
		}
		a.refreshViewport(true)
		return a, nil

	case "n", "N", "esc":
		if err := a.permissions.Deny(context.Background(), req.MessageID); err != nil {
			a.notice = err.Error()
		}
		a.refreshViewport(true)
		return a, nil

	case "ctrl+c":
		a.quitting = true
		return a, tea.Quit
	}
	return a, nil
}

// submit runs the two-phase optimistic pipeline: the composer appends the
// user message and resets staged state before the backend call returns, so
// the compose box clears immediately. A backend failure surfaces as a
// notice; the optimistic append stands.
func (a App) submit() (tea.Model, tea.Cmd) {
	if handled, cmd := a.handleSlashCommand(a.input.Value()); handled {
		return a, cmd
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, sent, err := a.composer.Submit(ctx, a.chatID, a.input.Value())
	switch {
	case errors.Is(err, chat.ErrStreamActive):
		a.notice = "A response is still streaming; press esc to stop it first"
		return a, nil
	case err != nil:
		a.notice = err.Error()
	}
	if sent {
		if a.title == "New Chat" {
			if msgs := a.store.Messages(a.chatID); len(msgs) > 0 {
				a.title = storage.GenerateChatTitle(msgs[0].Content)
			}
		}
		a.input.Reset()
		a.mention = mentionState{}
		a.notice = ""
		a.refreshViewport(true)
	}
	return a, nil
}

func (a App) stopStream() tea.Cmd {
	backend, chatID := a.backend, a.chatID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.StopStream(ctx, chatID); err != nil {
			return noticeMsg(err.Error())
		}
		return noticeMsg("Stream stopped")
	}
}

func (a App) retryStream(messageID string) tea.Cmd {
	backend, chatID := a.backend, a.chatID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.RetryStream(ctx, chatID, messageID); err != nil {
			return noticeMsg(err.Error())
		}
		return noticeMsg("Retrying...")
	}
}

// copyLastMessage copies the last renderable message's content and flags it
// so the view shows a copied marker.
func (a *App) copyLastMessage() tea.Cmd {
	units := a.projectUnits()
	id, content := lastCopyable(units)
	if id == "" {
		return nil
	}
	if err := clipboard.WriteAll(content); err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] Clipboard write failed: %v", err)
		}
		return func() tea.Msg { return noticeMsg("Copy failed") }
	}
	a.copied[id] = true
	a.refreshViewport(false)
	return func() tea.Msg { return noticeMsg("Copied") }
}

// toggleMarkdown flips the markdown rendering of the last content unit.
func (a *App) toggleMarkdown() {
	units := a.projectUnits()
	for i := len(units) - 1; i >= 0; i-- {
		if units[i].Kind == chat.UnitContent {
			id := units[i].Message.ID
			a.markdownOn[id] = !units[i].Markdown
			return
		}
	}
}

// toggleToolExpand flips the expansion of the last tool-call unit.
func (a *App) toggleToolExpand() {
	units := a.projectUnits()
	for i := len(units) - 1; i >= 0; i-- {
		if units[i].Kind == chat.UnitToolCall {
			id := units[i].Message.ID
			a.toolExpanded[id] = !units[i].Expanded
			return
		}
	}
}

func lastCopyable(units []chat.Unit) (id, content string) {
	for i := len(units) - 1; i >= 0; i-- {
		if units[i].Kind == chat.UnitContent {
			return units[i].Message.ID, units[i].Message.Content
		}
	}
	return "", ""
}
