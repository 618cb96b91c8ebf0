package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"parley/bridge"
	"parley/chat"
	"parley/config"
	"parley/storage"
)

// App is the root bubbletea model: a viewport over the projected message
// list, a compose textarea, and the state machinery wired underneath it
// (store, reconciler, permission coordinator, composer).
type App struct {
	cfg     *config.Config
	backend bridge.Commander
	chats   *storage.ChatStorage
	flows   *storage.FlowStorage

	store       *chat.Store
	reconciler  *chat.Reconciler
	permissions *chat.Coordinator
	composer    *chat.Composer

	chatID string
	title  string

	viewport       viewport.Model
	input          textarea.Model
	loadingSpinner spinner.Model
	width, height  int
	ready          bool

	// Per-message display toggles, keyed by message id. Missing entries
	// resolve to the projector's defaults.
	markdownOn   map[string]bool
	toolExpanded map[string]bool
	copied       map[string]bool

	agents  []bridge.AgentCard
	mention mentionState

	notice   string
	quitting bool
}

type eventMsg struct{ ev chat.Event }
type eventsClosedMsg struct{}
type countdownTickMsg time.Time
type agentsLoadedMsg struct{ agents []bridge.AgentCard }
type historyLoadedMsg struct {
	title    string
	messages []chat.Message
}
type settingsLoadedMsg struct{ settings bridge.WorkspaceSettings }
type noticeMsg string

// NewApp wires the view layer over a backend facade. chatID selects the
// thread to resume; pass "" to start a fresh one.
func NewApp(cfg *config.Config, backend bridge.Commander, chats *storage.ChatStorage, chatID string) App {
	store := chat.NewStore()
	permissions := chat.NewCoordinator(store, backend, chat.DefaultPermissionTimeout)

	ta := textarea.New()
	ta.Placeholder = "Type a message (@agent to mention)..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)

	if chatID == "" {
		chatID = uuid.New().String()
	}

	var flows *storage.FlowStorage
	if cfg != nil && cfg.DataDirectory != "" {
		if fs, err := storage.NewFlowStorage(cfg.DataDir()); err == nil {
			flows = fs
		} else if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] Flow storage init failed: %v", err)
		}
	}

	return App{
		cfg:            cfg,
		backend:        backend,
		chats:          chats,
		flows:          flows,
		store:          store,
		reconciler:     chat.NewReconciler(store, permissions),
		permissions:    permissions,
		composer:       chat.NewComposer(store, backend),
		chatID:         chatID,
		title:          "New Chat",
		input:          ta,
		loadingSpinner: sp,
		markdownOn:     make(map[string]bool),
		toolExpanded:   make(map[string]bool),
		copied:         make(map[string]bool),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		a.loadingSpinner.Tick,
		a.waitForEvent(),
		a.countdownTick(),
		a.loadHistory(),
		a.loadAgents(),
		a.loadSettings(),
	)
}

// waitForEvent blocks on the backend push channel and re-arms after every
// delivery (the Update handler issues the next waitForEvent).
func (a App) waitForEvent() tea.Cmd {
	ch := a.backend.Events()
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev}
	}
}

// countdownTick drives every pending permission countdown from one shared
// 1-second interval.
func (a App) countdownTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return countdownTickMsg(t)
	})
}

func (a App) loadHistory() tea.Cmd {
	chats, chatID := a.chats, a.chatID
	return func() tea.Msg {
		if chats == nil {
			return nil
		}
		record, err := chats.Load(chatID)
		if err != nil {
			// A missing record just means a brand new chat.
			return nil
		}
		return historyLoadedMsg{title: record.Title, messages: record.Messages}
	}
}

func (a App) loadAgents() tea.Cmd {
	backend := a.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		agents, err := backend.ListAgents(ctx)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[UI] Agent listing failed: %v", err)
			}
			return nil
		}
		return agentsLoadedMsg{agents: agents}
	}
}

func (a App) loadSettings() tea.Cmd {
	backend := a.backend
	workspace := ""
	if a.cfg != nil {
		workspace = a.cfg.Workspace
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		settings, err := backend.WorkspaceSettings(ctx, workspace)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[UI] Workspace settings load failed: %v", err)
			}
			return nil
		}
		return settingsLoadedMsg{settings: settings}
	}
}

func (a App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}
	if !a.ready {
		return "Initializing..."
	}

	header := a.headerView()
	footer := a.footerView()

	sections := []string{header, a.viewport.View()}
	if popup := a.mentionPopup(); popup != "" {
		sections = append(sections, popup)
	}
	sections = append(sections, a.input.View(), footer)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a App) headerView() string {
	title := TitleStyle.Render(a.title)
	status := ""
	switch {
	case a.permissions.HasPending():
		status = WarningStyle.Render("permission required")
	case a.store.Session(a.chatID).Active():
		status = a.loadingSpinner.View() + DimStyle.Render(" streaming")
	case a.notice != "":
		status = DimStyle.Render(a.notice)
	}
	if staged := a.stagedSummary(); staged != "" {
		status += "  " + DimStyle.Render(staged)
	}
	if status == "" {
		return title
	}
	return title + "  " + status
}

func (a App) footerView() string {
	if a.permissions.HasPending() {
		return FormatFooter("y", "Approve", "n", "Deny")
	}

	session := a.store.Session(a.chatID)
	switch {
	case session != nil && session.Err != nil && session.Err.CanRetry:
		return FormatFooter("ctrl+r", "Retry", "enter", "Send", "ctrl+c", "Quit")
	case session.Active():
		return FormatFooter("esc", "Stop", "ctrl+c", "Quit")
	case a.mention.open:
		return FormatFooter("↑/↓", "Navigate", "tab", "Mention", "esc", "Close")
	default:
		return FormatFooter("enter", "Send", "ctrl+o", "Markdown", "ctrl+e", "Expand", "ctrl+y", "Copy", "ctrl+c", "Quit")
	}
}
