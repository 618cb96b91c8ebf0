package ui

import (
	"fmt"
	"regexp"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/charmbracelet/lipgloss"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mattn/go-runewidth"

	"parley/chat"
)

// Pre-compiled regex patterns for better performance
var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	urlRegex        = regexp.MustCompile(`(https?://[^\s]+)`)
)

const collapsePreviewLines = 4

// projectorView assembles the projection inputs from the app's per-message
// toggle maps and the chat's live stream target.
func (a *App) projectorView() chat.View {
	markdownOn := a.markdownOn
	if a.cfg != nil && !a.cfg.MarkdownDefault {
		// The projector's missing-entry fallback is markdown-on; a
		// config default of off needs explicit entries for untouched
		// messages.
		markdownOn = make(map[string]bool, len(a.markdownOn))
		for _, msg := range a.store.Messages(a.chatID) {
			markdownOn[msg.ID] = false
		}
		for id, on := range a.markdownOn {
			markdownOn[id] = on
		}
	}

	view := chat.View{
		Markdown:     markdownOn,
		ToolExpanded: a.toolExpanded,
		Copied:       a.copied,
	}
	if session := a.store.Session(a.chatID); session != nil {
		view.StreamingMessageID = session.StreamingMessageID
	}
	return view
}

func (a *App) projectUnits() []chat.Unit {
	return chat.Project(a.store.Messages(a.chatID), a.projectorView())
}

func (a *App) refreshViewport(gotoBottom bool) {
	if !a.ready {
		return
	}

	units := a.projectUnits()
	if len(units) == 0 && !a.store.Session(a.chatID).Active() {
		a.viewport.SetContent("No messages yet. Start chatting!")
		return
	}

	var content strings.Builder
	for _, unit := range units {
		switch unit.Kind {
		case chat.UnitThinking:
			content.WriteString(a.renderThinking(unit))
		case chat.UnitContent:
			content.WriteString(a.renderContent(unit))
		case chat.UnitToolCall:
			content.WriteString(a.renderToolCall(unit))
		case chat.UnitDecodeError:
			content.WriteString(ErrorStyle.Render("⚠ unreadable tool call record") + "\n\n")
		}
	}

	// Spinner placeholder while the stream target has produced nothing.
	session := a.store.Session(a.chatID)
	if session.Active() {
		if _, ok := a.store.Get(a.chatID, session.StreamingMessageID); !ok {
			content.WriteString(a.loadingSpinner.View() + DimStyle.Render(" Waiting for response...") + "\n\n")
		}
	}

	if session != nil && session.Err != nil {
		line := ErrorStyle.Render("✗ " + session.Err.Message)
		if session.Err.CanRetry {
			line += DimStyle.Render("  (ctrl+r to retry)")
		}
		content.WriteString(line + "\n\n")
	}

	for _, req := range a.permissions.PendingForChat(a.chatID) {
		content.WriteString(a.renderPermissionPrompt(req))
	}

	a.viewport.SetContent(content.String())
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

func (a *App) renderContent(unit chat.Unit) string {
	msg := unit.Message
	timestamp := DimStyle.Render(msg.Timestamp.Format("[15:04]"))

	var roleStyle = DimStyle
	var roleName string
	switch msg.Role {
	case chat.RoleUser:
		roleStyle = UserStyle
		roleName = "You"
	case chat.RoleAssistant:
		roleStyle = AssistantStyle
		roleName = "Assistant"
	default:
		roleName = "System"
	}
	role := roleStyle.Render(roleName)

	var tags []string
	if unit.Copied {
		tags = append(tags, SelectedStyle.Render("✓ copied"))
	}
	if badge := metadataBadge(unit.Metadata); badge != "" {
		tags = append(tags, DimStyle.Render(badge))
	}

	body := msg.Content
	switch {
	case unit.Collapsed:
		body = collapsePreview(body) + "\n" + DimStyle.Render("… (collapsed)")
	case unit.Markdown && msg.Role == chat.RoleAssistant:
		body = renderMarkdown(body, a.width)
	default:
		body = wrapPlain(body, a.width-2)
	}

	header := fmt.Sprintf("%s %s", timestamp, role)
	if len(tags) > 0 {
		header += "  " + strings.Join(tags, " ")
	}

	if msg.Role == chat.RoleUser {
		return formatUserMessage(header, body)
	}

	out := header + "\n" + body + "\n"
	if msg.TokenUsage != nil {
		out += DimStyle.Render(formatUsage(msg.TokenUsage)) + "\n"
	}
	return out + "\n"
}

func (a *App) renderThinking(unit chat.Unit) string {
	label := DimStyle.Render("✦ thinking")
	if unit.Live {
		return fmt.Sprintf("%s %s\n%s\n\n", label, a.loadingSpinner.View(),
			ThinkingStyle.Render(wrapPlain(unit.Message.Reasoning, a.width-2)))
	}
	lines := strings.Split(unit.Message.Reasoning, "\n")
	if len(lines) > collapsePreviewLines {
		preview := strings.Join(lines[:collapsePreviewLines], "\n")
		return fmt.Sprintf("%s\n%s\n%s\n\n", label,
			ThinkingStyle.Render(wrapPlain(preview, a.width-2)),
			DimStyle.Render("… (thinking trimmed)"))
	}
	return fmt.Sprintf("%s\n%s\n\n", label,
		ThinkingStyle.Render(wrapPlain(unit.Message.Reasoning, a.width-2)))
}

func (a *App) renderToolCall(unit chat.Unit) string {
	call := unit.Call
	glyph, style := toolStatusGlyph(call.Status)
	line := fmt.Sprintf("%s %s", style.Render(glyph), TitleStyle.Render(call.Name))

	switch call.Status {
	case chat.ToolPendingPermission:
		line += "  " + WarningStyle.Render("waiting for permission")
	case chat.ToolExecuting:
		line += "  " + a.loadingSpinner.View()
	case chat.ToolError:
		if call.Error != "" {
			line += "  " + ErrorStyle.Render(call.Error)
		}
	}

	if !unit.Expanded {
		return line + DimStyle.Render("  (ctrl+e to expand)") + "\n\n"
	}

	var body strings.Builder
	body.WriteString(line + "\n")
	if len(call.Arguments) > 0 {
		for key, value := range call.Arguments {
			body.WriteString(DimStyle.Render(fmt.Sprintf("  %s: %v", key, value)) + "\n")
		}
	}
	if call.Result != "" {
		body.WriteString(wrapPlain(call.Result, a.width-4) + "\n")
	}
	return body.String() + "\n"
}

// renderPermissionPrompt draws the approval box with the shared countdown.
func (a *App) renderPermissionPrompt(req *chat.PendingPermission) string {
	remaining := a.permissions.Remaining(req.MessageID)

	var body strings.Builder
	body.WriteString(WarningStyle.Render("🔒 Permission Request") + "\n")
	for _, call := range req.ToolCalls {
		body.WriteString(fmt.Sprintf("  %s", TitleStyle.Render(call.Name)))
		if len(call.Arguments) > 0 {
			body.WriteString(DimStyle.Render(fmt.Sprintf(" %v", call.Arguments)))
		}
		body.WriteString("\n")
	}
	body.WriteString(fmt.Sprintf("\n%s  %s",
		FormatFooter("y", "Approve", "n", "Deny"),
		DimStyle.Render(fmt.Sprintf("auto-deny in %ds", remaining))))

	return PermissionBorderStyle.Render(body.String()) + "\n\n"
}

func formatUserMessage(header, content string) string {
	greenBold := "\x1b[32;1m"
	reset := "\x1b[0m"
	bar := greenBold + "┃" + reset

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s %s\n", bar, header))
	for _, line := range strings.Split(content, "\n") {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, line))
	}
	result.WriteString("\n")
	return result.String()
}

// renderMarkdown runs the go-term-markdown pipeline with autolink disabled
// so URLs stay plain text and the terminal emulator handles clickability.
func renderMarkdown(content string, width int) string {
	if width <= 4 {
		return content
	}
	content = preprocessLinks(content)

	customExt := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(customExt)
	r := markdown.NewRenderer(width-4, 0)
	doc := p.Parse([]byte(content))
	rendered := gomarkdown.Render(doc, r)

	out := fixInlineCode(string(rendered))
	out = fixMarkdownLinks(out)
	return strings.TrimRight(out, "\n")
}

func preprocessLinks(content string) string {
	// Strip markdown link syntax [text](url) → just url.
	return mdLinkRegex.ReplaceAllString(content, "$2")
}

func fixInlineCode(s string) string {
	// Replace: \x1b[44;3m...text...\x1b[0m (Blue BG + Italic)
	// With:    \x1b[31m...text...\x1b[0m (Red text)
	return inlineCodeRegex.ReplaceAllString(s, "\x1b[31m$1\x1b[0m")
}

func fixMarkdownLinks(s string) string {
	redColor := "\x1b[31m"
	reset := "\x1b[0m"

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		// Skip code blocks (they carry a ┃ prefix from the renderer).
		if !strings.Contains(line, "┃") {
			lines[i] = urlRegex.ReplaceAllString(line, redColor+"$1"+reset)
		}
	}
	return strings.Join(lines, "\n")
}

// wrapPlain wraps text to maxWidth on word boundaries, measuring display
// cells so wide runes do not overflow the viewport.
func wrapPlain(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}

	var result strings.Builder
	for i, raw := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		result.WriteString(wrapLine(raw, maxWidth))
	}
	return result.String()
}

func wrapLine(line string, maxWidth int) string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return line
	}

	var result strings.Builder
	var current strings.Builder
	currentWidth := 0

	for _, word := range words {
		wordWidth := runewidth.StringWidth(word)
		if currentWidth > 0 && currentWidth+1+wordWidth > maxWidth {
			result.WriteString(current.String())
			result.WriteString("\n")
			current.Reset()
			currentWidth = 0
		}
		if currentWidth > 0 {
			current.WriteString(" ")
			currentWidth++
		}
		current.WriteString(word)
		currentWidth += wordWidth
	}
	result.WriteString(current.String())
	return result.String()
}

func collapsePreview(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > collapsePreviewLines {
		lines = lines[:collapsePreviewLines]
	}
	return strings.Join(lines, "\n")
}

func formatUsage(u *chat.TokenUsage) string {
	out := fmt.Sprintf("tokens: %d prompt + %d completion = %d", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	if u.TokensPerSecond > 0 {
		out += fmt.Sprintf(" (%.1f tok/s)", u.TokensPerSecond)
	}
	return out
}

func metadataBadge(meta chat.Metadata) string {
	switch meta.Kind {
	case chat.MetadataFlowAttachment:
		badge := "⚙ flow"
		if meta.Flow != nil {
			badge = fmt.Sprintf("⚙ flow: %s", meta.Flow.Name)
		}
		if len(meta.Files) > 0 {
			badge += fmt.Sprintf(" 📎 %d file(s)", len(meta.Files))
		}
		return badge
	case chat.MetadataFiles:
		switch len(meta.Files) {
		case 1:
			return fmt.Sprintf("📎 %s", meta.Files[0].Name)
		default:
			return fmt.Sprintf("📎 %d files", len(meta.Files))
		}
	case chat.MetadataAgentCard:
		if meta.AgentCard != nil {
			return fmt.Sprintf("@%s", meta.AgentCard.Name)
		}
	}
	return ""
}

func toolStatusGlyph(status chat.ToolStatus) (string, lipgloss.Style) {
	switch status {
	case chat.ToolPendingPermission:
		return "🔒", WarningStyle
	case chat.ToolExecuting:
		return "⚙", AssistantStyle
	case chat.ToolCompleted:
		return "✓", UserStyle
	case chat.ToolError:
		return "✗", ErrorStyle
	}
	return "•", DimStyle
}
