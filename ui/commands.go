package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"parley/chat"
	"parley/storage"
)

// handleSlashCommand intercepts compose-box commands before submission:
//
//	/flow <id>      stage a workflow definition from the flows directory
//	/file <path>    attach a file to the next message
//	/flows          list available workflow definitions
//	/prompt <text>  insert prompt text ahead of the next message
//	/search <text>  search stored chats for matching messages
//
// Reports false for ordinary message text.
func (a *App) handleSlashCommand(text string) (bool, tea.Cmd) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return false, nil
	}

	verb, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)

	switch verb {
	case "/flow":
		if a.flows == nil || arg == "" {
			a.notice = "Usage: /flow <id>"
			return true, nil
		}
		flow, err := a.flows.Load(arg)
		if err != nil {
			a.notice = fmt.Sprintf("No flow %q", arg)
			return true, nil
		}
		a.composer.StageFlow(flow)
		a.notice = fmt.Sprintf("Flow %s staged for the next message", flow.Name)
		a.input.Reset()
		return true, nil

	case "/flows":
		if a.flows == nil {
			a.notice = "No flows directory"
			return true, nil
		}
		flows, err := a.flows.List()
		if err != nil || len(flows) == 0 {
			a.notice = "No flows defined"
			return true, nil
		}
		names := make([]string, len(flows))
		for i, flow := range flows {
			names[i] = flow.ID
		}
		a.notice = "Flows: " + strings.Join(names, ", ")
		a.input.Reset()
		return true, nil

	case "/prompt":
		if arg == "" {
			a.notice = "Usage: /prompt <text>"
			return true, nil
		}
		a.composer.StagePrompt(arg)
		a.notice = "Prompt staged for the next message"
		a.input.Reset()
		return true, nil

	case "/search":
		if arg == "" {
			a.notice = "Usage: /search <text>"
			return true, nil
		}
		if a.chats == nil {
			a.notice = "No chat storage"
			return true, nil
		}
		matches, err := a.chats.SearchAll(arg)
		if err != nil {
			a.notice = fmt.Sprintf("Search failed: %v", err)
			return true, nil
		}
		a.notice = searchSummary(arg, matches)
		a.input.Reset()
		return true, nil

	case "/file":
		if arg == "" {
			a.notice = "Usage: /file <path>"
			return true, nil
		}
		a.composer.StageFile(chat.StagedFile{
			Name: filepath.Base(arg),
			Path: arg,
		})
		a.notice = fmt.Sprintf("Attached %s", filepath.Base(arg))
		a.input.Reset()
		return true, nil
	}

	a.notice = fmt.Sprintf("Unknown command %s", verb)
	return true, nil
}

// stagedSummary describes pending compose attachments for the header.
func (a App) stagedSummary() string {
	mentions, files, hasFlow, prompt := a.composer.Staged()

	var parts []string
	for _, mention := range mentions {
		parts = append(parts, "@"+mention)
	}
	if files > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s)", files))
	}
	if hasFlow {
		parts = append(parts, "flow")
	}
	if prompt != "" {
		parts = append(parts, "prompt")
	}
	if len(parts) == 0 {
		return ""
	}
	return "staged: " + strings.Join(parts, " ")
}

// searchSummary compresses cross-chat search hits into the one-line notice:
// the hit count plus the distinct chat titles they came from.
func searchSummary(query string, matches []storage.MessageMatch) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No matches for %q", query)
	}

	var titles []string
	seen := make(map[string]bool)
	for _, match := range matches {
		if seen[match.ChatID] {
			continue
		}
		seen[match.ChatID] = true
		titles = append(titles, match.ChatTitle)
	}
	return fmt.Sprintf("%d match(es) for %q in: %s", len(matches), query, strings.Join(titles, ", "))
}
