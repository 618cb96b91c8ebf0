package ui

import (
	"fmt"
	"strings"
	"unicode"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"parley/bridge"
)

const mentionPopupLimit = 5

// mentionState is the @-mention autocomplete popup over the agent list.
type mentionState struct {
	open     bool
	query    string
	matches  []bridge.AgentCard
	selected int
}

// refreshMention re-derives the popup from the compose box content. The
// popup tracks a trailing @token only; mentions mid-sentence stay plain
// text.
func (a *App) refreshMention() {
	query, ok := currentMentionQuery(a.input.Value())
	if !ok || len(a.agents) == 0 {
		a.mention = mentionState{}
		return
	}

	matches := filterAgents(a.agents, query)
	if len(matches) == 0 {
		a.mention = mentionState{}
		return
	}

	selected := a.mention.selected
	if selected >= len(matches) {
		selected = len(matches) - 1
	}
	a.mention = mentionState{
		open:     true,
		query:    query,
		matches:  matches,
		selected: selected,
	}
}

// acceptMention stages the selected agent on the composer and removes the
// @token from the compose box.
func (a App) acceptMention() (tea.Model, tea.Cmd) {
	if !a.mention.open || a.mention.selected >= len(a.mention.matches) {
		a.mention = mentionState{}
		return a, nil
	}
	agent := a.mention.matches[a.mention.selected]

	a.composer.StageMention(agent.ID)
	a.input.SetValue(stripMentionToken(a.input.Value()))
	a.notice = fmt.Sprintf("@%s will receive this message", agent.Name)
	a.mention = mentionState{}
	return a, nil
}

func (a App) mentionPopup() string {
	if !a.mention.open {
		return ""
	}

	limit := len(a.mention.matches)
	if limit > mentionPopupLimit {
		limit = mentionPopupLimit
	}

	var lines []string
	for i := 0; i < limit; i++ {
		agent := a.mention.matches[i]
		line := fmt.Sprintf("@%s", agent.Name)
		if agent.Description != "" {
			line += DimStyle.Render("  " + agent.Description)
		}
		if i == a.mention.selected {
			line = SelectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// filterAgents ranks agents against the query with fuzzy matching over
// their names. An empty query keeps the full list in order.
func filterAgents(agents []bridge.AgentCard, query string) []bridge.AgentCard {
	if query == "" {
		return agents
	}

	targets := make([]string, len(agents))
	for i, agent := range agents {
		targets[i] = agent.Name
	}

	matches := fuzzy.Find(query, targets)
	filtered := make([]bridge.AgentCard, len(matches))
	for i, match := range matches {
		filtered[i] = agents[match.Index]
	}
	return filtered
}

// currentMentionQuery extracts the token of a trailing @mention, e.g.
// "ask @cod" yields ("cod", true). Reports false when the text does not
// end in an @token.
func currentMentionQuery(text string) (string, bool) {
	at := strings.LastIndex(text, "@")
	if at < 0 {
		return "", false
	}
	// The @ must start a word.
	if at > 0 {
		prev := rune(text[at-1])
		if !unicode.IsSpace(prev) {
			return "", false
		}
	}

	token := text[at+1:]
	if strings.ContainsFunc(token, unicode.IsSpace) {
		return "", false
	}
	return token, true
}

// stripMentionToken removes the trailing @token the popup was tracking.
func stripMentionToken(text string) string {
	at := strings.LastIndex(text, "@")
	if at < 0 {
		return text
	}
	return strings.TrimRight(text[:at], " ")
}
