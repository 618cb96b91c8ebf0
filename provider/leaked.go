package provider

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Models served over OpenAI-compatible APIs sometimes print tool calls into
// the text stream instead of using the function-calling protocol. These
// regexes recover what they leak.
var (
	leakedJSONArrayRegex = regexp.MustCompile(`\[\s*\{\s*"name"\s*:\s*"[^"]+"\s*,\s*"(?:arguments|param|parameters|input)"\s*:\s*\{[^}]*\}\s*\}\s*\]`)
	leakedJSONObjRegex   = regexp.MustCompile(`\{\s*"name"\s*:\s*"[^"]+"\s*,\s*"(?:arguments|param|parameters|input)"\s*:\s*\{[^}]*\}\s*\}`)
	leakedXMLRegex       = regexp.MustCompile(`<(?:tool_call|function_call)>\s*<name>([^<]+)</name>\s*<arguments>([^<]*)</arguments>\s*</(?:tool_call|function_call)>`)
	leakedQwenXMLRegex   = regexp.MustCompile(`(?s)<function=([^>]+)>(.*?)</function>(?:</tool_call>)?`)
	qwenParameterRegex   = regexp.MustCompile(`(?s)<parameter=([^>]+)>(.*?)</parameter>`)
)

type leakedCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Param     json.RawMessage `json:"param"`
	Params    json.RawMessage `json:"parameters"`
	Input     json.RawMessage `json:"input"`
}

func (c leakedCall) arguments() map[string]any {
	for _, raw := range []json.RawMessage{c.Arguments, c.Param, c.Params, c.Input} {
		if len(raw) == 0 {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal(raw, &args); err == nil {
			return args
		}
	}
	return map[string]any{}
}

// ParseLeakedJSONToolCalls extracts tool calls a model printed as JSON text.
func ParseLeakedJSONToolCalls(content string) []ToolCall {
	var toolCalls []ToolCall

	for _, match := range leakedJSONArrayRegex.FindAllString(content, -1) {
		var calls []leakedCall
		if err := json.Unmarshal([]byte(match), &calls); err != nil {
			continue
		}
		for _, c := range calls {
			if c.Name == "" {
				continue
			}
			toolCalls = append(toolCalls, ToolCall{Name: c.Name, Arguments: c.arguments()})
		}
	}

	// Only try standalone objects when no array matched; arrays contain
	// objects and would double-count
	if len(toolCalls) == 0 {
		for _, match := range leakedJSONObjRegex.FindAllString(content, -1) {
			var c leakedCall
			if err := json.Unmarshal([]byte(match), &c); err != nil || c.Name == "" {
				continue
			}
			toolCalls = append(toolCalls, ToolCall{Name: c.Name, Arguments: c.arguments()})
		}
	}

	return toolCalls
}

// ParseLeakedXMLToolCalls extracts tool calls a model printed as XML-style
// tags, covering both <tool_call><name>... and qwen's <function=...> style.
func ParseLeakedXMLToolCalls(content string) []ToolCall {
	var toolCalls []ToolCall

	for _, match := range leakedXMLRegex.FindAllStringSubmatch(content, -1) {
		name := strings.TrimSpace(match[1])
		if name == "" {
			continue
		}
		toolCalls = append(toolCalls, ToolCall{
			Name:      name,
			Arguments: ParseToolArguments(strings.TrimSpace(match[2])),
		})
	}

	for _, match := range leakedQwenXMLRegex.FindAllStringSubmatch(content, -1) {
		name := strings.TrimSpace(match[1])
		if name == "" {
			continue
		}
		args := map[string]any{}
		for _, param := range qwenParameterRegex.FindAllStringSubmatch(match[2], -1) {
			args[strings.TrimSpace(param[1])] = strings.TrimSpace(param[2])
		}
		toolCalls = append(toolCalls, ToolCall{Name: name, Arguments: args})
	}

	return toolCalls
}

// CleanLeakedToolCalls strips leaked tool call syntax from message content
// so it never reaches the display.
func CleanLeakedToolCalls(content string) string {
	content = leakedJSONArrayRegex.ReplaceAllString(content, "")
	content = leakedJSONObjRegex.ReplaceAllString(content, "")
	content = leakedXMLRegex.ReplaceAllString(content, "")
	content = leakedQwenXMLRegex.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}
