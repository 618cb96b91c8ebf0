package chat

import (
	"encoding/json"
	"time"
)

// MetadataKind tags the known metadata variants.
type MetadataKind string

const (
	MetadataFlowAttachment MetadataKind = "flow_attachment"
	MetadataAgentCard      MetadataKind = "agent_card"
	MetadataFiles          MetadataKind = "files"
	MetadataRaw            MetadataKind = "raw"
)

// Flow is a workflow definition attached to a message.
type Flow struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []FlowStep        `json:"steps,omitempty" yaml:"steps,omitempty"`
	Variables   map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// FlowStep is one step of a workflow definition.
type FlowStep struct {
	Name   string `json:"name" yaml:"name"`
	Prompt string `json:"prompt" yaml:"prompt"`
	Tool   string `json:"tool,omitempty" yaml:"tool,omitempty"`
}

// AttachedFile is a file staged on a message, encoded for transport.
type AttachedFile struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"` // base64
}

// Metadata is the decoded form of a message's metadata payload, indicated
// by Kind. The flow variant may also carry Files when both were staged on
// one turn. Unrecognized payloads decode to MetadataRaw instead of failing;
// consumers must not assume a shape beyond the tag.
type Metadata struct {
	Kind      MetadataKind
	Flow      *Flow
	FlowTime  time.Time
	AgentCard *AgentCardMeta
	Files     []AttachedFile
	Raw       string
}

// AgentCardMeta is the agent-card metadata variant.
type AgentCardMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type flowAttachmentPayload struct {
	Type      string         `json:"type"`
	Flow      Flow           `json:"flow"`
	Files     []AttachedFile `json:"files,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type agentCardPayload struct {
	Type string        `json:"type"`
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Desc string        `json:"description,omitempty"`
	Card AgentCardMeta `json:"card,omitempty"`
}

type filesPayload struct {
	Type  string         `json:"type"`
	Files []AttachedFile `json:"files"`
}

// EncodeFlowAttachment builds the tagged flow_attachment payload. Files
// staged alongside the flow ride inside the same payload so neither
// attachment displaces the other.
func EncodeFlowAttachment(flow Flow, files []AttachedFile, at time.Time) (string, error) {
	data, err := json.Marshal(flowAttachmentPayload{
		Type:      string(MetadataFlowAttachment),
		Flow:      flow,
		Files:     files,
		Timestamp: at,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeFilesMetadata builds the tagged files payload.
func EncodeFilesMetadata(files []AttachedFile) (string, error) {
	data, err := json.Marshal(filesPayload{Type: string(MetadataFiles), Files: files})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMetadata decodes a metadata payload once, at the store boundary,
// into its tagged variant. It never returns an error: anything it does not
// recognize comes back as the raw variant so old or foreign payloads keep
// rendering.
func DecodeMetadata(payload string) Metadata {
	if payload == "" {
		return Metadata{Kind: MetadataRaw}
	}

	var probe struct {
		Type  string          `json:"type"`
		Files json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return Metadata{Kind: MetadataRaw, Raw: payload}
	}

	switch probe.Type {
	case string(MetadataFlowAttachment):
		var p flowAttachmentPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return Metadata{Kind: MetadataRaw, Raw: payload}
		}
		return Metadata{Kind: MetadataFlowAttachment, Flow: &p.Flow, Files: p.Files, FlowTime: p.Timestamp}

	case string(MetadataAgentCard):
		var p agentCardPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return Metadata{Kind: MetadataRaw, Raw: payload}
		}
		card := p.Card
		if card.ID == "" {
			card = AgentCardMeta{ID: p.ID, Name: p.Name, Description: p.Desc}
		}
		return Metadata{Kind: MetadataAgentCard, AgentCard: &card}

	case string(MetadataFiles):
		var p filesPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return Metadata{Kind: MetadataRaw, Raw: payload}
		}
		return Metadata{Kind: MetadataFiles, Files: p.Files}
	}

	// Legacy file lists carried no type tag, just a files array.
	if len(probe.Files) > 0 {
		var p filesPayload
		if err := json.Unmarshal([]byte(payload), &p); err == nil && len(p.Files) > 0 {
			return Metadata{Kind: MetadataFiles, Files: p.Files}
		}
	}

	return Metadata{Kind: MetadataRaw, Raw: payload}
}
