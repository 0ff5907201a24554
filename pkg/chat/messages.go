package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies the semantic speaker of a message.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// Kind drives rendering and reconciliation branch selection. It is carried
// on the wire as `type_`.
type Kind string

const (
	KindHuman     Kind = "human"
	KindAgent     Kind = "agent"
	KindTool      Kind = "tool"
	KindInterrupt Kind = "interrupt"
	KindSystem    Kind = "system"
)

// Status is the lifecycle state of a message. StatusStreaming is the only
// value eligible for placeholder mutation; other non-terminal values
// (e.g. "in_progress") may appear on tool messages.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// IsTerminal reports whether the status marks a finished message.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCompleted
}

// StreamKind selects delta vs. update handling for an inbound envelope.
// Carried on the wire as `stream_type`.
type StreamKind string

const (
	StreamMessages StreamKind = "messages"
	StreamUpdates  StreamKind = "updates"
	StreamCustom   StreamKind = "custom"
)

// EndNode is the sentinel NextNode value signalling end-of-turn.
const EndNode = "__end__"

// NextTypeHuman on NextType signals the protocol expects a user reply next.
const NextTypeHuman = "human"

// Interrupt payload subtypes.
const (
	InterruptConnect     = "connect"
	InterruptInputOption = "input_option"
	InterruptInputField  = "input_field"
)

// ContentPart is one ordered piece of message content.
type ContentPart struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

// InterruptPayload is present only on interrupt-kind messages. Type
// discriminates the nested presentation data.
type InterruptPayload struct {
	Type string        `json:"type"`
	Data InterruptData `json:"data"`
}

// InterruptData carries subtype-specific presentation fields. Content is the
// exact text echoed back verbatim when the user answers an input_option.
type InterruptData struct {
	Content string          `json:"content,omitempty"`
	Options []string        `json:"options,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// Usage holds per-message token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Message is one transcript entry. ID is absent for freshly-created
// streaming placeholders until the producer finalizes them.
type Message struct {
	ID         string            `json:"id,omitempty"`
	ThreadID   string            `json:"thread_id,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	Role       Role              `json:"role,omitempty"`
	Kind       Kind              `json:"type_,omitempty"`
	Node       string            `json:"node,omitempty"`
	Status     Status            `json:"status,omitempty"`
	Parts      []ContentPart     `json:"content,omitempty"`
	NextNode   string            `json:"next_node,omitempty"`
	NextType   string            `json:"next_type,omitempty"`
	StreamKind StreamKind        `json:"stream_type,omitempty"`
	Interrupt  *InterruptPayload `json:"data,omitempty"`
	ToolOutput json.RawMessage   `json:"tool_output,omitempty"`
	Usage      *Usage            `json:"usage,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
}

// NewHumanMessage creates the optimistic local echo for user input.
func NewHumanMessage(threadID, providerID, content string) Message {
	return Message{
		ThreadID:   threadID,
		ProviderID: providerID,
		Role:       RoleHuman,
		Kind:       KindHuman,
		Status:     StatusCompleted,
		Parts:      []ContentPart{{Speaker: string(RoleHuman), Text: strings.TrimSpace(content)}},
		Timestamp:  time.Now(),
	}
}

// NewSystemMessage creates a locally-generated system notice.
func NewSystemMessage(content string) Message {
	return Message{
		Role:      RoleSystem,
		Kind:      KindSystem,
		Status:    StatusCompleted,
		Parts:     []ContentPart{{Speaker: string(RoleSystem), Text: content}},
		Timestamp: time.Now(),
	}
}

// NewStreamingPlaceholder creates the ephemeral message that accumulates
// delta fragments for a node until the producer finalizes it.
func NewStreamingPlaceholder(node, fragment string) Message {
	return Message{
		ID:        fmt.Sprintf("streaming-%s-%d", node, time.Now().UnixMilli()),
		Role:      RoleAI,
		Kind:      KindAgent,
		Node:      node,
		Status:    StatusStreaming,
		Parts:     []ContentPart{{Speaker: string(RoleAI), Text: fragment}},
		Timestamp: time.Now(),
	}
}

// Text returns the concatenated part text.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// IsDisplayable reports whether the message carries anything worth keeping:
// at least one non-empty part, or an interrupt (interrupts render from
// their payload, not their parts).
func (m Message) IsDisplayable() bool {
	if m.Kind == KindInterrupt {
		return true
	}
	for _, p := range m.Parts {
		if p.Text != "" {
			return true
		}
	}
	return false
}

// IsStreaming reports whether the message is an open placeholder.
func (m Message) IsStreaming() bool {
	return m.Status == StatusStreaming
}

// SignalsHumanNext reports whether the producer expects a user reply next.
func (m Message) SignalsHumanNext() bool {
	return m.NextType == NextTypeHuman
}

// AppendFragment returns the message with the fragment appended to its sole
// content part.
func (m Message) AppendFragment(fragment string) Message {
	if len(m.Parts) == 0 {
		m.Parts = []ContentPart{{Speaker: string(RoleAI), Text: fragment}}
		return m
	}
	parts := make([]ContentPart, len(m.Parts))
	copy(parts, m.Parts)
	parts[len(parts)-1].Text += fragment
	m.Parts = parts
	return m
}

func (m Message) IsHuman() bool     { return m.Kind == KindHuman }
func (m Message) IsAgent() bool     { return m.Kind == KindAgent }
func (m Message) IsTool() bool      { return m.Kind == KindTool }
func (m Message) IsInterrupt() bool { return m.Kind == KindInterrupt }
func (m Message) IsSystem() bool    { return m.Kind == KindSystem }
