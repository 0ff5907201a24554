package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/opsmith-ai/opsmith/pkg/chat"
)

// Record is one persisted message as the conversation store delivers it.
// Nested structures (content parts, tool output, interrupt payload) arrive
// JSON-encoded inside string fields, and usage counters arrive as numeric
// strings.
type Record struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	ProviderID   string    `json:"provider_id"`
	Role         string    `json:"role"`
	Kind         string    `json:"type_"`
	Node         string    `json:"node"`
	Status       string    `json:"status"`
	Content      string    `json:"content"`
	ToolOutput   string    `json:"tool_output"`
	Data         string    `json:"data"`
	NextNode     string    `json:"next_node"`
	NextType     string    `json:"next_type"`
	StreamType   string    `json:"stream_type"`
	InputTokens  string    `json:"input_tokens"`
	OutputTokens string    `json:"output_tokens"`
	TotalTokens  string    `json:"total_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// Decode converts a persisted record into the transcript message shape the
// reconcilers produce.
func (r Record) Decode() (chat.Message, error) {
	msg := chat.Message{
		ID:         r.ID,
		ThreadID:   r.ThreadID,
		ProviderID: r.ProviderID,
		Role:       chat.Role(r.Role),
		Kind:       chat.Kind(r.Kind),
		Node:       r.Node,
		Status:     chat.Status(r.Status),
		NextNode:   r.NextNode,
		NextType:   r.NextType,
		StreamKind: chat.StreamKind(r.StreamType),
		Timestamp:  r.CreatedAt,
	}

	if r.Content != "" {
		if err := json.Unmarshal([]byte(r.Content), &msg.Parts); err != nil {
			return chat.Message{}, fmt.Errorf("record %s: invalid content: %w", r.ID, err)
		}
	}
	if r.Data != "" {
		payload := &chat.InterruptPayload{}
		if err := json.Unmarshal([]byte(r.Data), payload); err != nil {
			return chat.Message{}, fmt.Errorf("record %s: invalid interrupt payload: %w", r.ID, err)
		}
		msg.Interrupt = payload
	}
	if r.ToolOutput != "" {
		if !json.Valid([]byte(r.ToolOutput)) {
			return chat.Message{}, fmt.Errorf("record %s: invalid tool output", r.ID)
		}
		msg.ToolOutput = json.RawMessage(r.ToolOutput)
	}

	if usage := decodeUsage(r); usage != nil {
		msg.Usage = usage
	}

	return msg, nil
}

// decodeUsage parses the numeric-string token counters. Absent or malformed
// counters yield no usage rather than an error.
func decodeUsage(r Record) *chat.Usage {
	if r.InputTokens == "" && r.OutputTokens == "" && r.TotalTokens == "" {
		return nil
	}
	in, _ := strconv.Atoi(r.InputTokens)
	out, _ := strconv.Atoi(r.OutputTokens)
	total, _ := strconv.Atoi(r.TotalTokens)
	return &chat.Usage{InputTokens: in, OutputTokens: out, TotalTokens: total}
}
