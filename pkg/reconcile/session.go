package reconcile

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/opsmith-ai/opsmith/pkg/chat"
	"github.com/opsmith-ai/opsmith/pkg/logger"
)

// Session owns the mutable reconciliation state for one open conversation:
// the transcript, the per-node open-placeholder index, and the delta dedup
// ledger. All state is reset when the conversation is reopened or the
// transport reconnects. Sessions are not safe for concurrent use; frames
// are reconciled synchronously in arrival order.
type Session struct {
	id         string
	providerID string
	threadID   string

	transcript chat.Transcript

	// nodeIndex maps a node to the position of its open streaming
	// placeholder. It is the sole authority for "is this node streaming";
	// at most one open placeholder exists per node.
	nodeIndex map[string]int

	// lastFragment records the most recent fragment applied per dedup key,
	// discarding an exact repeat of the immediately preceding chunk. A
	// duplicate of an earlier fragment is not caught.
	lastFragment map[string]string

	interrupts *InterruptTracker
}

// NewSession creates an empty session scoped to one conversation.
func NewSession(providerID, threadID string) *Session {
	return &Session{
		id:           uuid.NewString(),
		providerID:   providerID,
		threadID:     threadID,
		transcript:   make(chat.Transcript, 0),
		nodeIndex:    make(map[string]int),
		lastFragment: make(map[string]string),
		interrupts:   NewInterruptTracker(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// ThreadID returns the conversation this session reconciles.
func (s *Session) ThreadID() string {
	return s.threadID
}

// Interrupts exposes the interrupt tracker for this session.
func (s *Session) Interrupts() *InterruptTracker {
	return s.interrupts
}

// Messages returns a snapshot of the reconciled transcript.
func (s *Session) Messages() chat.Transcript {
	return chat.Clone(s.transcript)
}

// Len returns the current transcript length.
func (s *Session) Len() int {
	return len(s.transcript)
}

// OpenPlaceholders returns a snapshot of the node-index map.
func (s *Session) OpenPlaceholders() map[string]int {
	out := make(map[string]int, len(s.nodeIndex))
	for node, i := range s.nodeIndex {
		out[node] = i
	}
	return out
}

// Reset clears all session state. Called on conversation open and on
// transport reconnect so stale indices never point into a replaced
// transcript.
func (s *Session) Reset() {
	s.transcript = s.transcript[:0]
	s.ResetStreamState()
	s.interrupts.Clear()
	logger.Debug("session %s reset (thread=%s)", s.id, s.threadID)
}

// ResetStreamState clears the node-index map and the dedup ledger without
// touching the transcript. Called when a replacement stream opens: the new
// stream's first fragment may legitimately repeat the old stream's last one,
// and a placeholder the old stream left open must not capture the new
// stream's deltas.
func (s *Session) ResetStreamState() {
	s.nodeIndex = make(map[string]int)
	s.lastFragment = make(map[string]string)
}

func (s *Session) dedupKey(node string) string {
	return fmt.Sprintf("%s|%s|%s", node, s.providerID, s.threadID)
}

// ApplyDelta applies one streaming text fragment. Fragments without a node
// are rejected; an exact repeat of the previous fragment for the same
// (node, provider, thread) is dropped. The fragment either extends the
// node's open placeholder or opens a fresh one.
func (s *Session) ApplyDelta(data chat.Message) {
	if data.Node == "" {
		return
	}

	fragment := data.Text()
	key := s.dedupKey(data.Node)
	if prev, ok := s.lastFragment[key]; ok && prev == fragment {
		logger.Debug("dropping repeated fragment for node %s", data.Node)
		return
	}
	s.lastFragment[key] = fragment

	if i, ok := s.nodeIndex[data.Node]; ok {
		if i < len(s.transcript) && s.transcript[i].Node == data.Node && s.transcript[i].IsStreaming() {
			s.transcript[i] = s.transcript[i].AppendFragment(fragment)
			return
		}
		// Stale entry: the placeholder was finalized or displaced by a
		// concurrent update.
		delete(s.nodeIndex, data.Node)
	}

	s.transcript = append(s.transcript, chat.NewStreamingPlaceholder(data.Node, fragment))
	s.nodeIndex[data.Node] = len(s.transcript) - 1
}

// ApplyUpdate applies a non-fragment event: finalize, replace, tool result,
// interrupt, or plain insert. Every update, including transcript no-ops, is
// observed by the interrupt tracker afterwards.
func (s *Session) ApplyUpdate(data chat.Message) {
	defer s.interrupts.Observe(data)

	if i, ok := s.nodeIndex[data.Node]; ok && i < len(s.transcript) && s.transcript[i].Node == data.Node {
		s.finalizePlaceholder(i, data)
		return
	}

	if data.Node != "" && data.IsTool() && data.Status.IsTerminal() {
		if j := chat.FindOpenTool(s.transcript, data.Node); j >= 0 {
			s.transcript[j] = data
		}
		// No open tool call to close: the finalize has nothing to attach to.
		return
	}

	if !data.IsDisplayable() {
		return
	}
	if chat.IndexByID(s.transcript, data.ID) >= 0 {
		return
	}
	s.transcript = append(s.transcript, data)
}

// finalizePlaceholder resolves an update against the open placeholder at
// position i. Updates-channel and custom envelopes, terminal statuses, and
// the end-of-turn sentinel all remove the placeholder; a displayable update
// otherwise replaces it in place.
func (s *Session) finalizePlaceholder(i int, data chat.Message) {
	remove := data.StreamKind == chat.StreamUpdates ||
		data.StreamKind == chat.StreamCustom ||
		data.Status.IsTerminal() ||
		data.NextNode == chat.EndNode

	switch {
	case remove:
		s.removeAt(i)
		delete(s.nodeIndex, data.Node)
		if data.IsDisplayable() {
			s.transcript = append(s.transcript, data)
		}
	case data.IsDisplayable():
		s.transcript[i] = data
		delete(s.nodeIndex, data.Node)
	}
}

// removeAt splices position i out of the transcript and renumbers every
// node-index entry past it.
func (s *Session) removeAt(i int) {
	s.transcript = append(s.transcript[:i], s.transcript[i+1:]...)
	for node, pos := range s.nodeIndex {
		if pos > i {
			s.nodeIndex[node] = pos - 1
		}
	}
}

// AppendLocal appends a locally-generated message (optimistic echo, system
// notice) without touching streaming state.
func (s *Session) AppendLocal(msg chat.Message) {
	s.transcript = append(s.transcript, msg)
}

// SetHistory replaces the transcript with normalized history and seeds the
// interrupt tracker from its chronologically-last message. Streaming state
// is reset: history never carries open placeholders.
func (s *Session) SetHistory(msgs chat.Transcript) {
	s.Reset()
	s.transcript = append(s.transcript, msgs...)
	if last, ok := chat.Last(s.transcript); ok {
		s.interrupts.SeedFromHistory(last)
	}
}

// PrependHistory inserts an older, already-normalized page before the
// current transcript. Messages whose id is already present are skipped, so
// re-fetching a page cannot duplicate it. The node-index map concerns only
// the live streaming tail, so every entry shifts by the inserted length.
func (s *Session) PrependHistory(page chat.Transcript) {
	fresh := make(chat.Transcript, 0, len(page))
	for _, msg := range page {
		if chat.IndexByID(s.transcript, msg.ID) >= 0 {
			continue
		}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return
	}

	merged := make(chat.Transcript, 0, len(fresh)+len(s.transcript))
	merged = append(merged, fresh...)
	merged = append(merged, s.transcript...)
	s.transcript = merged
	for node, pos := range s.nodeIndex {
		s.nodeIndex[node] = pos + len(fresh)
	}
}
