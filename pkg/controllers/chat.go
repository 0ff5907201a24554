package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/opsmith-ai/opsmith/pkg/chat"
	"github.com/opsmith-ai/opsmith/pkg/history"
	"github.com/opsmith-ai/opsmith/pkg/logger"
	"github.com/opsmith-ai/opsmith/pkg/reconcile"
	"github.com/opsmith-ai/opsmith/pkg/stream"
)

// Store is the slice of the conversation store the controller needs.
type Store interface {
	HistoryPage(ctx context.Context, providerID, threadID string, page int) ([]history.Record, error)
}

// ChatController drives one conversation: it loads history, submits user
// input, owns the push connection, and reconciles inbound frames into the
// session transcript.
type ChatController struct {
	opener     stream.Opener
	store      Store
	providerID string

	mu       sync.Mutex
	threadID string
	session  *reconcile.Session
	conn     stream.Handle
	page     int
	hasMore  bool
	turn     *turnGate

	onChange  func()
	onCredits func(credits int)
}

// NewChatController creates a controller for one provider.
func NewChatController(opener stream.Opener, store Store, providerID string) *ChatController {
	return &ChatController{
		opener:     opener,
		store:      store,
		providerID: providerID,
	}
}

// SetOnChange registers a callback fired after every transcript mutation.
func (cc *ChatController) SetOnChange(fn func()) {
	cc.onChange = fn
}

// SetOnCredits registers a callback fired when the backend reports the
// remaining credit balance.
func (cc *ChatController) SetOnCredits(fn func(credits int)) {
	cc.onCredits = fn
}

// OpenConversation switches to a thread: any live stream is closed, session
// state is rebuilt from the first history page, and interrupt state is
// seeded from the last persisted message. A failed history load falls back
// to an empty transcript.
func (cc *ChatController) OpenConversation(ctx context.Context, threadID string) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.closeStreamLocked()
	cc.threadID = threadID
	cc.session = reconcile.NewSession(cc.providerID, threadID)
	cc.page = 1
	cc.hasMore = false

	records, err := cc.store.HistoryPage(ctx, cc.providerID, threadID, 1)
	if err != nil {
		logger.Error("history load failed for thread %s: %v", threadID, err)
		return nil
	}

	cc.session.SetHistory(history.Normalize(records))
	cc.hasMore = history.HasMore(records)
	return nil
}

// LoadOlderPage prepends the next older history page, preserving
// chronological order. Returns false when no page was available.
func (cc *ChatController) LoadOlderPage(ctx context.Context) (bool, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.session == nil || !cc.hasMore {
		return false, nil
	}

	records, err := cc.store.HistoryPage(ctx, cc.providerID, cc.threadID, cc.page+1)
	if err != nil {
		return false, fmt.Errorf("failed to load older page: %w", err)
	}

	cc.page++
	cc.hasMore = history.HasMore(records)
	cc.session.PrependHistory(history.Normalize(records))
	return true, nil
}

// ReplyOption is supplied when the user answers through an interactive
// interrupt control rather than the plain input box.
type ReplyOption struct {
	Type    string
	Content string
}

// humanResponse is the JSON envelope sent when replying to an interrupt.
type humanResponse struct {
	ModifiedText  string `json:"modifiedText"`
	Type          string `json:"type"`
	HumanResponse string `json:"humanResponse"`
}

// Submit sends user input: the transcript gets an optimistic local echo of
// the raw text, the outbound payload is serialized per interrupt context,
// and a fresh stream replaces any still-open one for this conversation.
func (cc *ChatController) Submit(ctx context.Context, userText string, reply *ReplyOption) error {
	text := strings.TrimSpace(userText)
	if text == "" {
		return fmt.Errorf("message content cannot be empty")
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.session == nil {
		return fmt.Errorf("no open conversation")
	}

	payload, isHumanResponse, err := cc.buildPayload(text, reply)
	if err != nil {
		return err
	}

	// The echo always shows the user's words, never the JSON envelope.
	cc.session.AppendLocal(chat.NewHumanMessage(cc.threadID, cc.providerID, text))
	cc.notify()

	turn := newTurnGate()
	conn, err := cc.opener.Open(ctx, stream.OpenRequest{
		ThreadID:        cc.threadID,
		ProviderID:      cc.providerID,
		Message:         payload,
		IsHumanResponse: isHumanResponse,
	}, cc.frameHandler(turn))
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if cc.turn != nil {
		cc.turn.close()
	}
	cc.conn = conn
	cc.turn = turn

	// The replacement stream starts with a clean slate; without this, the
	// previous stream's dedup ledger would swallow a new first fragment equal
	// to the old last one, and a placeholder the previous stream left open
	// would absorb the new stream's deltas.
	cc.session.ResetStreamState()

	// Clearing now is optimistic; a server that re-issues the interrupt
	// re-arms the tracker on the next update frame.
	if cc.session.Interrupts().Awaiting() {
		cc.session.Interrupts().Clear()
	}
	return nil
}

// buildPayload chooses between plain text and the JSON reply envelope.
func (cc *ChatController) buildPayload(text string, reply *ReplyOption) (string, bool, error) {
	var envelope *humanResponse

	interrupts := cc.session.Interrupts()
	switch {
	case reply != nil && reply.Type == chat.InterruptInputOption:
		envelope = &humanResponse{ModifiedText: reply.Content, Type: chat.InterruptInputOption, HumanResponse: text}
	case reply != nil:
		envelope = &humanResponse{Type: reply.Type, HumanResponse: text}
	case interrupts.Awaiting():
		envelope = &humanResponse{ModifiedText: interrupts.Echo(), Type: interrupts.Subtype(), HumanResponse: text}
	default:
		return text, false, nil
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", false, fmt.Errorf("failed to serialize response payload: %w", err)
	}
	return string(raw), true, nil
}

func (cc *ChatController) frameHandler(turn *turnGate) stream.Handler {
	return stream.HandlerFunc{
		DeltaFunc: func(msg chat.Message) {
			cc.mu.Lock()
			cc.session.ApplyDelta(msg)
			cc.mu.Unlock()
			cc.notify()
		},
		UpdateFunc: func(msg chat.Message) {
			cc.mu.Lock()
			cc.session.ApplyUpdate(msg)
			cc.mu.Unlock()
			cc.notify()
		},
		ErrorFunc: func(err *stream.Error) {
			cc.handleStreamError(err)
			turn.close()
		},
		DoneFunc: func() {
			turn.close()
		},
	}
}

// handleStreamError converts the credit-exhaustion business error into a
// visible system message plus a balance update. Other stream errors are
// terminal for the turn and only logged; recovery is user-initiated.
func (cc *ChatController) handleStreamError(err *stream.Error) {
	if err.InsufficientCredits() && err.CurrentCredits != nil {
		credits := *err.CurrentCredits
		cc.mu.Lock()
		cc.session.AppendLocal(chat.NewSystemMessage(
			fmt.Sprintf("Insufficient credits. You have %d credits remaining.", credits)))
		cc.mu.Unlock()
		cc.notify()
		if cc.onCredits != nil {
			cc.onCredits(credits)
		}
		return
	}
	logger.Error("stream error on thread %s: %v", cc.ThreadID(), err)
}

// turnGate signals the end of one submission's stream. A terminal frame and
// a replacing Submit can race to close it, so closing is idempotent.
type turnGate struct {
	ch   chan struct{}
	once sync.Once
}

func newTurnGate() *turnGate {
	return &turnGate{ch: make(chan struct{})}
}

func (g *turnGate) close() {
	g.once.Do(func() { close(g.ch) })
}

// Wait blocks until the current turn's stream reaches a terminal frame.
func (cc *ChatController) Wait(ctx context.Context) error {
	cc.mu.Lock()
	turn := cc.turn
	cc.mu.Unlock()

	if turn == nil {
		return nil
	}
	select {
	case <-turn.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns a snapshot of the reconciled transcript.
func (cc *ChatController) Messages() chat.Transcript {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.session == nil {
		return nil
	}
	return cc.session.Messages()
}

// Len returns the current transcript length.
func (cc *ChatController) Len() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.session == nil {
		return 0
	}
	return cc.session.Len()
}

// AwaitingResponse reports whether an interrupt is pending, and for what
// subtype.
func (cc *ChatController) AwaitingResponse() (bool, string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.session == nil {
		return false, ""
	}
	return cc.session.Interrupts().Awaiting(), cc.session.Interrupts().Subtype()
}

// ThreadID returns the open conversation's id.
func (cc *ChatController) ThreadID() string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.threadID
}

// Close tears down any live stream. Called on navigation away.
func (cc *ChatController) Close() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.closeStreamLocked()
}

func (cc *ChatController) closeStreamLocked() {
	if cc.conn != nil {
		cc.conn.Close()
		cc.conn = nil
	}
}

func (cc *ChatController) notify() {
	if cc.onChange != nil {
		cc.onChange()
	}
}
