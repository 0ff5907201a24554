package reconcile

import "github.com/opsmith-ai/opsmith/pkg/chat"

// InterruptTracker tracks whether the conversation is paused on a human
// response, to which interrupt subtype, and what contextual text must be
// echoed back with the reply. It has two states: idle, and awaiting a
// response.
type InterruptTracker struct {
	awaiting bool
	subtype  string
	echo     string
}

// NewInterruptTracker returns an idle tracker.
func NewInterruptTracker() *InterruptTracker {
	return &InterruptTracker{}
}

// Awaiting reports whether a human response is pending.
func (t *InterruptTracker) Awaiting() bool {
	return t.awaiting
}

// Subtype returns the pending interrupt's payload type, or "" when idle.
func (t *InterruptTracker) Subtype() string {
	return t.subtype
}

// Echo returns the text to send back verbatim as modifiedText. Only
// input_option interrupts carry one.
func (t *InterruptTracker) Echo() string {
	return t.echo
}

// Observe transitions the tracker on a reconciled update. An interrupt arms
// it; a non-interrupt that no longer expects a human reply disarms it.
// Anything else (tool progress mid-turn, and so on) leaves it untouched.
func (t *InterruptTracker) Observe(msg chat.Message) {
	switch {
	case msg.IsInterrupt():
		t.arm(msg.Interrupt)
	case !msg.SignalsHumanNext():
		t.Clear()
	}
}

// SeedFromHistory arms the tracker from the last persisted message of a
// reloaded conversation, so resuming mid-interrupt needs no fresh event.
func (t *InterruptTracker) SeedFromHistory(last chat.Message) {
	if !last.SignalsHumanNext() {
		return
	}
	t.arm(last.Interrupt)
}

// Clear returns the tracker to idle. Also called optimistically when the
// pending reply is submitted.
func (t *InterruptTracker) Clear() {
	t.awaiting = false
	t.subtype = ""
	t.echo = ""
}

func (t *InterruptTracker) arm(payload *chat.InterruptPayload) {
	t.awaiting = true
	t.subtype = ""
	t.echo = ""
	if payload == nil {
		return
	}
	t.subtype = payload.Type
	if payload.Type == chat.InterruptInputOption {
		t.echo = payload.Data.Content
	}
}
