package stream

import "github.com/opsmith-ai/opsmith/pkg/chat"

// Handler is the unified interface for consuming push-stream frames.
// Reconciliation runs synchronously inside these callbacks, so frame order
// is reconciliation order.
type Handler interface {
	// OnDelta is called for envelopes on the messages channel (text
	// fragments for a streaming placeholder).
	OnDelta(msg chat.Message)

	// OnUpdate is called for every other envelope: finalize, replace,
	// tool result, interrupt, plain insert.
	OnUpdate(msg chat.Message)

	// OnError is called once for a terminal error frame. The connection
	// is closed immediately after.
	OnError(err *Error)

	// OnDone is called once when the stream completes normally. The
	// connection is closed immediately after.
	OnDone()
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc struct {
	DeltaFunc  func(msg chat.Message)
	UpdateFunc func(msg chat.Message)
	ErrorFunc  func(err *Error)
	DoneFunc   func()
}

// OnDelta implements Handler
func (h HandlerFunc) OnDelta(msg chat.Message) {
	if h.DeltaFunc != nil {
		h.DeltaFunc(msg)
	}
}

// OnUpdate implements Handler
func (h HandlerFunc) OnUpdate(msg chat.Message) {
	if h.UpdateFunc != nil {
		h.UpdateFunc(msg)
	}
}

// OnError implements Handler
func (h HandlerFunc) OnError(err *Error) {
	if h.ErrorFunc != nil {
		h.ErrorFunc(err)
	}
}

// OnDone implements Handler
func (h HandlerFunc) OnDone() {
	if h.DoneFunc != nil {
		h.DoneFunc()
	}
}

var _ Handler = HandlerFunc{}
