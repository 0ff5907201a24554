package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/opsmith-ai/opsmith/pkg/chat"
	"github.com/opsmith-ai/opsmith/pkg/history"
	"github.com/opsmith-ai/opsmith/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	closed bool
}

func (h *fakeHandle) Close() {
	h.closed = true
}

// fakeOpener records open requests and hands the test the frame handler so
// it can play the server side.
type fakeOpener struct {
	requests []stream.OpenRequest
	handler  stream.Handler
	handle   *fakeHandle
}

func (f *fakeOpener) Open(ctx context.Context, req stream.OpenRequest, handler stream.Handler) (stream.Handle, error) {
	f.requests = append(f.requests, req)
	f.handler = handler
	f.handle = &fakeHandle{}
	return f.handle, nil
}

func (f *fakeOpener) lastRequest(t *testing.T) stream.OpenRequest {
	t.Helper()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type fakeStore struct {
	pages map[int][]history.Record
	err   error
}

func (f *fakeStore) HistoryPage(ctx context.Context, providerID, threadID string, page int) ([]history.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[page], nil
}

func findByText(msgs chat.Transcript, text string) (chat.Message, bool) {
	for _, m := range msgs {
		if m.Text() == text {
			return m, true
		}
	}
	return chat.Message{}, false
}

func newTestController() (*ChatController, *fakeOpener, *fakeStore) {
	opener := &fakeOpener{}
	store := &fakeStore{pages: map[int][]history.Record{}}
	return NewChatController(opener, store, "prov-1"), opener, store
}

func openEmpty(t *testing.T, cc *ChatController) {
	t.Helper()
	require.NoError(t, cc.OpenConversation(context.Background(), "thread-1"))
}

func TestSubmit(t *testing.T) {
	t.Run("should reject empty input", func(t *testing.T) {
		cc, _, _ := newTestController()
		openEmpty(t, cc)

		assert.Error(t, cc.Submit(context.Background(), "   \t", nil))
	})

	t.Run("should send plain text outside an interrupt", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)

		require.NoError(t, cc.Submit(context.Background(), "deploy the api", nil))

		req := opener.lastRequest(t)
		assert.Equal(t, "deploy the api", req.Message)
		assert.False(t, req.IsHumanResponse)
		assert.Equal(t, "thread-1", req.ThreadID)
		assert.Equal(t, "prov-1", req.ProviderID)
	})

	t.Run("should echo the raw text locally, never the envelope", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)

		require.NoError(t, cc.Submit(context.Background(), "deploy", nil))
		opener.handler.OnUpdate(chat.Message{
			Kind:      chat.KindInterrupt,
			Interrupt: &chat.InterruptPayload{Type: chat.InterruptInputField},
		})
		require.NoError(t, cc.Submit(context.Background(), "us-east-1", nil))

		msgs := cc.Messages()
		last := msgs[len(msgs)-1]
		assert.Equal(t, chat.KindHuman, last.Kind)
		assert.Equal(t, "us-east-1", last.Text())
	})

	t.Run("should round-trip an input_option interrupt", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)
		require.NoError(t, cc.Submit(context.Background(), "set up my standup summary", nil))

		opener.handler.OnUpdate(chat.Message{
			Kind: chat.KindInterrupt,
			Interrupt: &chat.InterruptPayload{
				Type: chat.InterruptInputOption,
				Data: chat.InterruptData{Content: "X"},
			},
		})
		awaiting, subtype := cc.AwaitingResponse()
		require.True(t, awaiting)
		require.Equal(t, chat.InterruptInputOption, subtype)

		require.NoError(t, cc.Submit(context.Background(), "yes", nil))

		req := opener.lastRequest(t)
		assert.True(t, req.IsHumanResponse)
		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(req.Message), &payload))
		assert.Equal(t, "X", payload["modifiedText"])
		assert.Equal(t, chat.InterruptInputOption, payload["type"])
		assert.Equal(t, "yes", payload["humanResponse"])

		awaiting, _ = cc.AwaitingResponse()
		assert.False(t, awaiting, "interrupt clears optimistically on submit")
	})

	t.Run("should send no echo text for non-option interrupts", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)
		require.NoError(t, cc.Submit(context.Background(), "connect slack", nil))

		opener.handler.OnUpdate(chat.Message{
			Kind:      chat.KindInterrupt,
			Interrupt: &chat.InterruptPayload{Type: chat.InterruptConnect},
		})
		require.NoError(t, cc.Submit(context.Background(), "done", nil))

		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(opener.lastRequest(t).Message), &payload))
		assert.Equal(t, "", payload["modifiedText"])
		assert.Equal(t, chat.InterruptConnect, payload["type"])
	})

	t.Run("should honor an explicit option reply", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)

		require.NoError(t, cc.Submit(context.Background(), "no", &ReplyOption{
			Type:    chat.InterruptInputOption,
			Content: "Deploy to production?",
		}))

		req := opener.lastRequest(t)
		assert.True(t, req.IsHumanResponse)
		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(req.Message), &payload))
		assert.Equal(t, "Deploy to production?", payload["modifiedText"])
		assert.Equal(t, "no", payload["humanResponse"])
	})
}

func TestStreamWiring(t *testing.T) {
	t.Run("should reconcile frames into the transcript", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)
		require.NoError(t, cc.Submit(context.Background(), "status report", nil))

		opener.handler.OnDelta(chat.Message{
			Node:       "reporter",
			StreamKind: chat.StreamMessages,
			Parts:      []chat.ContentPart{{Text: "All systems"}},
		})
		opener.handler.OnDelta(chat.Message{
			Node:       "reporter",
			StreamKind: chat.StreamMessages,
			Parts:      []chat.ContentPart{{Text: " nominal"}},
		})
		opener.handler.OnUpdate(chat.Message{
			ID:         "m9",
			Node:       "reporter",
			Kind:       chat.KindAgent,
			StreamKind: chat.StreamUpdates,
			Status:     chat.StatusSuccess,
			Parts:      []chat.ContentPart{{Text: "All systems nominal."}},
		})
		opener.handler.OnDone()

		require.NoError(t, cc.Wait(context.Background()))
		msgs := cc.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, chat.KindHuman, msgs[0].Kind)
		assert.Equal(t, "All systems nominal.", msgs[1].Text())
		assert.Equal(t, chat.StatusSuccess, msgs[1].Status)
	})

	t.Run("should convert credit exhaustion into a system message", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)

		var reported int
		cc.SetOnCredits(func(credits int) { reported = credits })

		require.NoError(t, cc.Submit(context.Background(), "summarize my inbox", nil))
		credits := 3
		opener.handler.OnError(&stream.Error{
			Message:        stream.InsufficientCreditsMessage,
			CurrentCredits: &credits,
		})

		require.NoError(t, cc.Wait(context.Background()))
		msgs := cc.Messages()
		last := msgs[len(msgs)-1]
		assert.Equal(t, chat.KindSystem, last.Kind)
		assert.Contains(t, last.Text(), "3")
		assert.Equal(t, 3, reported)
	})

	t.Run("should accept a fragment repeating the previous turn's last one", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)

		require.NoError(t, cc.Submit(context.Background(), "first", nil))
		opener.handler.OnDelta(chat.Message{
			Node:       "worker",
			StreamKind: chat.StreamMessages,
			Parts:      []chat.ContentPart{{Text: "ok"}},
		})
		opener.handler.OnUpdate(chat.Message{
			ID:         "t1",
			Node:       "worker",
			Kind:       chat.KindAgent,
			StreamKind: chat.StreamUpdates,
			Status:     chat.StatusSuccess,
			Parts:      []chat.ContentPart{{Text: "ok"}},
		})
		opener.handler.OnDone()

		require.NoError(t, cc.Submit(context.Background(), "second", nil))
		opener.handler.OnDelta(chat.Message{
			Node:       "worker",
			StreamKind: chat.StreamMessages,
			Parts:      []chat.ContentPart{{Text: "ok"}},
		})

		msgs := cc.Messages()
		last := msgs[len(msgs)-1]
		assert.Equal(t, chat.StatusStreaming, last.Status)
		assert.Equal(t, "ok", last.Text())
	})

	t.Run("should not stream a new turn into the previous turn's open placeholder", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)

		// Turn 1 ends without a finalize update, leaving its placeholder open.
		require.NoError(t, cc.Submit(context.Background(), "first", nil))
		opener.handler.OnDelta(chat.Message{
			Node:       "worker",
			StreamKind: chat.StreamMessages,
			Parts:      []chat.ContentPart{{Text: "old answer"}},
		})
		opener.handler.OnDone()

		require.NoError(t, cc.Submit(context.Background(), "second", nil))
		opener.handler.OnDelta(chat.Message{
			Node:       "worker",
			StreamKind: chat.StreamMessages,
			Parts:      []chat.ContentPart{{Text: "new answer"}},
		})

		msgs := cc.Messages()
		last := msgs[len(msgs)-1]
		assert.Equal(t, "new answer", last.Text())
		stale, ok := findByText(msgs, "old answer")
		require.True(t, ok)
		assert.Equal(t, "old answer", stale.Text(), "previous turn's placeholder stays untouched")
	})

	t.Run("should keep the transcript on a generic stream error", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)

		require.NoError(t, cc.Submit(context.Background(), "hello", nil))
		before := cc.Len()
		opener.handler.OnError(&stream.Error{Message: "stream connection failed"})

		require.NoError(t, cc.Wait(context.Background()))
		assert.Equal(t, before, cc.Len())
	})

	t.Run("should survive racing terminal frames on one turn", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)
		require.NoError(t, cc.Submit(context.Background(), "hello", nil))

		handler := opener.handler
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				handler.OnDone()
			}()
			go func() {
				defer wg.Done()
				handler.OnError(&stream.Error{Message: "stream connection failed"})
			}()
		}
		wg.Wait()

		require.NoError(t, cc.Wait(context.Background()))
	})
}

func TestConversationLifecycle(t *testing.T) {
	t.Run("should seed interrupt state from loaded history", func(t *testing.T) {
		cc, _, store := newTestController()
		store.pages[1] = []history.Record{{
			ID:       "h1",
			Kind:     "interrupt",
			NextType: chat.NextTypeHuman,
			Data:     `{"type":"input_option","data":{"content":"Use SSO?"}}`,
		}}

		require.NoError(t, cc.OpenConversation(context.Background(), "thread-1"))

		awaiting, subtype := cc.AwaitingResponse()
		assert.True(t, awaiting)
		assert.Equal(t, chat.InterruptInputOption, subtype)
	})

	t.Run("should fall back to an empty transcript on a failed load", func(t *testing.T) {
		cc, _, store := newTestController()
		store.err = fmt.Errorf("store offline")

		require.NoError(t, cc.OpenConversation(context.Background(), "thread-1"))

		assert.Equal(t, 0, cc.Len())
	})

	t.Run("should prepend older pages in order", func(t *testing.T) {
		cc, _, store := newTestController()

		first := make([]history.Record, history.PageSize)
		for i := range first {
			// Newest first within the page.
			first[i] = history.Record{
				ID:      fmt.Sprintf("new-%02d", history.PageSize-i),
				Kind:    "agent",
				Content: `[{"text":"n"}]`,
			}
		}
		store.pages[1] = first
		store.pages[2] = []history.Record{
			{ID: "old-2", Kind: "agent", Content: `[{"text":"o"}]`},
			{ID: "old-1", Kind: "human", Content: `[{"text":"o"}]`},
		}

		require.NoError(t, cc.OpenConversation(context.Background(), "thread-1"))
		require.Equal(t, history.PageSize, cc.Len())

		loaded, err := cc.LoadOlderPage(context.Background())
		require.NoError(t, err)
		require.True(t, loaded)

		msgs := cc.Messages()
		assert.Equal(t, "old-1", msgs[0].ID)
		assert.Equal(t, "old-2", msgs[1].ID)
		assert.Equal(t, "new-01", msgs[2].ID)

		// The short second page was the last one.
		loaded, err = cc.LoadOlderPage(context.Background())
		require.NoError(t, err)
		assert.False(t, loaded)
	})

	t.Run("should close the live stream when switching threads", func(t *testing.T) {
		cc, opener, _ := newTestController()
		openEmpty(t, cc)
		require.NoError(t, cc.Submit(context.Background(), "hello", nil))

		require.NoError(t, cc.OpenConversation(context.Background(), "thread-2"))

		assert.True(t, opener.handle.closed)
		assert.Equal(t, "thread-2", cc.ThreadID())
	})
}
