package reconcile

import (
	"testing"

	"github.com/opsmith-ai/opsmith/pkg/chat"
	"github.com/stretchr/testify/assert"
)

func TestInterruptTracker(t *testing.T) {
	t.Run("should start idle", func(t *testing.T) {
		tracker := NewInterruptTracker()

		assert.False(t, tracker.Awaiting())
		assert.Empty(t, tracker.Subtype())
		assert.Empty(t, tracker.Echo())
	})

	t.Run("should arm on an interrupt", func(t *testing.T) {
		tracker := NewInterruptTracker()
		tracker.Observe(chat.Message{
			Kind:      chat.KindInterrupt,
			Interrupt: &chat.InterruptPayload{Type: chat.InterruptConnect},
		})

		assert.True(t, tracker.Awaiting())
		assert.Equal(t, chat.InterruptConnect, tracker.Subtype())
		assert.Empty(t, tracker.Echo(), "only input_option carries an echo")
	})

	t.Run("should capture the echo text for input_option", func(t *testing.T) {
		tracker := NewInterruptTracker()
		tracker.Observe(chat.Message{
			Kind: chat.KindInterrupt,
			Interrupt: &chat.InterruptPayload{
				Type: chat.InterruptInputOption,
				Data: chat.InterruptData{Content: "Deploy to production?"},
			},
		})

		assert.Equal(t, "Deploy to production?", tracker.Echo())
	})

	t.Run("should hold state across mid-turn progress events", func(t *testing.T) {
		tracker := NewInterruptTracker()
		tracker.Observe(chat.Message{
			Kind:      chat.KindInterrupt,
			Interrupt: &chat.InterruptPayload{Type: chat.InterruptInputField},
		})
		tracker.Observe(chat.Message{
			Kind:     chat.KindTool,
			NextType: chat.NextTypeHuman,
		})

		assert.True(t, tracker.Awaiting())
		assert.Equal(t, chat.InterruptInputField, tracker.Subtype())
	})

	t.Run("should disarm when the turn moves on", func(t *testing.T) {
		tracker := NewInterruptTracker()
		tracker.Observe(chat.Message{
			Kind:      chat.KindInterrupt,
			Interrupt: &chat.InterruptPayload{Type: chat.InterruptConnect},
		})
		tracker.Observe(chat.Message{
			Kind:     chat.KindAgent,
			NextType: "agent",
		})

		assert.False(t, tracker.Awaiting())
		assert.Empty(t, tracker.Subtype())
	})

	t.Run("should arm without a payload", func(t *testing.T) {
		tracker := NewInterruptTracker()
		tracker.Observe(chat.Message{Kind: chat.KindInterrupt})

		assert.True(t, tracker.Awaiting())
		assert.Empty(t, tracker.Subtype())
	})

	t.Run("should seed only when history expects a reply", func(t *testing.T) {
		tracker := NewInterruptTracker()
		tracker.SeedFromHistory(chat.Message{Kind: chat.KindAgent, NextType: "agent"})
		assert.False(t, tracker.Awaiting())

		tracker.SeedFromHistory(chat.Message{
			Kind:     chat.KindInterrupt,
			NextType: chat.NextTypeHuman,
			Interrupt: &chat.InterruptPayload{
				Type: chat.InterruptInputOption,
				Data: chat.InterruptData{Content: "Which workspace?"},
			},
		})
		assert.True(t, tracker.Awaiting())
		assert.Equal(t, "Which workspace?", tracker.Echo())
	})
}
