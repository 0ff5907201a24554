package headless

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsmith-ai/opsmith/pkg/config"
	"github.com/opsmith-ai/opsmith/pkg/controllers"
	"github.com/opsmith-ai/opsmith/pkg/history"
	"github.com/opsmith-ai/opsmith/pkg/logger"
	"github.com/opsmith-ai/opsmith/pkg/stream"
)

// Runner executes a single prompt against the assistant and prints the
// reconciled transcript as frames arrive.
type Runner struct {
	controller *controllers.ChatController
	output     *Output
	printed    int
}

// NewRunner wires a controller from global config.
func NewRunner() (*Runner, error) {
	settings := config.Get()
	if settings.Provider == "" {
		return nil, fmt.Errorf("provider id is not configured")
	}

	opener := stream.NewClient(settings.Server.URL)
	store := history.NewClientWithTimeout(settings.Server.URL, settings.Server.Timeout)

	r := &Runner{
		controller: controllers.NewChatController(opener, store, settings.Provider),
		output:     NewOutput(),
	}
	r.controller.SetOnChange(r.flush)
	r.controller.SetOnCredits(func(credits int) {
		logger.Info("credit balance is now %d", credits)
	})
	return r, nil
}

// Run submits one prompt on the configured thread (a fresh thread when none
// is configured) and blocks until the turn completes.
func (r *Runner) Run(ctx context.Context, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty in headless mode")
	}

	threadID := config.Get().Thread
	if threadID == "" {
		threadID = uuid.NewString()
		logger.Info("starting new thread %s", threadID)
	}

	if err := r.controller.OpenConversation(ctx, threadID); err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	r.printed = r.controller.Len()

	if err := r.controller.Submit(ctx, prompt, nil); err != nil {
		return err
	}
	if err := r.controller.Wait(ctx); err != nil {
		return err
	}

	if awaiting, subtype := r.controller.AwaitingResponse(); awaiting {
		r.output.Error(fmt.Sprintf("the assistant is waiting on a %s response; rerun with an answer", subtype))
	}
	return nil
}

// flush prints transcript entries not yet shown. Streaming placeholders are
// held back until they finalize so each message prints once.
func (r *Runner) flush() {
	msgs := r.controller.Messages()
	for r.printed < len(msgs) {
		msg := msgs[r.printed]
		if msg.IsStreaming() {
			return
		}
		r.output.Print(msg)
		r.printed++
	}
}

// Cleanup closes the live stream if one remains.
func (r *Runner) Cleanup() error {
	r.controller.Close()
	return nil
}
