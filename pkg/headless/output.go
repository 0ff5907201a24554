package headless

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/opsmith-ai/opsmith/pkg/chat"
)

// Output renders reconciled messages to the console.
type Output struct {
	human     lipgloss.Style
	agent     lipgloss.Style
	tool      lipgloss.Style
	system    lipgloss.Style
	interrupt lipgloss.Style
}

// NewOutput creates a console renderer.
func NewOutput() *Output {
	return &Output{
		human:     lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		agent:     lipgloss.NewStyle(),
		tool:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		system:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		interrupt: lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
	}
}

// Print renders one message with its role label.
func (o *Output) Print(msg chat.Message) {
	switch msg.Kind {
	case chat.KindHuman:
		fmt.Println(o.human.Render("you: ") + msg.Text())
	case chat.KindTool:
		fmt.Println(o.tool.Render(fmt.Sprintf("[tool %s] ", msg.Node)) + msg.Text())
	case chat.KindSystem:
		fmt.Println(o.system.Render(msg.Text()))
	case chat.KindInterrupt:
		fmt.Println(o.interrupt.Render("input needed: ") + o.interruptPrompt(msg))
	default:
		fmt.Println(msg.Text())
	}
}

func (o *Output) interruptPrompt(msg chat.Message) string {
	if msg.Interrupt == nil {
		return msg.Text()
	}
	prompt := msg.Interrupt.Data.Content
	if prompt == "" {
		prompt = msg.Text()
	}
	if len(msg.Interrupt.Data.Options) > 0 {
		prompt += " (" + strings.Join(msg.Interrupt.Data.Options, " / ") + ")"
	}
	return prompt
}

// Error prints an error notice.
func (o *Output) Error(text string) {
	fmt.Println(o.system.Render("error: " + text))
}
