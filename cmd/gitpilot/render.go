package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/martinemde/gitpilot/agentloop"
)

// newTranscript renders markdown with colors when out is a terminal and
// plain text otherwise.
func newTranscript(out *os.File) agentloop.Transcript {
	if !term.IsTerminal(int(out.Fd())) {
		return agentloop.NewPlainTranscript(out)
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(0),
	)
	if err != nil {
		return agentloop.NewPlainTranscript(out)
	}
	return newStyledTranscript(out, md)
}

type styledTranscript struct {
	w  io.Writer
	md *glamour.TermRenderer
	mu sync.Mutex

	user      lipgloss.Style
	assistant lipgloss.Style
	result    lipgloss.Style
	notice    lipgloss.Style
	failure   lipgloss.Style
}

func newStyledTranscript(w io.Writer, md *glamour.TermRenderer) *styledTranscript {
	return &styledTranscript{
		w:         w,
		md:        md,
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		result:    lipgloss.NewStyle().Faint(true),
		notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		failure:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

func (t *styledTranscript) Emit(e agentloop.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Kind {
	case agentloop.EventPrompt:
		fmt.Fprint(t.w, t.user.Render("User:")+" ")
	case agentloop.EventAssistant:
		fmt.Fprintf(t.w, "%s %s\n", t.assistant.Render("Assistant:"), t.markdown(e.Text))
	case agentloop.EventCommandResult:
		fmt.Fprintf(t.w, "%s\n\n", t.result.Render(e.Text))
	case agentloop.EventLoopDetection, agentloop.EventBudgetExceeded:
		fmt.Fprintln(t.w, t.notice.Render(e.Text))
	case agentloop.EventError:
		fmt.Fprintln(t.w, t.failure.Render(e.Text))
	case agentloop.EventSessionEnd:
		fmt.Fprintln(t.w)
	}
}

func (t *styledTranscript) markdown(text string) string {
	rendered, err := t.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(rendered, "\n")
}
