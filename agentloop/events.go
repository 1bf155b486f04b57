package agentloop

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// EventKind identifies the type of transcript event.
type EventKind string

const (
	EventPrompt         EventKind = "prompt"
	EventAssistant      EventKind = "assistant"
	EventCommandResult  EventKind = "command_result"
	EventLoopDetection  EventKind = "loop_detection"
	EventBudgetExceeded EventKind = "budget_exceeded"
	EventError          EventKind = "error"
	EventSessionEnd     EventKind = "session_end"
)

// Event is one user-visible occurrence in a session.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text,omitempty"`
}

// Transcript renders session events for the person at the terminal.
type Transcript interface {
	Emit(Event)
}

// TranscriptFunc adapts a function to Transcript.
type TranscriptFunc func(Event)

func (f TranscriptFunc) Emit(e Event) { f(e) }

// PlainTranscript writes events as plain text.
type PlainTranscript struct {
	w  io.Writer
	mu sync.Mutex
}

// NewPlainTranscript creates a PlainTranscript writing to w.
func NewPlainTranscript(w io.Writer) *PlainTranscript {
	return &PlainTranscript{w: w}
}

func (t *PlainTranscript) Emit(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Kind {
	case EventPrompt:
		fmt.Fprint(t.w, "User: ")
	case EventAssistant:
		fmt.Fprintf(t.w, "Assistant: %s\n", e.Text)
	case EventCommandResult:
		fmt.Fprintf(t.w, "%s\n\n", e.Text)
	case EventSessionEnd:
	default:
		fmt.Fprintf(t.w, "[%s] %s\n", e.Kind, e.Text)
	}
}

// discardTranscript drops every event.
type discardTranscript struct{}

func (discardTranscript) Emit(Event) {}
