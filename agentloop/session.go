package agentloop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/gitpilot/unifiedllm"
)

// State is the current position of a session in the conversation loop.
type State string

const (
	StateAwaitingUserInput     State = "awaiting_user_input"
	StateAwaitingModelResponse State = "awaiting_model_response"
	StateExecutingCommands     State = "executing_commands"
	StateCompacting            State = "compacting"
	StateLoopBudgetExceeded    State = "loop_budget_exceeded"
	StateExited                State = "exited"
)

var (
	// ErrSessionExited is returned once the exit sentinel has been entered.
	ErrSessionExited = errors.New("session exited")
	// ErrLoopBudgetExceeded is returned when the model keeps issuing
	// commands past the configured number of rounds.
	ErrLoopBudgetExceeded = errors.New("command round budget exceeded")
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxCommandRounds    int                       `json:"max_command_rounds"` // per user input
	ExitSentinel        string                    `json:"exit_sentinel"`
	Params              unifiedllm.GenerateParams `json:"params"`
	EnableLoopDetection bool                      `json:"enable_loop_detection"`
	LoopDetectionWindow int                       `json:"loop_detection_window"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxCommandRounds:    10,
		ExitSentinel:        "exit",
		Params:              unifiedllm.DefaultGenerateParams(),
		EnableLoopDetection: true,
		LoopDetectionWindow: 4,
	}
}

// Session drives the conversation loop: user input, model replies, command
// execution, and compaction.
type Session struct {
	id         string
	conv       *Conversation
	gen        Generator
	dispatcher *Dispatcher
	compactor  Compactor
	transcript Transcript
	logger     *zap.Logger
	config     SessionConfig
	state      State
	signatures []string
	mu         sync.Mutex
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCompactor replaces the default model-assisted compactor.
func WithCompactor(c Compactor) SessionOption {
	return func(s *Session) { s.compactor = c }
}

// WithTranscript sets where user-visible events go.
func WithTranscript(t Transcript) SessionOption {
	return func(s *Session) { s.transcript = t }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates a session over an existing conversation.
func NewSession(conv *Conversation, gen Generator, dispatcher *Dispatcher, config *SessionConfig, opts ...SessionOption) *Session {
	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxCommandRounds <= 0 {
		cfg.MaxCommandRounds = DefaultSessionConfig().MaxCommandRounds
	}
	if cfg.ExitSentinel == "" {
		cfg.ExitSentinel = "exit"
	}

	s := &Session{
		id:         uuid.New().String(),
		conv:       conv,
		gen:        gen,
		dispatcher: dispatcher,
		transcript: discardTranscript{},
		logger:     zap.NewNop(),
		config:     cfg,
		state:      StateAwaitingUserInput,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.compactor == nil {
		s.compactor = NewModelCompactor(gen, cfg.Params, DefaultCompactionThreshold, s.logger)
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Conversation returns the transcript the session owns.
func (s *Session) Conversation() *Conversation { return s.conv }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug("state change", zap.String("from", string(prev)), zap.String("to", string(state)))
	}
}

func (s *Session) emit(kind EventKind, text string) {
	s.transcript.Emit(Event{Kind: kind, Timestamp: time.Now(), SessionID: s.id, Text: text})
}

// Submit processes one line of user input. Input that itself contains
// commands is executed directly without calling the model. Otherwise the
// model is called, and called again after every reply that contained
// commands, until a reply has none or the round budget runs out.
func (s *Session) Submit(ctx context.Context, input string) error {
	if s.State() == StateExited {
		return ErrSessionExited
	}
	input = strings.TrimSpace(input)
	if input == s.config.ExitSentinel {
		s.setState(StateExited)
		s.emit(EventSessionEnd, "")
		return ErrSessionExited
	}
	if input == "" {
		return nil
	}
	s.signatures = s.signatures[:0]

	if calls := s.dispatcher.Extract(input); len(calls) > 0 {
		s.setState(StateExecutingCommands)
		s.report(s.dispatcher.Execute(ctx, s.conv, calls))
		s.compact(ctx)
		s.setState(StateAwaitingUserInput)
		return nil
	}

	s.conv.Append(unifiedllm.RoleUser, input)
	reply, err := s.generate(ctx)
	if err != nil {
		return s.fail(err)
	}

	rounds := 0
	for {
		s.setState(StateExecutingCommands)
		calls := s.dispatcher.Extract(reply)
		s.conv.Append(unifiedllm.RoleAssistant, reply)
		if len(calls) == 0 {
			break
		}

		batch := s.dispatcher.Execute(ctx, s.conv, calls)
		s.report(batch)
		s.detectLoop(batch)
		rounds++

		if rounds >= s.config.MaxCommandRounds {
			s.compact(ctx)
			s.setState(StateLoopBudgetExceeded)
			s.logger.Warn("command round budget exceeded", zap.Int("rounds", rounds))
			s.emit(EventBudgetExceeded, fmt.Sprintf("Stopped after %d command rounds. Send another message to continue.", rounds))
			return fmt.Errorf("%w after %d rounds", ErrLoopBudgetExceeded, rounds)
		}

		if reply, err = s.generate(ctx); err != nil {
			return s.fail(err)
		}
	}

	s.compact(ctx)
	s.setState(StateAwaitingUserInput)
	return nil
}

func (s *Session) generate(ctx context.Context) (string, error) {
	s.setState(StateAwaitingModelResponse)
	reply, err := s.gen.Generate(ctx, s.conv.ToLLMMessages(), s.config.Params)
	if err != nil {
		return "", err
	}
	s.emit(EventAssistant, reply)
	return reply, nil
}

func (s *Session) fail(err error) error {
	s.logger.Error("model call failed", zap.Error(err))
	s.emit(EventError, "model call failed: "+err.Error())
	s.setState(StateAwaitingUserInput)
	return fmt.Errorf("generate reply: %w", err)
}

func (s *Session) report(batch Batch) {
	for _, entry := range batch.Entries {
		s.emit(EventCommandResult, entry.Content)
	}
}

func (s *Session) detectLoop(batch Batch) {
	if !s.config.EnableLoopDetection {
		return
	}
	for _, call := range batch.Calls {
		s.signatures = append(s.signatures, commandSignature(call))
	}
	window := s.config.LoopDetectionWindow
	if !DetectLoop(s.signatures, window) {
		return
	}
	warning := loopWarning(window)
	s.conv.Append(unifiedllm.RoleUser, warning)
	s.logger.Warn("command loop detected", zap.Int("window", window))
	s.emit(EventLoopDetection, warning)
	s.signatures = s.signatures[:0]
}

func (s *Session) compact(ctx context.Context) {
	s.setState(StateCompacting)
	if err := s.compactor.Compact(ctx, s.conv); err != nil {
		s.logger.Warn("compaction failed", zap.Error(err))
	}
}

// MaxInputLine is the longest input line Run accepts. Longer lines are
// reported and skipped.
const MaxInputLine = 1024 * 1024

type inputLine struct {
	text    string
	tooLong bool
	err     error
}

// readLines delivers the lines of r on the returned channel until end of
// input, a read error, or done is closed. The channel is closed on return.
func readLines(r io.Reader, limit int, done <-chan struct{}) <-chan inputLine {
	out := make(chan inputLine)
	go func() {
		defer close(out)
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			var (
				buf     []byte
				tooLong bool
			)
			for {
				chunk, isPrefix, err := br.ReadLine()
				if err != nil {
					if !errors.Is(err, io.EOF) {
						select {
						case out <- inputLine{err: err}:
						case <-done:
						}
					}
					return
				}
				if !tooLong {
					if len(buf)+len(chunk) > limit {
						tooLong, buf = true, nil
					} else {
						buf = append(buf, chunk...)
					}
				}
				if !isPrefix {
					break
				}
			}
			select {
			case out <- inputLine{text: string(buf), tooLong: tooLong}:
			case <-done:
				return
			}
		}
	}()
	return out
}

// Run reads one input per line from r until the exit sentinel, end of input,
// or cancellation. Cancellation is noticed while waiting for input too.
// Command and model failures are reported and the loop continues.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	done := make(chan struct{})
	defer close(done)
	lines := readLines(r, MaxInputLine, done)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.emit(EventPrompt, "")

		var (
			line inputLine
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			s.emit(EventSessionEnd, "")
			return nil
		}
		if line.err != nil {
			return fmt.Errorf("read input: %w", line.err)
		}
		if line.tooLong {
			s.logger.Warn("input line too long", zap.Int("limit", MaxInputLine))
			s.emit(EventError, fmt.Sprintf("input line longer than %d bytes, ignored", MaxInputLine))
			continue
		}

		err := s.Submit(ctx, line.text)
		switch {
		case err == nil, errors.Is(err, ErrLoopBudgetExceeded):
		case errors.Is(err, ErrSessionExited):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}
	}
}
