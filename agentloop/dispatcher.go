package agentloop

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/martinemde/gitpilot/unifiedllm"
)

// CommandResult is what a handler reports for one call.
type CommandResult struct {
	Kind    CommandKind
	Success bool
	Stdout  string
	Stderr  string
	Error   string
}

// Output returns stdout and stderr joined, trailing whitespace removed.
func (r CommandResult) Output() string {
	return ExecResult{Stdout: r.Stdout, Stderr: r.Stderr}.Output()
}

// CommandHandler executes one call. Returning an error, or a result with
// Success false, produces a failure entry in the transcript.
type CommandHandler func(ctx context.Context, call CommandCall) (CommandResult, error)

// Batch is the outcome of dispatching one text block.
type Batch struct {
	Calls   []CommandCall
	Entries []Message
	Failed  int
}

// Found reports whether the text contained at least one command.
func (b Batch) Found() bool { return len(b.Calls) > 0 }

// labels name each kind in failure messages.
var labels = map[CommandKind]string{
	CommandPython:    "Python code",
	CommandTerminal:  "terminal command",
	CommandGitList:   "git list files",
	CommandGitRead:   "git get file contents",
	CommandGitWrite:  "git update file contents",
	CommandGitCommit: "git make commit",
}

// Dispatcher maps command kinds to handlers and records every result in the
// conversation.
type Dispatcher struct {
	handlers map[CommandKind]CommandHandler
	ordering Ordering
	logger   *zap.Logger
	mu       sync.RWMutex
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOrdering sets how calls of different kinds are sequenced.
func WithOrdering(o Ordering) DispatcherOption {
	return func(d *Dispatcher) { d.ordering = o }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher returns a dispatcher with no handlers registered.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[CommandKind]CommandHandler),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewCommandDispatcher wires the six standard commands to an execution
// environment and a repository. terminal controls how !terminal runs.
func NewCommandDispatcher(env ExecutionEnvironment, repo Repository, terminal ExecOptions, opts ...DispatcherOption) *Dispatcher {
	d := NewDispatcher(opts...)
	d.Register(CommandPython, PythonHandler(env))
	d.Register(CommandTerminal, TerminalHandler(env, terminal))
	d.Register(CommandGitList, ListFilesHandler(repo))
	d.Register(CommandGitRead, GetFileContentsHandler(repo))
	d.Register(CommandGitWrite, UpdateFileContentsHandler(repo))
	d.Register(CommandGitCommit, MakeCommitHandler(repo))
	return d
}

// Register adds or replaces the handler for kind.
func (d *Dispatcher) Register(kind CommandKind, handler CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

// Extract returns the calls in text using the dispatcher's ordering.
func (d *Dispatcher) Extract(text string) []CommandCall {
	return Extract(text, d.ordering)
}

// Dispatch runs every command in text and reports whether any was found.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *Conversation, text string) bool {
	return d.DispatchBatch(ctx, conv, text).Found()
}

// DispatchBatch extracts and executes the commands in text.
func (d *Dispatcher) DispatchBatch(ctx context.Context, conv *Conversation, text string) Batch {
	return d.Execute(ctx, conv, d.Extract(text))
}

// Execute runs calls sequentially and appends exactly one assistant entry per
// call. A failing call never stops the rest of the batch.
func (d *Dispatcher) Execute(ctx context.Context, conv *Conversation, calls []CommandCall) Batch {
	batch := Batch{Calls: calls}
	for _, call := range calls {
		content, ok := d.run(ctx, call)
		if !ok {
			batch.Failed++
		}
		conv.Append(unifiedllm.RoleAssistant, content)
		batch.Entries = append(batch.Entries, conv.Last())
	}
	return batch
}

func (d *Dispatcher) run(ctx context.Context, call CommandCall) (string, bool) {
	if call.Ambiguous {
		d.logger.Warn("conflicting command invocations", zap.String("kind", string(call.Kind)))
		return ambiguityMessage(call.Kind), false
	}

	d.mu.RLock()
	handler, ok := d.handlers[call.Kind]
	d.mu.RUnlock()
	if !ok {
		return failureMessage(call.Kind, fmt.Sprintf("no handler registered for %s", call.Kind)), false
	}

	d.logger.Debug("dispatching command", zap.String("kind", string(call.Kind)), zap.String("input", call.Input))
	result, err := d.invoke(ctx, handler, call)
	if err != nil {
		d.logger.Warn("command failed", zap.String("kind", string(call.Kind)), zap.String("input", call.Input), zap.Error(err))
		return failureMessage(call.Kind, err.Error()), false
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = result.Output()
		}
		if msg == "" {
			msg = "command failed"
		}
		d.logger.Warn("command failed", zap.String("kind", string(call.Kind)), zap.String("input", call.Input), zap.String("error", msg))
		return failureMessage(call.Kind, msg), false
	}
	return formatResult(call, result), true
}

func (d *Dispatcher) invoke(ctx context.Context, handler CommandHandler, call CommandCall) (result CommandResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command handler panicked", zap.String("kind", string(call.Kind)), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, call)
}

func failureMessage(kind CommandKind, msg string) string {
	return fmt.Sprintf("Error executing %s: %s", labels[kind], msg)
}

func ambiguityMessage(kind CommandKind) string {
	if kind == CommandGitCommit {
		return "Git make commit: unable to parse"
	}
	return "Git update file contents: unable to parse"
}

func formatResult(call CommandCall, result CommandResult) string {
	out := result.Output()
	switch call.Kind {
	case CommandPython:
		return fmt.Sprintf("Python: %s\nOutput: %s", call.Input, out)
	case CommandTerminal:
		return fmt.Sprintf("Terminal: %s\nOutput: %s", call.Input, out)
	case CommandGitList:
		return fmt.Sprintf("Git list files: %s\nOutput: %s", call.Args[0], out)
	case CommandGitRead:
		return fmt.Sprintf("Git get file contents: %s\nOutput: %s", call.Args[0], out)
	case CommandGitWrite:
		return fmt.Sprintf("Git update file contents: %s\nOutput: %s", call.Args[0], out)
	default:
		return fmt.Sprintf("Git make commit\nOutput: %s", out)
	}
}

// FormatListing renders a file list the way list results show it.
func FormatListing(paths []string) string {
	if len(paths) == 0 {
		return "(no files)"
	}
	return strings.Join(paths, "\n")
}

// PythonHandler evaluates fenced or inline python code.
func PythonHandler(env ExecutionEnvironment) CommandHandler {
	return func(ctx context.Context, call CommandCall) (CommandResult, error) {
		res, err := env.EvalPython(ctx, call.Args[0])
		if err != nil {
			return CommandResult{Kind: call.Kind}, err
		}
		out := CommandResult{Kind: call.Kind, Success: res.ExitCode == 0, Stdout: res.Stdout, Stderr: res.Stderr}
		if !out.Success {
			out.Error = strings.TrimSpace(res.Stderr)
			if out.Error == "" {
				out.Error = fmt.Sprintf("python exited with status %d", res.ExitCode)
			}
		}
		return out, nil
	}
}

// TerminalHandler runs a terminal command with the given options.
func TerminalHandler(env ExecutionEnvironment, opts ExecOptions) CommandHandler {
	return func(ctx context.Context, call CommandCall) (CommandResult, error) {
		res, err := env.ExecCommand(ctx, call.Input, opts)
		if err != nil {
			return CommandResult{Kind: call.Kind}, err
		}
		return CommandResult{Kind: call.Kind, Success: true, Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}
}

// ListFilesHandler lists repository files under a path.
func ListFilesHandler(repo Repository) CommandHandler {
	return func(ctx context.Context, call CommandCall) (CommandResult, error) {
		files, err := repo.ListFiles(call.Args[0])
		if err != nil {
			return CommandResult{Kind: call.Kind}, err
		}
		return CommandResult{Kind: call.Kind, Success: true, Stdout: FormatListing(files)}, nil
	}
}

// GetFileContentsHandler reads one repository file.
func GetFileContentsHandler(repo Repository) CommandHandler {
	return func(ctx context.Context, call CommandCall) (CommandResult, error) {
		content, found, err := repo.GetFileContents(call.Args[0])
		if err != nil {
			return CommandResult{Kind: call.Kind}, err
		}
		if !found {
			return CommandResult{Kind: call.Kind, Error: "file not found: " + call.Args[0]}, nil
		}
		return CommandResult{Kind: call.Kind, Success: true, Stdout: content}, nil
	}
}

// UpdateFileContentsHandler overwrites one repository file.
func UpdateFileContentsHandler(repo Repository) CommandHandler {
	return func(ctx context.Context, call CommandCall) (CommandResult, error) {
		path, content := call.Args[0], call.Args[1]
		if err := repo.UpdateFileContents(path, content); err != nil {
			return CommandResult{Kind: call.Kind}, err
		}
		return CommandResult{
			Kind:    call.Kind,
			Success: true,
			Stdout:  fmt.Sprintf("updated %s (%d bytes)", path, len(content)),
		}, nil
	}
}

// MakeCommitHandler stages, commits and pushes.
func MakeCommitHandler(repo Repository) CommandHandler {
	return func(ctx context.Context, call CommandCall) (CommandResult, error) {
		res, err := repo.MakeCommit(ctx, call.Args[0])
		if err != nil {
			return CommandResult{Kind: call.Kind}, err
		}
		return CommandResult{
			Kind:    call.Kind,
			Success: true,
			Stdout:  call.Args[0] + "\n" + res.String(),
		}, nil
	}
}
