package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
)

// ExecResult holds the result of a subprocess run.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr with trailing whitespace removed.
func (r ExecResult) Output() string {
	stdout := strings.TrimRight(r.Stdout, " \t\r\n")
	stderr := strings.TrimRight(r.Stderr, " \t\r\n")
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}

// ExitError reports a command that exited non-zero while RaiseOnError was set.
type ExitError struct {
	Command string
	Result  *ExecResult
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// TimeoutError reports a command whose process group was killed after its
// timeout elapsed.
type TimeoutError struct {
	Command string
	Timeout time.Duration
	Result  *ExecResult
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// ExecOptions controls a single ExecCommand call.
type ExecOptions struct {
	Shell        bool          // run through the shell instead of splitting into argv
	Timeout      time.Duration // zero means no timeout
	RaiseOnError bool          // return *ExitError on a non-zero exit
	Stdin        string
	Env          map[string]string
}

// ExecutionEnvironment abstracts where python and terminal commands run.
type ExecutionEnvironment interface {
	ExecCommand(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error)
	EvalPython(ctx context.Context, code string) (*ExecResult, error)

	WorkingDirectory() string
	Platform() string
	OSVersion() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that should be excluded by default.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"PYENV_ROOT": true, "VIRTUAL_ENV": true, "CONDA_PREFIX": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment without credentials.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalExecutionEnvironment runs commands as child processes of gitpilot.
// Python code runs in a separate interpreter process; this is not a sandbox.
type LocalExecutionEnvironment struct {
	workingDir    string
	python        string
	pythonTimeout time.Duration
	pythonMemMB   int
	platform      string
	osVersion     string
}

// EnvironmentOption configures a LocalExecutionEnvironment.
type EnvironmentOption func(*LocalExecutionEnvironment)

// WithPython sets the interpreter used by EvalPython.
func WithPython(path string) EnvironmentOption {
	return func(e *LocalExecutionEnvironment) { e.python = path }
}

// WithPythonTimeout bounds each EvalPython call.
func WithPythonTimeout(d time.Duration) EnvironmentOption {
	return func(e *LocalExecutionEnvironment) { e.pythonTimeout = d }
}

// WithPythonMemoryLimit caps the interpreter's virtual memory in megabytes.
// Zero disables the cap.
func WithPythonMemoryLimit(mb int) EnvironmentOption {
	return func(e *LocalExecutionEnvironment) { e.pythonMemMB = mb }
}

// NewLocalExecutionEnvironment creates a local execution environment rooted
// at workingDir.
func NewLocalExecutionEnvironment(workingDir string, opts ...EnvironmentOption) *LocalExecutionEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	e := &LocalExecutionEnvironment{
		workingDir:    workingDir,
		python:        "python3",
		pythonTimeout: 30 * time.Second,
		platform:      runtime.GOOS,
		osVersion:     runtime.GOOS + "/" + runtime.GOARCH,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LocalExecutionEnvironment) WorkingDirectory() string {
	return e.workingDir
}

func (e *LocalExecutionEnvironment) Platform() string {
	return e.platform
}

func (e *LocalExecutionEnvironment) OSVersion() string {
	return e.osVersion
}

// ExecCommand runs command in the working directory. With opts.Shell the
// command goes to bash -c; otherwise it is split into argv with shell quoting
// rules and run directly.
func (e *LocalExecutionEnvironment) ExecCommand(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	var argv []string
	if opts.Shell {
		argv = []string{"/bin/bash", "-c", command}
		if runtime.GOOS == "windows" {
			argv = []string{"cmd.exe", "/c", command}
		}
	} else {
		words, err := shellwords.Parse(command)
		if err != nil {
			return nil, fmt.Errorf("exec_command: parse %q: %w", command, err)
		}
		if len(words) == 0 {
			return nil, fmt.Errorf("exec_command: empty command")
		}
		argv = words
	}
	return e.run(ctx, command, argv, opts)
}

// EvalPython runs code in a fresh isolated-mode interpreter, passing the
// source on stdin. A non-zero exit is reported through ExitCode, not as an
// error; only timeouts and start failures return an error.
func (e *LocalExecutionEnvironment) EvalPython(ctx context.Context, code string) (*ExecResult, error) {
	argv := []string{e.python, "-I", "-"}
	if e.pythonMemMB > 0 && runtime.GOOS != "windows" {
		if bash, err := exec.LookPath("bash"); err == nil {
			limit := strconv.Itoa(e.pythonMemMB * 1024)
			argv = []string{bash, "-c", `ulimit -v ` + limit + ` && exec "$0" -I -`, e.python}
		}
	}
	return e.run(ctx, "python", argv, ExecOptions{
		Timeout: e.pythonTimeout,
		Stdin:   code,
	})
}

func (e *LocalExecutionEnvironment) run(ctx context.Context, label string, argv []string, opts ExecOptions) (*ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.workingDir

	// Own process group so the whole tree can be killed on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	env := filterEnvironment()
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.ExitCode = -1
			if errors.Is(ctxErr, context.DeadlineExceeded) && opts.Timeout > 0 {
				return result, &TimeoutError{Command: label, Timeout: opts.Timeout, Result: result}
			}
			return result, fmt.Errorf("exec_command: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec_command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
		if opts.RaiseOnError {
			return result, &ExitError{Command: label, Result: result}
		}
	}
	return result, nil
}
