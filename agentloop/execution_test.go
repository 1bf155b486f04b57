package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCommandShell(t *testing.T) {
	requireBinary(t, "bash")
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	res, err := env.ExecCommand(context.Background(), "echo hello && pwd", ExecOptions{Shell: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0])

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(lines[1])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExecCommandArgv(t *testing.T) {
	requireBinary(t, "echo")
	env := NewLocalExecutionEnvironment(t.TempDir())

	res, err := env.ExecCommand(context.Background(), `echo 'a  b' c`, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a  b c\n", res.Stdout)

	_, err = env.ExecCommand(context.Background(), `echo "unclosed`, ExecOptions{})
	assert.Error(t, err)
}

func TestExecCommandExitStatus(t *testing.T) {
	requireBinary(t, "bash")
	env := NewLocalExecutionEnvironment(t.TempDir())

	res, err := env.ExecCommand(context.Background(), "echo oops >&2; exit 3", ExecOptions{Shell: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)

	res, err = env.ExecCommand(context.Background(), "echo oops >&2; exit 3", ExecOptions{Shell: true, RaiseOnError: true})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Result.ExitCode)
	assert.Equal(t, res, exitErr.Result)
	assert.Contains(t, err.Error(), "exited with status 3: oops")
}

func TestExecCommandTimeout(t *testing.T) {
	requireBinary(t, "bash")
	env := NewLocalExecutionEnvironment(t.TempDir())

	start := time.Now()
	_, err := env.ExecCommand(context.Background(), "sleep 10 & sleep 10; wait", ExecOptions{
		Shell:   true,
		Timeout: 200 * time.Millisecond,
	})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	assert.Equal(t, -1, timeoutErr.Result.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecCommandCanceled(t *testing.T) {
	requireBinary(t, "bash")
	env := NewLocalExecutionEnvironment(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := env.ExecCommand(ctx, "sleep 10", ExecOptions{Shell: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
}

func TestExecCommandEnvironment(t *testing.T) {
	requireBinary(t, "bash")
	t.Setenv("GITPILOT_TEST_API_KEY", "secret")
	t.Setenv("GITPILOT_TEST_PLAIN", "visible")
	env := NewLocalExecutionEnvironment(t.TempDir())

	res, err := env.ExecCommand(context.Background(),
		`echo "key=$GITPILOT_TEST_API_KEY plain=$GITPILOT_TEST_PLAIN extra=$EXTRA"`,
		ExecOptions{Shell: true, Env: map[string]string{"EXTRA": "1"}})
	require.NoError(t, err)
	assert.Equal(t, "key= plain=visible extra=1\n", res.Stdout)
}

func TestExecCommandStdin(t *testing.T) {
	requireBinary(t, "cat")
	env := NewLocalExecutionEnvironment(t.TempDir())

	res, err := env.ExecCommand(context.Background(), "cat", ExecOptions{Stdin: "piped"})
	require.NoError(t, err)
	assert.Equal(t, "piped", res.Stdout)
}

func TestFilterEnvironment(t *testing.T) {
	t.Setenv("SOME_SERVICE_TOKEN", "x")
	t.Setenv("SOME_PASSWORD", "x")
	t.Setenv("SOME_SETTING", "y")

	filtered := filterEnvironment()
	joined := "\n" + strings.Join(filtered, "\n") + "\n"
	assert.NotContains(t, joined, "\nSOME_SERVICE_TOKEN=")
	assert.NotContains(t, joined, "\nSOME_PASSWORD=")
	assert.Contains(t, joined, "\nSOME_SETTING=y\n")
	if os.Getenv("PATH") != "" {
		assert.Contains(t, joined, "\nPATH=")
	}
}

func TestEvalPython(t *testing.T) {
	requireBinary(t, "python3")
	env := NewLocalExecutionEnvironment(t.TempDir())

	res, err := env.EvalPython(context.Background(), "print(1+1)")
	require.NoError(t, err)
	assert.Equal(t, "2", res.Output())
	assert.Equal(t, 0, res.ExitCode)

	res, err = env.EvalPython(context.Background(), "import sys\nfor i in range(3):\n    print(i)\nsys.exit(4)")
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Equal(t, "0\n1\n2\n", res.Stdout)

	res, err = env.EvalPython(context.Background(), "print(undefined_name)")
	require.NoError(t, err)
	assert.NotZero(t, res.ExitCode)
	assert.Contains(t, res.Stderr, "NameError")
}

func TestEvalPythonTimeout(t *testing.T) {
	requireBinary(t, "python3")
	env := NewLocalExecutionEnvironment(t.TempDir(), WithPythonTimeout(200*time.Millisecond))

	_, err := env.EvalPython(context.Background(), "import time\ntime.sleep(10)")
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "python", timeoutErr.Command)
}

func TestEvalPythonMemoryLimit(t *testing.T) {
	requireBinary(t, "python3")
	requireBinary(t, "bash")
	env := NewLocalExecutionEnvironment(t.TempDir(), WithPythonMemoryLimit(1024))

	res, err := env.EvalPython(context.Background(), "print('ok')")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output())
}

func TestExecResultOutput(t *testing.T) {
	assert.Equal(t, "", ExecResult{}.Output())
	assert.Equal(t, "out", ExecResult{Stdout: "out\n\n"}.Output())
	assert.Equal(t, "err", ExecResult{Stderr: "err\n"}.Output())
	assert.Equal(t, "out\nerr", ExecResult{Stdout: "out\n", Stderr: "err\n"}.Output())
}
