package agentloop

import (
	"context"
	"os/exec"
	"sort"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/martinemde/gitpilot/unifiedllm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

// fakeEnv is an ExecutionEnvironment that records calls and returns canned
// results.
type fakeEnv struct {
	mu       sync.Mutex
	commands []string
	code     []string

	execResult *ExecResult
	execErr    error
	onExec     func()
	pyResult   *ExecResult
	pyErr      error
}

func (f *fakeEnv) ExecCommand(_ context.Context, command string, _ ExecOptions) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.onExec != nil {
		f.onExec()
	}
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.execResult == nil {
		return &ExecResult{}, nil
	}
	return f.execResult, nil
}

func (f *fakeEnv) EvalPython(_ context.Context, code string) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code = append(f.code, code)
	if f.pyErr != nil {
		return nil, f.pyErr
	}
	if f.pyResult == nil {
		return &ExecResult{}, nil
	}
	return f.pyResult, nil
}

func (f *fakeEnv) WorkingDirectory() string { return "/work" }
func (f *fakeEnv) Platform() string         { return "linux" }
func (f *fakeEnv) OSVersion() string        { return "linux/amd64" }

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	files   map[string]string
	commits []string
	result  *CommitResult
	err     error
}

func newFakeRepo(files map[string]string) *fakeRepo {
	if files == nil {
		files = map[string]string{}
	}
	return &fakeRepo{files: files}
}

func (r *fakeRepo) ListFiles(string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []string
	for name := range r.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (r *fakeRepo) GetFileContents(path string) (string, bool, error) {
	if r.err != nil {
		return "", false, r.err
	}
	content, ok := r.files[path]
	return content, ok, nil
}

func (r *fakeRepo) UpdateFileContents(path, content string) error {
	if r.err != nil {
		return r.err
	}
	r.files[path] = content
	return nil
}

func (r *fakeRepo) MakeCommit(_ context.Context, message string) (*CommitResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.commits = append(r.commits, message)
	if r.result != nil {
		return r.result, nil
	}
	return &CommitResult{Hash: "0123456789abcdef", Branch: "main", Remote: "origin", Pushed: true}, nil
}

// scriptedGenerator replies from a fixed script and records every request.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests [][]unifiedllm.Message
}

func (g *scriptedGenerator) Generate(_ context.Context, messages []unifiedllm.Message, _ unifiedllm.GenerateParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.requests)
	g.requests = append(g.requests, messages)
	if n < len(g.errs) && g.errs[n] != nil {
		return "", g.errs[n]
	}
	if n < len(g.replies) {
		return g.replies[n], nil
	}
	if len(g.replies) > 0 {
		return g.replies[len(g.replies)-1], nil
	}
	return "", nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}
