package agentloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// Repository is the version-control accessor behind the git commands.
type Repository interface {
	ListFiles(path string) ([]string, error)
	GetFileContents(path string) (content string, found bool, err error)
	UpdateFileContents(path, content string) error
	MakeCommit(ctx context.Context, message string) (*CommitResult, error)
}

// CommitResult describes what MakeCommit did.
type CommitResult struct {
	Hash     string
	Branch   string
	Remote   string
	Pushed   bool
	UpToDate bool
	Empty    bool   // nothing was staged, no commit created
	PushNote string // why the push was skipped, if it was
}

func (r *CommitResult) String() string {
	if r.Empty {
		return "nothing to commit, working tree clean"
	}
	short := r.Hash
	if len(short) > 7 {
		short = short[:7]
	}
	s := fmt.Sprintf("committed %s on %s", short, r.Branch)
	switch {
	case r.Pushed && r.UpToDate:
		s += fmt.Sprintf("; %s already up to date", r.Remote)
	case r.Pushed:
		s += fmt.Sprintf("; pushed to %s", r.Remote)
	case r.PushNote != "":
		s += "; push skipped: " + r.PushNote
	}
	return s
}

// ErrPathOutsideRepository is returned for paths that escape the worktree.
var ErrPathOutsideRepository = errors.New("path is outside the repository")

// GitRepository implements Repository on a go-git worktree.
type GitRepository struct {
	repo   *git.Repository
	fs     billy.Filesystem
	root   string
	remote string
	auth   transport.AuthMethod
	name   string
	email  string
	logger *zap.Logger
}

// RepositoryOption configures a GitRepository.
type RepositoryOption func(*GitRepository)

// WithRemote sets the remote MakeCommit pushes to. Default "origin".
func WithRemote(name string) RepositoryOption {
	return func(r *GitRepository) { r.remote = name }
}

// WithToken authenticates clone and push over HTTPS.
func WithToken(token string) RepositoryOption {
	return func(r *GitRepository) {
		if token != "" {
			r.auth = &githttp.BasicAuth{Username: "gitpilot", Password: token}
		}
	}
}

// WithAuthor sets the commit author. Empty values fall back to defaults.
func WithAuthor(name, email string) RepositoryOption {
	return func(r *GitRepository) {
		if name != "" {
			r.name = name
		}
		if email != "" {
			r.email = email
		}
	}
}

// WithRepositoryLogger sets the logger.
func WithRepositoryLogger(logger *zap.Logger) RepositoryOption {
	return func(r *GitRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func newGitRepository(opts []RepositoryOption) *GitRepository {
	r := &GitRepository{
		remote: "origin",
		name:   "gitpilot",
		email:  "gitpilot@localhost",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clone clones url into localPath. When localPath already exists the clone
// is skipped with a warning and the existing repository is opened.
func Clone(ctx context.Context, url, localPath string, opts ...RepositoryOption) (*GitRepository, error) {
	r := newGitRepository(opts)
	if _, err := os.Stat(localPath); err == nil {
		r.logger.Warn("repository path already exists, skipping clone",
			zap.String("path", localPath), zap.String("url", url))
		return r.open(localPath)
	}

	r.logger.Info("cloning repository", zap.String("url", url), zap.String("path", localPath))
	repo, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
		URL:  url,
		Auth: r.auth,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}
	return r.attach(repo)
}

// OpenRepository opens the repository containing localPath.
func OpenRepository(localPath string, opts ...RepositoryOption) (*GitRepository, error) {
	return newGitRepository(opts).open(localPath)
}

func (r *GitRepository) open(localPath string) (*GitRepository, error) {
	repo, err := git.PlainOpenWithOptions(localPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", localPath, err)
	}
	return r.attach(repo)
}

func (r *GitRepository) attach(repo *git.Repository) (*GitRepository, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	r.repo = repo
	r.fs = wt.Filesystem
	r.root = wt.Filesystem.Root()
	return r, nil
}

// Root returns the worktree root directory.
func (r *GitRepository) Root() string { return r.root }

// Branch returns the short name of the checked-out branch, or "" when HEAD
// is unborn or detached.
func (r *GitRepository) Branch() string {
	head, err := r.repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// cleanPath converts a model-supplied path into a slash-separated path
// relative to the worktree root.
func (r *GitRepository) cleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p, ErrPathOutsideRepository)
		}
		p = rel
	}
	cleaned := path.Clean(filepath.ToSlash(p))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("%s: %w", p, ErrPathOutsideRepository)
	}
	return cleaned, nil
}

// ListFiles returns tracked and untracked (non-ignored) files under dir,
// sorted, relative to the repository root.
func (r *GitRepository) ListFiles(dir string) ([]string, error) {
	prefix, err := r.cleanPath(dir)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	for _, e := range idx.Entries {
		seen[e.Name] = true
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	for name, st := range status {
		if st.Worktree == git.Untracked {
			seen[name] = true
		}
	}

	var files []string
	for name := range seen {
		if prefix == "." || name == prefix || strings.HasPrefix(name, prefix+"/") {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}

// GetFileContents reads a file from the worktree. A missing file returns
// found == false and no error.
func (r *GitRepository) GetFileContents(p string) (string, bool, error) {
	name, err := r.cleanPath(p)
	if err != nil {
		return "", false, err
	}
	data, err := util.ReadFile(r.fs, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), true, nil
}

// UpdateFileContents writes content to a worktree file, creating parent
// directories as needed.
func (r *GitRepository) UpdateFileContents(p, content string) error {
	name, err := r.cleanPath(p)
	if err != nil {
		return err
	}
	if name == "." {
		return fmt.Errorf("update %q: not a file path", p)
	}
	if dir := path.Dir(name); dir != "." {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := util.WriteFile(r.fs, name, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// MakeCommit stages every change, commits, and pushes to the configured
// remote. A repository without that remote still gets the commit; the result
// records why nothing was pushed.
func (r *GitRepository) MakeCommit(ctx context.Context, message string) (*CommitResult, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: r.name, Email: r.email, When: time.Now()},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return &CommitResult{Empty: true, Branch: r.Branch(), Remote: r.remote}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	result := &CommitResult{Hash: hash.String(), Branch: r.Branch(), Remote: r.remote}
	r.logger.Info("created commit", zap.String("hash", result.Hash), zap.String("branch", result.Branch))

	if _, err := r.repo.Remote(r.remote); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			result.PushNote = fmt.Sprintf("remote %q is not configured", r.remote)
			return result, nil
		}
		return result, fmt.Errorf("look up remote %s: %w", r.remote, err)
	}

	err = r.repo.PushContext(ctx, &git.PushOptions{RemoteName: r.remote, Auth: r.auth})
	switch {
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		result.Pushed, result.UpToDate = true, true
	case err != nil:
		return result, fmt.Errorf("push to %s: %w", r.remote, err)
	default:
		result.Pushed = true
	}
	return result, nil
}
