package agentloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func initRepository(t *testing.T, opts ...RepositoryOption) (*GitRepository, string) {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	repo, err := OpenRepository(dir, opts...)
	require.NoError(t, err)
	return repo, dir
}

func TestRepositoryReadWrite(t *testing.T) {
	repo, dir := initRepository(t)

	require.NoError(t, repo.UpdateFileContents("docs/readme.md", "# hello\n"))
	data, err := os.ReadFile(filepath.Join(dir, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "# hello\n", string(data))

	content, found, err := repo.GetFileContents("docs/readme.md")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "# hello\n", content)

	content, found, err = repo.GetFileContents("./docs/../docs/readme.md")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "# hello\n", content)

	_, found, err = repo.GetFileContents("missing.txt")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.UpdateFileContents("docs/readme.md", "replaced"))
	content, _, err = repo.GetFileContents("docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "replaced", content)
}

func TestRepositoryRejectsEscapingPaths(t *testing.T) {
	repo, _ := initRepository(t)

	for _, p := range []string{"../outside.txt", "a/../../outside.txt", ".."} {
		_, _, err := repo.GetFileContents(p)
		assert.ErrorIs(t, err, ErrPathOutsideRepository, p)
		assert.ErrorIs(t, repo.UpdateFileContents(p, "x"), ErrPathOutsideRepository, p)
	}
	_, err := repo.ListFiles("../")
	assert.ErrorIs(t, err, ErrPathOutsideRepository)

	assert.Error(t, repo.UpdateFileContents(".", "x"))
}

func TestRepositoryListFiles(t *testing.T) {
	repo, _ := initRepository(t)

	files, err := repo.ListFiles(".")
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, repo.UpdateFileContents("main.go", "package main"))
	require.NoError(t, repo.UpdateFileContents("pkg/a.go", "package pkg"))
	require.NoError(t, repo.UpdateFileContents("pkg/sub/b.go", "package sub"))
	require.NoError(t, repo.UpdateFileContents("pkgextra/c.go", "package pkgextra"))
	require.NoError(t, repo.UpdateFileContents(".gitignore", "*.log\n"))
	require.NoError(t, repo.UpdateFileContents("debug.log", "noise"))

	files, err = repo.ListFiles(".")
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "main.go", "pkg/a.go", "pkg/sub/b.go", "pkgextra/c.go"}, files)

	files, err = repo.ListFiles("pkg")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/a.go", "pkg/sub/b.go"}, files)

	_, err = repo.MakeCommit(context.Background(), "initial")
	require.NoError(t, err)

	files, err = repo.ListFiles("pkg/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/a.go", "pkg/sub/b.go"}, files, "committed files are still listed")
}

func TestRepositoryCommitWithoutRemote(t *testing.T) {
	repo, _ := initRepository(t, WithAuthor("Test", "test@example.com"))
	assert.Equal(t, "", repo.Branch())

	require.NoError(t, repo.UpdateFileContents("a.txt", "one"))
	res, err := repo.MakeCommit(context.Background(), "add a")
	require.NoError(t, err)
	assert.False(t, res.Empty)
	assert.NotEmpty(t, res.Hash)
	assert.False(t, res.Pushed)
	assert.Equal(t, `remote "origin" is not configured`, res.PushNote)
	assert.Equal(t, "master", res.Branch)
	assert.Equal(t, "master", repo.Branch())

	head, err := repo.repo.Head()
	require.NoError(t, err)
	commit, err := repo.repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "add a", commit.Message)
	assert.Equal(t, "Test", commit.Author.Name)
	assert.Equal(t, "test@example.com", commit.Author.Email)

	res, err = repo.MakeCommit(context.Background(), "nothing")
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Equal(t, "nothing to commit, working tree clean", res.String())
}

func TestRepositoryCommitPushes(t *testing.T) {
	requireBinary(t, "git-receive-pack")
	remoteDir := t.TempDir()
	_, err := git.PlainInit(remoteDir, true)
	require.NoError(t, err)

	repo, _ := initRepository(t)
	_, err = repo.repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateFileContents("a.txt", "one"))
	res, err := repo.MakeCommit(context.Background(), "add a")
	require.NoError(t, err)
	assert.True(t, res.Pushed)
	assert.False(t, res.UpToDate)
	assert.Contains(t, res.String(), "pushed to origin")

	remote, err := git.PlainOpen(remoteDir)
	require.NoError(t, err)
	ref, err := remote.Reference("refs/heads/master", true)
	require.NoError(t, err)
	assert.Equal(t, res.Hash, ref.Hash().String())
}

func TestCloneExistingPathOpensIt(t *testing.T) {
	_, dir := initRepository(t)
	core, logs := observer.New(zapcore.WarnLevel)

	repo, err := Clone(context.Background(), "https://example.invalid/repo.git", dir, WithRepositoryLogger(zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("repository path already exists, skipping clone").Len())

	require.NoError(t, repo.UpdateFileContents("a.txt", "x"))
	_, found, err := repo.GetFileContents("a.txt")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCloneLocalRepository(t *testing.T) {
	requireBinary(t, "git-upload-pack")
	source, _ := initRepository(t)
	require.NoError(t, source.UpdateFileContents("README.md", "hi"))
	_, err := source.MakeCommit(context.Background(), "initial")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "clone")
	repo, err := Clone(context.Background(), source.Root(), dest)
	require.NoError(t, err)

	content, found, err := repo.GetFileContents("README.md")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hi", content)
}

func TestCommitResultString(t *testing.T) {
	tests := []struct {
		res  CommitResult
		want string
	}{
		{CommitResult{Empty: true}, "nothing to commit, working tree clean"},
		{CommitResult{Hash: "abcdef0123", Branch: "main", Remote: "origin", Pushed: true}, "committed abcdef0 on main; pushed to origin"},
		{CommitResult{Hash: "abcdef0123", Branch: "main", Remote: "origin", Pushed: true, UpToDate: true}, "committed abcdef0 on main; origin already up to date"},
		{CommitResult{Hash: "abc", Branch: "dev", PushNote: "no remote"}, "committed abc on dev; push skipped: no remote"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.res.String())
	}
}
