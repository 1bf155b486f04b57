package agentloop

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/gitpilot/unifiedllm"
)

func TestDefaultSystemPromptNamesEveryCommand(t *testing.T) {
	for _, m := range markers {
		assert.Contains(t, DefaultSystemPrompt, m.prefix+" ")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt("base", &fakeEnv{}, "main")
	require.True(t, strings.HasPrefix(prompt, "base\n\n<environment>\n"))
	assert.Contains(t, prompt, "Working directory: /work\n")
	assert.Contains(t, prompt, "Git branch: main\n")
	assert.Contains(t, prompt, "Platform: linux\n")
	assert.True(t, strings.HasSuffix(prompt, "</environment>"))

	assert.NotContains(t, BuildSystemPrompt("base", &fakeEnv{}, ""), "Git branch")
}

func TestExampleExchangeIsNotACommandBatch(t *testing.T) {
	exchange := ExampleExchange("(no files)")
	require.Len(t, exchange, 4)
	assert.Equal(t, unifiedllm.RoleUser, exchange[0].Role)
	assert.Equal(t, []CommandKind{CommandGitList}, kinds(Extract(exchange[1].Content, OrderByKind)))
	assert.Empty(t, Extract(exchange[3].Content, OrderByKind))
}
