package agentloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/gitpilot/unifiedllm"
)

// DefaultSystemPrompt describes the command micro-syntax to the model.
const DefaultSystemPrompt = `As a helpful assistant, I provide accurate answers and can execute commands to access information or make actions.

Commands supported:
1. !python <code> - Executes the Python 3 code either at the start of a code block or at the start of the response.
2. !terminal <command> - Executes single-line terminal commands.
3. !git_list_files <path> - Lists the files in the specified path using Git.
4. !git_get_file_contents <file_path> - Retrieves the contents of the specified file using Git.
5. !git_update_file_contents <file_path> <new_content> - Updates the file path to new content.
6. !git_make_commit <commit_message> - Add all changes, commit, and push to the origin repository.

Each command must start at the beginning of a line. Multi-line Python code or file contents go in a fenced block whose first line is the command. Code fences inside file contents need a language tag after the opening backticks. Only one file update and one commit can be issued per response.`

// BuildSystemPrompt appends an environment block to base.
func BuildSystemPrompt(base string, env ExecutionEnvironment, branch string) string {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", env.WorkingDirectory())
	if branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	sb.WriteString("</environment>")
	return sb.String()
}

// ExampleExchange is the few-shot exchange that follows the system prompt:
// the user asks for a listing, the assistant issues the command, sees the
// listing, and acknowledges it.
func ExampleExchange(listing string) []Message {
	return []Message{
		{Role: unifiedllm.RoleUser, Content: "can you get the list of files in current directory"},
		{Role: unifiedllm.RoleAssistant, Content: "!git_list_files ."},
		{Role: unifiedllm.RoleAssistant, Content: listing},
		{Role: unifiedllm.RoleAssistant, Content: "I have executed the command to list the files above."},
	}
}
