// Package agentloop runs gitpilot's conversation loop.
//
// A model reply is free text that may contain command invocations, one per
// line starting at column zero:
//
//	!python <code>
//	!terminal <command>
//	!git_list_files <path>
//	!git_get_file_contents <file_path>
//	!git_update_file_contents <file_path> <content>
//	!git_make_commit <message>
//
// Python code and file contents may also span a fenced block whose first
// line is the command.
//
// # Architecture
//
//   - Lex and Extract turn text into an ordered list of CommandCall values.
//   - Dispatcher runs each call through a handler and appends one assistant
//     entry per call to the Conversation.
//   - ExecutionEnvironment runs python and terminal commands as child
//     processes; Repository reads, writes and commits through go-git.
//   - Compactor shrinks bulky command output entries after each turn.
//   - Session is the state machine tying these together.
//
// # Quick Start
//
//	env := agentloop.NewLocalExecutionEnvironment(repo.Root())
//	d := agentloop.NewCommandDispatcher(env, repo, agentloop.ExecOptions{Shell: true, RaiseOnError: true})
//	conv := agentloop.NewConversation(agentloop.DefaultSystemPrompt)
//	session := agentloop.NewSession(conv, generator, d, nil,
//	    agentloop.WithTranscript(agentloop.NewPlainTranscript(os.Stdout)))
//	err := session.Run(ctx, os.Stdin)
//
// Python evaluation is not sandboxed. Code runs in a separate interpreter
// process with a timeout and an optional memory cap, under the user's
// account, with credentials filtered from its environment.
package agentloop
