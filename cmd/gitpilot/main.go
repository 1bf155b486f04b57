// Command gitpilot is a terminal assistant that lets a language model read,
// edit and commit files in a git repository and run python and shell
// commands on the user's behalf.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/gitpilot/agentloop"
	"github.com/martinemde/gitpilot/config"
	"github.com/martinemde/gitpilot/logging"
	"github.com/martinemde/gitpilot/unifiedllm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second signal terminates immediately.
		<-ctx.Done()
		stop()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "gitpilot:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gitpilot",
		Short: "Chat with a model that can run commands in your repository",
		Long: `gitpilot starts an interactive session with a language model.

Replies may contain commands, one per line, which gitpilot runs and feeds
back to the model:

  !python <code>
  !terminal <command>
  !git_list_files <path>
  !git_get_file_contents <file_path>
  !git_update_file_contents <file_path> <content>
  !git_make_commit <message>

You may type these commands yourself as well. Type "exit" to quit.
Configuration is read from the environment and an optional .env file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), os.Stdout)
		},
	}
}

func run(ctx context.Context, cfg config.Config, in io.Reader, out *os.File) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	model := resolveModel(cfg.LLM.Provider, cfg.LLM.Model)
	client, err := newClient(cfg.LLM, model, logger.Named("llm"))
	if err != nil {
		return err
	}
	defer client.Close()

	params := unifiedllm.GenerateParams{
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	policy := unifiedllm.DefaultRetryPolicy()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model call", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	gen := unifiedllm.NewTextGenerator(client, model,
		unifiedllm.WithGeneratorProvider(cfg.LLM.Provider),
		unifiedllm.WithRetryPolicy(policy),
	)

	repo, err := openRepository(ctx, cfg.Repository, logger.Named("repo"))
	if err != nil {
		return err
	}

	env := agentloop.NewLocalExecutionEnvironment(repo.Root(),
		agentloop.WithPython(cfg.Execution.Python),
		agentloop.WithPythonTimeout(cfg.Execution.PythonTimeout),
		agentloop.WithPythonMemoryLimit(cfg.Execution.PythonMemoryMB),
	)
	order, err := agentloop.ParseOrdering(cfg.Session.CommandOrder)
	if err != nil {
		return err
	}
	dispatcher := agentloop.NewCommandDispatcher(env, repo,
		agentloop.ExecOptions{
			Shell:        cfg.Execution.TerminalShell,
			Timeout:      cfg.Execution.CommandTimeout,
			RaiseOnError: true,
		},
		agentloop.WithOrdering(order),
		agentloop.WithDispatcherLogger(logger.Named("dispatch")),
	)

	compactor, err := agentloop.ParseCompactor(cfg.Session.Compaction, gen, params,
		cfg.Session.CompactionThreshold, logger.Named("compaction"))
	if err != nil {
		return err
	}

	files, err := repo.ListFiles(".")
	if err != nil {
		return fmt.Errorf("list repository files: %w", err)
	}
	prompt := agentloop.BuildSystemPrompt(agentloop.DefaultSystemPrompt, env, repo.Branch())
	conv := agentloop.NewConversation(prompt, agentloop.ExampleExchange(agentloop.FormatListing(files))...)

	sessionCfg := agentloop.DefaultSessionConfig()
	sessionCfg.MaxCommandRounds = cfg.Session.MaxCommandRounds
	sessionCfg.Params = params
	session := agentloop.NewSession(conv, gen, dispatcher, &sessionCfg,
		agentloop.WithCompactor(compactor),
		agentloop.WithTranscript(newTranscript(out)),
		agentloop.WithSessionLogger(logger.Named("session")),
	)

	logger.Info("session started",
		zap.String("session", session.ID()),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", model),
		zap.String("repository", repo.Root()),
		zap.String("branch", repo.Branch()),
	)

	err = session.Run(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveModel maps aliases to catalog ids and swaps a model that belongs to
// another provider for that provider's preferred model of similar size.
func resolveModel(provider, model string) string {
	info := unifiedllm.GetModelInfo(model)
	if info == nil {
		return model
	}
	if info.Provider == provider {
		return info.ID
	}
	if latest := unifiedllm.GetLatestModel(provider, info.ID); latest != nil {
		return latest.ID
	}
	return model
}

func newClient(cfg config.LLMConfig, model string, logger *zap.Logger) (*unifiedllm.Client, error) {
	var adapter unifiedllm.ProviderAdapter
	if cfg.Provider == "openai" {
		adapter = unifiedllm.NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, model)
	} else {
		a, err := unifiedllm.NewGollmAdapter(cfg.Provider, cfg.APIKey,
			unifiedllm.WithModel(model),
			unifiedllm.WithMaxTokens(cfg.MaxTokens),
			unifiedllm.WithTemperature(cfg.Temperature),
		)
		if err != nil {
			return nil, err
		}
		adapter = a
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Provider),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
	), nil
}

func openRepository(ctx context.Context, cfg config.RepositoryConfig, logger *zap.Logger) (*agentloop.GitRepository, error) {
	opts := []agentloop.RepositoryOption{
		agentloop.WithRemote(cfg.Remote),
		agentloop.WithToken(cfg.Token),
		agentloop.WithAuthor(cfg.AuthorName, cfg.AuthorEmail),
		agentloop.WithRepositoryLogger(logger),
	}
	if cfg.URL != "" {
		return agentloop.Clone(ctx, cfg.URL, cfg.Path, opts...)
	}
	return agentloop.OpenRepository(cfg.Path, opts...)
}
