package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/taskmind/pkg/agent"
	"github.com/dotsetgreg/taskmind/pkg/config"
	"github.com/dotsetgreg/taskmind/pkg/extract"
	"github.com/dotsetgreg/taskmind/pkg/gateway"
	"github.com/dotsetgreg/taskmind/pkg/logger"
	"github.com/dotsetgreg/taskmind/pkg/metrics"
	"github.com/dotsetgreg/taskmind/pkg/providers"
	"github.com/dotsetgreg/taskmind/pkg/reminder"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

const appName = "taskmind"

var (
	version   = "dev"
	gitCommit string
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   appName,
		Short: "Task-focused assistant with long-term memory",
		Long: strings.TrimSpace(`taskmind is a conversational assistant that keeps three kinds of
long-term memory per user: a profile, a todo list, and preferences for
how the todo list should be managed.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newVersionCommand())
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taskmind.json"
	}
	return filepath.Join(home, ".taskmind", "config.json")
}

// runtimeStack is everything a command needs wired together.
type runtimeStack struct {
	cfg      *config.Config
	store    store.Store
	loop     *agent.Loop
	sessions *agent.SessionStore
	metrics  *metrics.Aggregator
}

func buildStack(configPath string) (*runtimeStack, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)

	var st store.Store
	if cfg.Store.Path == "memory" {
		st = store.NewMemStore()
	} else {
		path := cfg.StorePath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		st, err = store.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	provider := providers.NewAnthropicProvider(cfg.Provider.APIKey, cfg.Provider.Model)
	extractor := extract.New(provider, cfg.Agent.Model)
	agg := metrics.NewAggregator()
	loop := agent.NewLoop(st, provider, extractor, agg, agent.Config{
		Model:               cfg.Agent.Model,
		RoleDescription:     cfg.Agent.RoleDescription,
		Qualifier:           cfg.Agent.Qualifier,
		MaxUpdateIterations: cfg.Agent.MaxUpdateIterations,
		TodoBlockLimit:      cfg.Agent.TodoBlockLimit,
	})

	return &runtimeStack{
		cfg:      cfg,
		store:    st,
		loop:     loop,
		sessions: agent.NewSessionStore(),
		metrics:  agg,
	}, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP gateway",
		Example: "  taskmind serve\n  taskmind serve --config ./taskmind.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack(*configPath)
			if err != nil {
				return err
			}
			defer stack.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if stack.cfg.Reminder.Enabled {
				lister, ok := stack.store.(store.NamespaceLister)
				if !ok {
					return fmt.Errorf("configured store cannot enumerate namespaces")
				}
				sweeper, err := reminder.New(lister, stack.cfg.Reminder.Cron)
				if err != nil {
					return err
				}
				go func() {
					if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
						logger.ErrorCF("main", "reminder stopped", map[string]interface{}{
							"error": err.Error(),
						})
					}
				}()
			}

			gw := gateway.New(stack.loop, stack.sessions, stack.store, stack.metrics, stack.cfg.Agent.Qualifier)
			addr := fmt.Sprintf("%s:%d", stack.cfg.Gateway.Host, stack.cfg.Gateway.Port)
			return gw.Serve(ctx, addr)
		},
	}
}

func newChatCommand(configPath *string) *cobra.Command {
	var (
		userID  string
		message string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant from the terminal",
		Example: strings.Join([]string{
			"  taskmind chat",
			"  taskmind chat --user asis",
			"  taskmind chat --message \"add buy milk to my list\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack(*configPath)
			if err != nil {
				return err
			}
			defer stack.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			// One session per invocation; the REPL keeps continuity
			// within the run.
			sessionID := uuid.NewString()

			if strings.TrimSpace(message) != "" {
				reply, err := runTurn(ctx, stack, userID, sessionID, message)
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			}
			return runREPL(ctx, stack, userID, sessionID)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User id owning the memories")
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message instead of interactive mode")
	return cmd
}

func runTurn(ctx context.Context, stack *runtimeStack, userID, sessionID, message string) (string, error) {
	msgs := append(stack.sessions.History(sessionID), providers.Message{Role: "user", Content: message})
	result, err := stack.loop.Process(ctx, userID, msgs)
	if err != nil {
		return "", err
	}
	stack.sessions.Replace(sessionID, result.Messages)
	return result.Reply, nil
}

func runREPL(ctx context.Context, stack *runtimeStack, userID, sessionID string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".taskmind_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Type a message, or /quit to exit.")
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			fmt.Println("Goodbye!")
			return nil
		}

		reply, err := runTurn(ctx, stack, userID, sessionID, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", reply)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (git: %s)", gitCommit)
			}
			fmt.Printf("%s %s\n", appName, v)
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	}
}
