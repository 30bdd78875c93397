package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nuvin-ai/nuvin/internal/agent"
	"github.com/nuvin-ai/nuvin/internal/config"
	"github.com/nuvin-ai/nuvin/internal/delegation"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

const defaultConfigPath = "nuvin.yaml"

// buildRunCmd creates the "run" command: one-shot or interactive
// conversations with the configured agent.
func buildRunCmd() *cobra.Command {
	var (
		configPath  string
		interactive bool
		model       string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a conversation with the agent",
		Long: `Run a conversation with the configured agent.

With a prompt argument the conversation is one-shot: the agent loops over
completions and tool executions until it produces a final answer, which is
printed to stdout. With --interactive a REPL is started instead; background
sub-agent sessions stay alive between turns.`,
		Example: `  # One-shot
  nuvin run "summarize the open issues"

  # Interactive session
  nuvin run -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				a.Close(closeCtx)
			}()

			agentCfg := &models.AgentConfig{
				ID:          "main",
				Model:       cfg.Provider.Model,
				Temperature: cfg.Provider.Temperature,
				TopP:        cfg.Provider.TopP,
			}
			if model != "" {
				agentCfg.Model = model
			}

			if interactive {
				return runInteractive(ctx, a, agentCfg)
			}
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return fmt.Errorf("prompt required (or use --interactive)")
			}
			return runOnce(ctx, a, agentCfg, prompt)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start an interactive session")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override the configured model")
	return cmd
}

func newExecContext(a *app, conversationID string) *agent.ExecContext {
	return &agent.ExecContext{
		ConversationID: conversationID,
		SessionID:      uuid.NewString(),
		AgentID:        "main",
		EnabledAgents:  a.cfg.EnabledAgents(),
		WorkingDir:     a.cfg.WorkingDir,
	}
}

func runOnce(ctx context.Context, a *app, agentCfg *models.AgentConfig, prompt string) error {
	execCtx := newExecContext(a, uuid.NewString())
	history := []*models.Message{{
		ID:             uuid.NewString(),
		ConversationID: execCtx.ConversationID,
		Role:           models.RoleUser,
		Content:        prompt,
		CreatedAt:      time.Now(),
	}}

	result, err := a.runner.Run(ctx, agentCfg, execCtx, history)
	if err != nil {
		return err
	}
	fmt.Println(result.Content)
	if result.StopReason != agent.StopCompleted {
		fmt.Fprintf(os.Stderr, "(run stopped: %s after %d iterations)\n", result.StopReason, result.Iterations)
	}
	return nil
}

func runInteractive(ctx context.Context, a *app, agentCfg *models.AgentConfig) error {
	conversationID := uuid.NewString()
	execCtx := newExecContext(a, conversationID)
	var history []*models.Message

	fmt.Println("nuvin interactive session. /agents lists specialists, /sessions lists background tasks, /quit exits.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return nil
		case line == "/agents":
			printAgents(a.delegation)
			continue
		case line == "/sessions":
			printSessions(a.delegation)
			continue
		}

		history = append(history, &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           models.RoleUser,
			Content:        line,
			CreatedAt:      time.Now(),
		})

		result, err := a.runner.Run(ctx, agentCfg, execCtx, history)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		history = result.Messages
		fmt.Println(result.Content)
	}
}

// buildAgentsCmd creates the "agents" command listing the specialist
// catalog.
func buildAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the specialist agent catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			if cfg.Delegation.CatalogPath == "" {
				fmt.Println("no agent catalog configured (delegation.catalog_path)")
				return nil
			}
			catalog, err := delegation.LoadCatalog(cfg.Delegation.CatalogPath)
			if err != nil {
				return err
			}
			for _, def := range catalog.List() {
				fmt.Printf("%-20s %-12s %s\n", def.ID, def.Type, def.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildSessionsCmd creates the "sessions" command. Background sessions are
// tracked in-process, so outside an interactive run this reports an empty
// registry.
func buildSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List background sub-agent sessions for this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			printSessions(a.delegation)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func printAgents(service *delegation.Service) {
	if service == nil {
		fmt.Println("delegation is not configured")
		return
	}
	for _, def := range service.Catalog().List() {
		fmt.Printf("%-20s %-12s %s\n", def.ID, def.Type, def.Description)
	}
}

func printSessions(service *delegation.Service) {
	if service == nil {
		fmt.Println("delegation is not configured")
		return
	}
	infos := service.Registry().List()
	if len(infos) == 0 {
		fmt.Println("no background sessions")
		return
	}
	for _, info := range infos {
		fmt.Printf("%s  %-12s %-10s started %s\n", info.ID, info.AgentID, info.State, info.CreatedAt.Format(time.RFC3339))
	}
}
