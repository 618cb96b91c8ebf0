package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"parley/backend"
	"parley/config"
	"parley/storage"
	"parley/ui"
)

const version = "1.0.0"

func main() {
	var chatID string

	root := &cobra.Command{
		Use:     "parley",
		Short:   "Parley - terminal AI chat with tool calling",
		Long:    "Parley is a terminal AI-chat client. It streams responses from ollama, OpenAI-compatible, OpenRouter, and Anthropic endpoints, and calls tools on MCP servers behind a per-workspace permission policy.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(chatID)
		},
	}
	root.Flags().StringVar(&chatID, "chat", "", "chat thread id to resume (default: last open chat)")

	root.AddCommand(connectionsCommand())
	root.AddCommand(searchCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(chatID string) error {
	cfg, chats, connections, workspaces, err := setup()
	if err != nil {
		return err
	}
	defer connections.Close()

	// Single-instance enforcement: concurrent processes would race on the
	// chat files and the sqlite store.
	locked, pid, err := chats.CheckInstanceLock()
	if err != nil {
		return fmt.Errorf("failed to check instance lock: %w", err)
	}
	if locked {
		return fmt.Errorf("another parley instance is already running (PID %d)", pid)
	}
	if err := chats.LockInstance(); err != nil {
		return fmt.Errorf("failed to lock instance: %w", err)
	}
	defer func() {
		if err := chats.UnlockInstance(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("Warning: failed to unlock instance: %v", err)
		}
	}()

	local := backend.New(cfg, chats, connections, workspaces)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	local.StartToolServers(startCtx)
	cancel()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := local.Shutdown(ctx); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("Warning: backend shutdown: %v", err)
		}
	}()

	if chatID == "" {
		chatID, _ = chats.LoadCurrentChatID()
	}

	p := tea.NewProgram(
		ui.NewApp(cfg, local, chats, chatID),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run parley: %w", err)
	}
	return nil
}

// setup loads config, unlocks credentials, and opens the storage layers.
func setup() (*config.Config, *storage.ChatStorage, *storage.ConnectionStorage, *storage.WorkspaceStorage, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.InitDebugLog(cfg.DataDir())

	if cfg.SecurityMethod == config.SecuritySSHKey {
		if err := unlockCredentials(cfg); err != nil {
			return nil, nil, nil, nil, err
		}
	}

	chats, err := storage.NewChatStorage(cfg.DataDir())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize chat storage: %w", err)
	}
	connections, err := storage.NewConnectionStorage(cfg.DataDir())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize connection storage: %w", err)
	}
	workspaces, err := storage.NewWorkspaceStorage(cfg.DataDir())
	if err != nil {
		connections.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize workspace storage: %w", err)
	}
	return cfg, chats, connections, workspaces, nil
}

// unlockCredentials opens an SSH-encrypted credential store, prompting for
// the key passphrase only when the key itself is encrypted.
func unlockCredentials(cfg *config.Config) error {
	if err := cfg.UnlockCredentials(""); err == nil {
		return nil
	}

	fmt.Printf("Passphrase for %s: ", cfg.SSHKeyPath)
	reader := bufio.NewReader(os.Stdin)
	passphrase, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read passphrase: %w", err)
	}
	if err := cfg.UnlockCredentials(strings.TrimRight(passphrase, "\r\n")); err != nil {
		return fmt.Errorf("failed to unlock credentials: %w", err)
	}
	return nil
}

func connectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Inspect and test configured LLM and MCP connections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, local *backend.Local) error {
				llms, err := local.ListLLMConnections(ctx)
				if err != nil {
					return err
				}
				mcps, err := local.ListMCPConnections(ctx)
				if err != nil {
					return err
				}

				fmt.Println("LLM connections:")
				if len(llms) == 0 {
					fmt.Println("  (none)")
				}
				for _, conn := range llms {
					fmt.Printf("  %s  %s  %s  %s\n", conn.ID, conn.Name, conn.Provider, enabledLabel(conn.Enabled))
				}

				fmt.Println("MCP connections:")
				if len(mcps) == 0 {
					fmt.Println("  (none)")
				}
				for _, conn := range mcps {
					fmt.Printf("  %s  %s  %s  %s\n", conn.ID, conn.Name, conn.Type, enabledLabel(conn.Enabled))
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "test <connection-id>",
		Short: "Test a connection and report its models or tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, local *backend.Local) error {
				return testConnection(ctx, local, args[0])
			})
		},
	})

	return cmd
}

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored chats for matching messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, chats, connections, _, err := setup()
			if err != nil {
				return err
			}
			defer connections.Close()

			matches, err := chats.SearchAll(args[0])
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if len(matches) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, match := range matches {
				fmt.Printf("%s  [%s] %s: %s\n",
					match.Timestamp.Format("2006-01-02 15:04"),
					match.ChatTitle, match.Role, match.Preview)
			}
			return nil
		},
	}
}

// withBackend runs one CLI action against a short-lived backend.
func withBackend(fn func(context.Context, *backend.Local) error) error {
	cfg, chats, connections, workspaces, err := setup()
	if err != nil {
		return err
	}
	defer connections.Close()

	local := backend.New(cfg, chats, connections, workspaces)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer local.Shutdown(ctx)

	return fn(ctx, local)
}

func testConnection(ctx context.Context, local *backend.Local, id string) error {
	llms, err := local.ListLLMConnections(ctx)
	if err != nil {
		return err
	}
	for _, conn := range llms {
		if conn.ID == id {
			models, err := local.TestLLMConnection(ctx, conn)
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Printf("OK: %d model(s)\n", len(models))
			for _, model := range models {
				fmt.Printf("  %s\n", model)
			}
			return nil
		}
	}

	mcps, err := local.ListMCPConnections(ctx)
	if err != nil {
		return err
	}
	for _, conn := range mcps {
		if conn.ID == id {
			tools, err := local.TestMCPConnection(ctx, conn)
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Printf("OK: %d tool(s)\n", len(tools))
			for _, tool := range tools {
				fmt.Printf("  %s  %s\n", tool.Name, tool.Description)
			}
			return nil
		}
	}
	return fmt.Errorf("no connection with id %s", id)
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
