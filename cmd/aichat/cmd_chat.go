package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aichat/cmd/aichat/chat"
	"aichat/internal/auth"
	corechat "aichat/internal/chat"
	"aichat/internal/directory"
	"aichat/internal/logging"
	"aichat/internal/transport"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	chatSessionID string
	chatNewTitle  string
)

// chatCmd starts the interactive interface
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat interface",
	Long: `Opens the live connection and starts the terminal chat interface.

By default the conversation starts without a session and the backend
creates one with the first message. Use --session to continue an
existing session or --new to start a titled one.`,
	RunE: runChat,
}

// =============================================================================
// CLIENT WIRING
// =============================================================================

// client bundles the client-side components for one run.
type client struct {
	tokens    auth.TokenSource
	store     *auth.FileStore
	directory *directory.Directory
	conn      *transport.Manager
	orch      *corechat.Orchestrator
}

// newClient wires directory, connection and orchestrator from the loaded config.
func newClient() *client {
	store := tokenStore()
	tokens := auth.EnvOverride(store)

	dir := directory.New(cfg.Server.BaseURL, tokens, directory.WithTimeout(cfg.GetRequestTimeout()))

	opts := []transport.Option{
		transport.WithHandshakeTimeout(cfg.GetHandshakeTimeout()),
		transport.WithWriteTimeout(cfg.GetWriteTimeout()),
	}
	if cfg.Server.WSAuth {
		opts = append(opts, transport.WithHandshakeToken(tokens))
	}
	conn := transport.NewManager(cfg.Server.BaseURL, opts...)

	orch := corechat.New(conn, corechat.WithReplyTimeout(cfg.GetReplyTimeout()))
	orch.Attach()

	return &client{tokens: tokens, store: store, directory: dir, conn: conn, orch: orch}
}

// openSession selects the starting session: a new titled one, an existing one or none.
func (c *client) openSession(ctx context.Context, sessionID, newTitle string) error {
	switch {
	case newTitle != "":
		s, err := c.directory.Create(ctx, newTitle)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		c.orch.SwitchSession(s.ID)
	case sessionID != "":
		detail, err := c.directory.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to open session %s: %w", sessionID, err)
		}
		if err := c.directory.Select(sessionID); err != nil {
			logging.Get(logging.CategorySession).Debug("session %s not in listing: %v", sessionID, err)
		}
		c.orch.Load(detail)
	}
	return nil
}

// connect opens the live connection with a fresh client id.
func (c *client) connect(ctx context.Context) error {
	return c.conn.Connect(ctx, transport.NewClientID())
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatSessionID != "" && chatNewTitle != "" {
		return errors.New("--session and --new are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newClient()

	// Pick up `aichat token set` from another terminal.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	watchDone, err := c.store.Watch(watchCtx)
	if err != nil {
		logging.Get(logging.CategoryAuth).Warn("token file not watched: %v", err)
	}
	defer func() {
		cancelWatch()
		if watchDone != nil {
			<-watchDone
		}
	}()

	if err := c.openSession(ctx, chatSessionID, chatNewTitle); err != nil {
		return err
	}
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Server.BaseURL, err)
	}
	defer c.conn.Close()

	model := chat.New(chat.Config{
		Conversation:   c.orch,
		Directory:      c.directory,
		Reconnect:      c.connect,
		RequestTimeout: cfg.GetRequestTimeout(),
		DefaultTitle:   cfg.Chat.DefaultTitle,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat interface: %w", err)
	}
	return nil
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Continue an existing session")
	chatCmd.Flags().StringVar(&chatNewTitle, "new", "", "Start a new session with this title")
	rootCmd.Flags().AddFlagSet(chatCmd.Flags())
}
