package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"aichat/internal/auth"
	"aichat/internal/directory"

	"github.com/spf13/cobra"
)

// =============================================================================
// SESSION MANAGEMENT COMMANDS
// =============================================================================

// sessionsCmd manages backend sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
	Long: `List, create and inspect sessions stored by the backend.

Subcommands:
  list          - List your sessions, most recently updated first
  new [title]   - Create a session
  show <id>     - Print a session with its history`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your sessions",
	RunE:  runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a session",
	RunE:  runSessionsNew,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session with its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func newDirectory() *directory.Directory {
	return directory.New(cfg.Server.BaseURL, auth.EnvOverride(tokenStore()),
		directory.WithTimeout(cfg.GetRequestTimeout()))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, err := newDirectory().List(cmdContext(cmd))
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Title, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d sessions\n", len(sessions))
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	title := strings.Join(args, " ")
	if title == "" {
		title = cfg.Chat.DefaultTitle
	}
	s, err := newDirectory().Create(cmdContext(cmd), title)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", s.ID, s.Title)
	fmt.Fprintf(cmd.OutOrStdout(), "Continue it with: aichat chat --session %s\n", s.ID)
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	detail, err := newDirectory().Get(cmdContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch session: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", detail.Title)
	fmt.Fprintln(out, strings.Repeat("─", 50))
	if len(detail.Messages) == 0 {
		fmt.Fprintln(out, "(no messages)")
	}
	for _, m := range detail.Messages {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Content)
	}
	return nil
}

// cmdContext returns the command context, or Background for commands run outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsNewCmd, sessionsShowCmd)
}
