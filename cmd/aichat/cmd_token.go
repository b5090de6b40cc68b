package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"aichat/internal/auth"

	"github.com/spf13/cobra"
)

// tokenCmd manages the stored bearer token
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the bearer token",
	Long: `Store, inspect or remove the bearer token sent to the backend.

The token is kept in a file readable only by you. AICHAT_TOKEN, when set,
takes precedence over the stored token.`,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <token>",
	Short: "Store a bearer token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenSet,
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored bearer token",
	RunE:  runTokenClear,
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show where the token comes from",
	RunE:  runTokenShow,
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	store := tokenStore()
	if err := store.Save(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", store.Path())
	return nil
}

func runTokenClear(cmd *cobra.Command, args []string) error {
	store := tokenStore()
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
	return nil
}

func runTokenShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if env := strings.TrimSpace(os.Getenv(auth.EnvToken)); env != "" {
		fmt.Fprintf(out, "Token: %s (from %s)\n", maskToken(env), auth.EnvToken)
		return nil
	}

	store := tokenStore()
	tok, err := store.Token()
	if errors.Is(err, auth.ErrNoToken) {
		fmt.Fprintln(out, "No token configured. Use: aichat token set <token>")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Token: %s (from %s, saved %s)\n", maskToken(tok), store.Path(), store.SavedAt().Local().Format("2006-01-02 15:04"))
	return nil
}

// maskToken keeps only the last four characters visible.
func maskToken(tok string) string {
	if len(tok) <= 4 {
		return strings.Repeat("*", len(tok))
	}
	return strings.Repeat("*", len(tok)-4) + tok[len(tok)-4:]
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd, tokenClearCmd, tokenShowCmd)
}
