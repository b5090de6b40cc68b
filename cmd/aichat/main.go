package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"aichat/internal/auth"
	"aichat/internal/config"
	"aichat/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	serverURL string
	verbose   bool

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "aichat",
	Short: "aichat - real-time AI chat client",
	Long: `aichat is a terminal client for a conversational AI backend.

Messages travel over a WebSocket connection while sessions are listed,
created and fetched over the REST API. The serve command runs a
compatible backend locally.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: runChat,
}

// setup loads .env, the config file and the logger.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	path := cfgPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if serverURL != "" {
		loaded.Server.BaseURL = serverURL
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg = loaded

	opts := cfg.Logging.Options()
	if verbose {
		opts.DebugMode = true
	}
	// The chat interface owns the terminal, so its logs go to a file.
	if isInteractive(cmd) && opts.File == "" {
		opts.File = filepath.Join(filepath.Dir(config.DefaultConfigPath()), "aichat.log")
	}
	if err := logging.Initialize(opts); err != nil {
		return err
	}
	logging.Boot("config loaded from %s (server=%s)", path, cfg.Server.BaseURL)
	return nil
}

func isInteractive(cmd *cobra.Command) bool {
	return !cmd.HasParent() || cmd.Name() == "chat"
}

// tokenStore returns the credentials file of the loaded config.
func tokenStore() *auth.FileStore {
	return auth.NewFileStore(cfg.Auth.TokenFile)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: user config dir/aichat/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Backend base URL (or set AICHAT_SERVER_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
