package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aichat/internal/backend"
	"aichat/internal/logging"

	"github.com/spf13/cobra"
)

var (
	serveListen string
	serveDB     string
)

// serveCmd runs the reference backend
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference chat backend",
	Long: `Serves the session REST API and the /ws/{client_id} chat endpoint.

Replies come from the configured responder: echo (default), gemini or openai.
Setting GEMINI_API_KEY or OPENAI_API_KEY selects the matching responder.
Sessions live in memory unless a database path is configured.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListen != "" {
		cfg.Backend.Listen = serveListen
	}
	if serveDB != "" {
		cfg.Backend.DatabasePath = serveDB
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, store, err := backend.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start backend: %w", err)
	}
	defer store.Close()

	logging.Backend("serving on %s", cfg.Backend.Listen)
	fmt.Fprintf(cmd.OutOrStdout(), "aichat backend listening on %s\n", cfg.Backend.Listen)
	return srv.Run(ctx, cfg.Backend.Listen)
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config, :8000)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database path (or set AICHAT_DB)")
}
