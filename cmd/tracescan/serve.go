package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tracescan/internal/api"
	"tracescan/internal/history"
	"tracescan/internal/paths"
	"tracescan/internal/scan"
)

var (
	serveAddr    string
	serveHistory bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scan service",
	Long: `Start an HTTP server that runs scans on request.

Endpoints:
  GET  /health          liveness and version
  GET  /modes           available scan modes
  POST /scan            {"mode": "...", "options": {"format": "json|yaml|human", "record": false}}
  GET  /related/{id}    identifiers related to id
  GET  /history         archived runs (when history is enabled)

Every request rescans the corpus; results are never cached.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config, 127.0.0.1:8765)")
	serveCmd.Flags().BoolVar(&serveHistory, "history", false, "Enable the history archive for /history and recorded scans")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.loggers.For("serve")

	addr := serveAddr
	if addr == "" {
		addr = env.cfg.Serve.Addr
	}

	var store *history.Store
	if serveHistory || env.cfg.History.Enabled {
		store, err = history.Open(paths.HistoryPath(env.root, env.cfg.History.Path), env.loggers.For("history"))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	server := api.NewServer(addr, scan.New(env.compiled, env.loggers.For("scan")), store, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	serverErr := make(chan error, 1)
	go func() {
		if !quietFlag {
			fmt.Fprintf(cmd.ErrOrStderr(), "tracescan listening on http://%s\n", addr)
			fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop")
		}
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", "error", err.Error())
			return err
		}
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during shutdown", "error", err.Error())
			return err
		}
	}
	return nil
}
