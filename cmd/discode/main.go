// Discode - bridge daemon coupling chat channels to coding agents.
//
// This is the CLI entry point. The start command runs the bridge: PTY
// runtime, stream server, hook pipeline, and message routing. The
// concrete chat-platform client is provided by the embedding build; the
// console client stands in by default.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dguik/discode/internal/bridge"
	"github.com/dguik/discode/internal/chat/console"
	"github.com/dguik/discode/internal/config"
	"github.com/dguik/discode/internal/state"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "discode",
		Short:   "Bridge daemon coupling chat channels to coding agents",
		Version: Version,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge daemon",
		RunE:  runStart,
	}
	rootCmd.AddCommand(startCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger logs to a file in the config dir so agent terminals are not
// corrupted by daemon output.
func newLogger(cfg *config.Config) (*slog.Logger, *os.File, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, nil, err
	}
	logFile, err := os.OpenFile(filepath.Join(dir, "discode.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, logFile, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	store, err := state.NewFileStore(cfg.StateFile)
	if err != nil {
		return err
	}

	client := console.New(logger)
	b := bridge.New(cfg, client, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("discode started (hook port %d, stream socket %s)\n", cfg.HookPort, cfg.StreamSocket)

	<-ctx.Done()
	fmt.Println("shutting down...")
	b.Stop()
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := httpClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.HookPort))
	if err != nil {
		fmt.Println("daemon: not running")
		return nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var health map[string]any
	if err := json.Unmarshal(body, &health); err == nil && health["status"] == "ok" {
		fmt.Printf("daemon: running (hook port %d)\n", cfg.HookPort)
	} else {
		fmt.Printf("daemon: unexpected health response: %s\n", string(body))
	}
	fmt.Printf("stream socket: %s\n", cfg.StreamSocket)
	fmt.Printf("state file: %s\n", cfg.StateFile)
	return nil
}
