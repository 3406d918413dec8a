// Command poemletd is the poemlet daemon.
// It listens on a Unix domain socket for poem requests and keeps the model
// loaded between them.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	poemlet "github.com/Paranoid-AF/poemlet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	var socketPath string

	cmd := &cobra.Command{
		Use:           "poemletd",
		Short:         "Serve poem requests over a Unix domain socket",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			poemlet.LoadDotEnv()
			if socketPath == "" {
				socketPath = resolveSocketPath()
			}
			return run(socketPath)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every request and response to stderr")
	cmd.Flags().StringVar(&socketPath, "socket", "", "socket path (default $POEMLET_SOCKET, then $XDG_RUNTIME_DIR/poemlet.sock)")
	return cmd
}

func run(socketPath string) error {
	slog.Info("starting", "socket", socketPath)

	srv, err := NewServer(socketPath)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		return err
	}
	defer srv.Close()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Close()
		os.Exit(0)
	}()

	slog.Info("ready")
	if err := srv.Serve(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

func resolveSocketPath() string {
	if path := os.Getenv("POEMLET_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "poemlet.sock")
	}
	return fmt.Sprintf("/tmp/poemlet-%d.sock", os.Getuid())
}
