package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unicesi/amelia-sub000/internal/cli"
)

// main is the entrypoint for the amelia application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// Interrupts cancel the deployment, which tears the targets down.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	redeploy := make(chan struct{})
	go func() {
		for range hup {
			select {
			case redeploy <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := run(ctx, os.Stdout, os.Args[1:], redeploy); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			stop()
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling. SIGHUP sent to a deployment kept running redeploys it.
func run(ctx context.Context, outW io.Writer, args []string, redeploy <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("amelia panicked: %v", r)
		}
	}()
	return cli.Execute(ctx, args, cli.Options{Out: outW, Redeploy: redeploy})
}
