// Package app provides the finrag application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kart-io/finrag/cmd/finrag/app/options"
	ragsvc "github.com/kart-io/finrag/internal/rag"
	"github.com/kart-io/finrag/pkg/infra/app"
)

const (
	// Name is the name of the application.
	Name = ragsvc.Name

	// commandDesc is the description of the command.
	commandDesc = `finrag answers questions about a folder of financial PDF reports.

Documents under --rag.data-path are split into overlapping chunks, embedded
and persisted under --rag.index-path on first start. Later starts reuse the
persisted index without re-embedding. Questions are answered by a chat model
using only the retrieved chunks as context.

This server provides:
  - POST /ask      answer a question with cited sources
  - GET  /health   liveness
  - GET  /stats    index and pipeline statistics
  - GET  /metrics  Prometheus counters`
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(Name),
		app.WithShortDescription("FinTech RAG question answering service"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithWatchConfig(),
		app.WithCommands(indexCommand(opts), askCommand(opts)),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		return server.Run(ctx)
	}
}

func indexCommand(opts *options.ServerOptions) *app.Command {
	return &app.Command{
		Use:   "index",
		Short: "Build or load the vector index and exit",
		Long:  "Build the vector index from --rag.data-path, or load it when it already exists. Use --rag.force-rebuild to rebuild.",
		Args:  cobra.NoArgs,
		Run: func([]string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			return cfg.RunIndex(setupSignalContext(), os.Stdout)
		},
	}
}

func askCommand(opts *options.ServerOptions) *app.Command {
	return &app.Command{
		Use:   "ask <question>",
		Short: "Answer one question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		Run: func(args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			return cfg.RunAsk(setupSignalContext(), strings.Join(args, " "), os.Stdout)
		},
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
