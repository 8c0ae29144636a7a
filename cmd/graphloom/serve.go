package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"graphloom/internal/api"
	"graphloom/internal/pipeline"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API over the shared store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := openStore(runtime, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			feed := pipeline.NewFeed(0)
			server, err := api.NewServer(&runtime.Server, store, feed, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			group, ctx := errgroup.WithContext(ctx)
			group.Go(server.Start)
			group.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return group.Wait()
		},
	}
}
