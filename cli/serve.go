package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"acexpander/api"
	"acexpander/config"
	"acexpander/job"
	"acexpander/listing"
	"acexpander/unace"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job queue over HTTP",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runner, err := unace.NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize unace runner: %w", err)
	}

	// There is nobody to ask over HTTP, so the ask destination mode stops
	// the batch until a folder is configured.
	engine := job.NewEngine(runner, job.WithListingParser(listing.NewParser()))
	command, err := cfg.JobCommand()
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	engine.SetCommand(command)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	engine.Start(gctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.SetupRouter(engine, cfg),
	}

	g.Go(func() error {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Restore default behavior so a second interrupt kills the process.
		stop()
		log.Println("Shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		<-engine.Done()
		return nil
	})

	err = g.Wait()
	log.Println("Server exiting")
	return err
}
