package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hoferino/manda-platform-sub003/internal/app"
	"github.com/hoferino/manda-platform-sub003/internal/config"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

var (
	envFiles []string

	rootCmd = &cobra.Command{
		Use:           "manda",
		Short:         "Document intelligence pipeline and knowledge consistency engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with job workers, the outbox dispatcher and sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.RunServer(ctx)
			})
		},
	}
	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run job workers, the outbox dispatcher and sweeps without the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.RunWorker(ctx)
			})
		},
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, cfg, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			svc, err := app.OpenDB(cfg, log)
			if err != nil {
				return err
			}
			log.Info("Schema migrated", "driver", svc.Driver())
			return svc.Close()
		},
	}
	retryCmd = &cobra.Command{
		Use:   "retry [document_id]",
		Short: "Re-enqueue the failed stage of a document pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id %q: %w", args[0], err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				job, err := a.Services.Documents.Retry(ctx, id)
				if err != nil {
					return err
				}
				a.Log.Info("Pipeline re-enqueued", "document_id", id, "stage", job.Stage, "job_id", job.ID)
				return nil
			})
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, retryCmd)
}

func bootstrap() (*logger.Logger, config.Config, error) {
	config.LoadDotEnv(nil, envFiles...)
	mode := os.Getenv("LOG_MODE")
	if mode == "" {
		mode = "development"
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := config.Load(log)
	if err != nil {
		log.Sync()
		return nil, config.Config{}, err
	}
	return log, cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	log, cfg, err := bootstrap()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
