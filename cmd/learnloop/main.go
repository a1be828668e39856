package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/learnloop-ai/LearnLoopServer/internal/app"
	"github.com/learnloop-ai/LearnLoopServer/internal/config"
	"github.com/learnloop-ai/LearnLoopServer/internal/db"
	"github.com/learnloop-ai/LearnLoopServer/internal/logging"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "learnloop",
		Short:         "LearnLoop programming-learning chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to the configuration file")
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, errLoad := config.Load(configPath)
			if errLoad != nil {
				return errLoad
			}
			server, errNew := app.New(cfg)
			if errNew != nil {
				return errNew
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, errLoad := config.Load(configPath)
			if errLoad != nil {
				return errLoad
			}
			logging.Setup(cfg.Logging)
			conn, errOpen := db.Open(cfg.Database.DSN)
			if errOpen != nil {
				return errOpen
			}
			return db.Migrate(conn)
		},
	}
}
