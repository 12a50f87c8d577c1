package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukerupert/boothsurvey/internal/config"
	"github.com/dukerupert/boothsurvey/internal/database"
	"github.com/dukerupert/boothsurvey/internal/logging"
	"github.com/spf13/cobra"

	_ "time/tzdata"
)

type app struct {
	configPath string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	a := &app{}
	if err := a.rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boothsurvey",
		Short:         "Booth-level household survey service",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(a.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.Setup(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file (default ./boothsurvey.yaml if present)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(a.serveCmd(), a.migrateCmd(), a.exportCmd(), a.promoteCmd())
	return root
}

func (a *app) openDB() (*sql.DB, error) {
	db, err := database.Open(a.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.Database.Path, err)
	}
	return db, nil
}
