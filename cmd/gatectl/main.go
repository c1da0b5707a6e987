// Command gatectl operates a votegate deployment: schema migrations, the
// color list, operator test SMS, admin API tokens and the audit trail.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"votegate/internal/platform/config"
	"votegate/internal/platform/logger"
	"votegate/internal/platform/postgres"
)

const programName = "gatectl"

type cli struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          programName,
		Short:        "Operate a votegate deployment",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}
	root.AddCommand(
		c.migrateCommand(),
		c.colorListCommand(),
		c.sendCommand(),
		c.tokenCommand(),
		c.auditCommand(),
	)
	return root
}

func (c *cli) openDB(ctx context.Context) (*sql.DB, error) {
	if c.cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return postgres.Open(ctx, c.cfg.Database)
}
