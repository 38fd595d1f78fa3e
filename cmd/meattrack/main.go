// Command meattrack is the customer CLI: sign in, browse orders, manage the
// cart and follow an order's status live.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meatmarket/api"
	"meatmarket/config"
	"meatmarket/logging"
	"meatmarket/session"
	"meatmarket/store"
)

var (
	configPath string
	debug      bool
)

// app holds what every subcommand needs; built in PersistentPreRunE.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *store.DB
	sess   *session.State
	client *api.Client
}

var cli app

var rootCmd = &cobra.Command{
	Use:           "meattrack",
	Short:         "Order and track meat deliveries from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return cli.open(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return cli.close(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "meattrack.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(ordersCmd, orderCmd, trackCmd)
	rootCmd.AddCommand(cartCmd)
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !debug {
		cfg.Log.Level = "warn"
	}
	log, err := logging.New(cfg.Log, debug)
	if err != nil {
		return err
	}
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: cfg.Client.SessionPath},
	})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	sess := session.New(db.Sessions("default"))
	if err := sess.Load(ctx); err != nil {
		log.Warn("session load failed, starting signed out", zap.Error(err))
	}

	client := api.NewClient(cfg.Client.APIURL, cfg.Client.Timeout, sess, log)
	client.OnUnauthorized(func() {
		fmt.Fprintln(os.Stderr, "session expired; run `meattrack login`")
	})

	*a = app{cfg: cfg, log: log, db: db, sess: sess, client: client}
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.sess.Save(ctx)
	a.db.Close()
	a.log.Sync()
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
