// Command govnotify runs the governance notification service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-govnotify/adapters/zaplog"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "govnotify",
	Short:         "Governance proposal notifications for Telegram",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, the bot and the delivery runners",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var deliverCmd = &cobra.Command{
	Use:   "deliver <event_id>",
	Short: "Re-enqueue the notification for a matched event",
	Long: `Re-enqueue the notification for a matched event.

Use it to recover an event whose recipients are still pending after the
delivery queue lost or dead-lettered its message. Recipients already
delivered are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeliver,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(deliverCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "govnotify:", err)
		os.Exit(1)
	}
}

// bootstrap loads the config and builds the process logger and app.
func bootstrap(cmd *cobra.Command) (*app, func(), error) {
	cfg, err := LoadConfig(configPath, os.LookupEnv)
	if err != nil {
		return nil, nil, err
	}
	base, err := zaplog.Build(zaplog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cmd.Context(), cfg, zaplog.NewProvider(base))
	if err != nil {
		_ = base.Sync()
		return nil, nil, err
	}
	return a, func() {
		a.close()
		_ = base.Sync()
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	return a.serve(cmd.Context())
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("migrate: database.driver is not configured")
	}
	client, dialect, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	if err := migrate(cmd.Context(), client, dialect); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", dialect)
	return nil
}

func runDeliver(cmd *cobra.Command, args []string) error {
	a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := a.redeliver(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "notification for %s enqueued\n", args[0])
	return nil
}
