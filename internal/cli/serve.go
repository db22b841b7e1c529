package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes the CRM, content, citation, IndexNow and bulk endpoints,
the realtime lead feed (Server-Sent Events) and /healthz.

Example:
  backoffice serve --addr :8080
  BACKOFFICE_REDIS_ADDR=localhost:6379 backoffice serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting backoffice",
		zap.String("version", version),
		zap.String("env", cfg.Env),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("citation_finder", a.finder != nil))

	return server.New(cfg.Server, a.deps(), logger).ListenAndServe(ctx)
}
