package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"portfolio-oracle/web"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Oracle HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides WEB_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Create context that listens for interrupt signals
	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	warmer := web.NewCacheWarmer(a.cache, cfg.CacheWarmInterval, logger)
	go warmer.Run(ctx)

	server := web.NewServer(web.Dependencies{
		Oracle:        a.oracle,
		Knowledge:     a.knowledge,
		Conversations: a.store,
		Cache:         a.cache,
		Metrics:       a.metrics,
	}, logger, cfg)

	port := cfg.WebPort
	if servePort > 0 {
		port = servePort
	}
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting Oracle web server",
		zap.String("port", addr),
		zap.String("retrieval_mode", a.assembler.Mode()))
	if err := server.Start(ctx, addr); err != nil && ctx.Err() == nil {
		return fmt.Errorf("web server error: %w", err)
	}
	return nil
}

// commandContext returns the command's context, or Background when run
// outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
