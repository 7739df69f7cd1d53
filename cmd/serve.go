package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/constants"
	"github.com/kozaktomas/voter-gate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification API server",
	Long: `Start the Voter Gate HTTP API.

Backends, provider and policies are configured through the environment
(see .env.example). Flags override the listen address, the decision
threshold and the extra CORS origins.

Examples:
  # Listen on the default 0.0.0.0:8080
  voter-gate serve

  # Bind to localhost for a kiosk running on the same machine
  voter-gate serve --host 127.0.0.1 --port 9090

  # Stricter matching and a kiosk origin
  voter-gate serve --threshold 0.7 --allowed-origins https://kiosk.example.org`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	cmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	cmd.Flags().Float64("threshold", 0, "Match threshold in [-1, 1] (overrides VERIFY_THRESHOLD, 0 uses the provider profile)")
	cmd.Flags().StringSlice("allowed-origins", nil, "Extra CORS origins (overrides WEB_ALLOWED_ORIGINS)")
}

// applyServeFlags copies flag overrides into cfg and validates the result.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Verification.Threshold = mustGetFloat64(cmd, "threshold")
	}
	if origins := mustGetStringSlice(cmd, "allowed-origins"); len(origins) > 0 {
		cfg.Server.AllowedOrigins = origins
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	if len(cfg.Server.APIKeys) == 0 && len(cfg.Server.AdminAPIKeys) == 0 {
		log.Warn("no API keys configured, every endpoint is open")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.sweepChallenges(ctx)

	server := web.NewServer(cfg, a.orchestrator, a.registry, a.tokens, log.Named("http"))

	go func() {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
