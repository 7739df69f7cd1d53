package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/delivery"
	"github.com/kozaktomas/voter-gate/internal/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Deliver queued one-time codes",
	Long: `Run the OTP delivery worker.

With DELIVERY_MODE=queue the API enqueues codes in Redis instead of sending
them inline. The worker picks them up and sends them by SMS or email,
retrying transient gateway failures until the code expires.

Examples:
  voter-gate worker
  voter-gate worker --concurrency 20`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("concurrency", 0, "Number of parallel deliveries (overrides DELIVERY_CONCURRENCY)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	// The worker only needs delivery and Redis settings, so the full
	// configuration is not validated here.
	cfg := config.Load()
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	concurrency := cfg.Delivery.Concurrency
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		concurrency = n
	}

	sender, err := delivery.NewDirectSender(cfg.Delivery, log.Named("delivery"))
	if err != nil {
		return fmt.Errorf("failed to set up delivery channels: %w", err)
	}

	srv := delivery.NewWorker(cfg.Redis, concurrency, log.Named("worker"))
	log.Info("starting delivery worker", zap.String("redis", cfg.Redis.Addr), zap.Int("concurrency", concurrency))

	// Run blocks until SIGTERM or SIGINT and then drains in-flight tasks.
	if err := srv.Run(delivery.NewServeMux(sender, log.Named("worker"))); err != nil {
		return fmt.Errorf("delivery worker: %w", err)
	}
	return nil
}
