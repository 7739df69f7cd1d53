package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/constants"
	"github.com/kozaktomas/voter-gate/internal/logger"
)

const (
	// TaskDeliverOTP is the asynq task type for code delivery.
	TaskDeliverOTP = "otp:deliver"
	// QueueName is the asynq queue code deliveries go to.
	QueueName = "otp"

	taskMaxRetry = 5
	taskTimeout  = 30 * time.Second
)

// RedisOpt converts the redis configuration for asynq.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// QueueSender enqueues deliveries for the worker process.
type QueueSender struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewQueueSender(cfg config.RedisConfig, log *zap.Logger) *QueueSender {
	return &QueueSender{client: asynq.NewClient(RedisOpt(cfg)), log: log}
}

func (q *QueueSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return apperrors.Validation("contact is required to deliver the code")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery payload: %w", err)
	}

	// Retrying past expiry is pointless.
	deadline := msg.ExpiresAt
	if deadline.IsZero() {
		deadline = time.Now().Add(10 * time.Minute)
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskDeliverOTP, payload),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Timeout(taskTimeout),
		asynq.Deadline(deadline),
		asynq.Queue(QueueName),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "could not queue the code for delivery")
	}
	q.log.Debug("otp delivery queued", logger.Identity(msg.Identity), zap.String("task_id", info.ID))
	return nil
}

func (q *QueueSender) Close() error {
	return q.client.Close()
}

// NewWorker creates the asynq server that processes delivery tasks.
func NewWorker(cfg config.RedisConfig, concurrency int, log *zap.Logger) *asynq.Server {
	return asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{QueueName: 1},
		Logger:          log.Sugar(),
		ShutdownTimeout: constants.ShutdownTimeout,
	})
}

// NewServeMux routes delivery tasks to sender.
func NewServeMux(sender Sender, log *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDeliverOTP, HandleDeliveryTask(sender, log))
	return mux
}

// HandleDeliveryTask decodes a queued message and sends it.
func HandleDeliveryTask(sender Sender, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var msg Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			log.Error("invalid delivery payload", zap.Error(err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		if !msg.ExpiresAt.IsZero() && time.Now().After(msg.ExpiresAt) {
			log.Warn("dropping expired otp delivery", logger.Identity(msg.Identity))
			return nil
		}
		if err := sender.Send(ctx, msg); err != nil {
			if apperrors.KindOf(err) == apperrors.KindValidation {
				return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
			}
			return err
		}
		return nil
	}
}
