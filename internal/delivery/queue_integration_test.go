//go:build integration

package delivery

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/config"
)

func TestQueueSender_Enqueue(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}
	cfg := config.RedisConfig{Addr: endpoint}

	q := NewQueueSender(cfg, zap.NewNop())
	defer q.Close()

	if err := q.Send(ctx, testMessage("+420777123456")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	inspector := asynq.NewInspector(RedisOpt(cfg))
	defer inspector.Close()
	tasks, err := inspector.ListPendingTasks(QueueName)
	if err != nil {
		t.Fatalf("ListPendingTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Type != TaskDeliverOTP {
		t.Errorf("expected one pending delivery task, got %+v", tasks)
	}
}
