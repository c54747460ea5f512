// Package cmd wires shared backends for the dirigent binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dirigent-io/dirigent/pkg/queue"
)

// NewQueue creates a queue backend from a URL. Supported schemes are
// postgres://, redis:// and memory://.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) (queue.Queue, error) {
	provider := parseQueueProvider(queueURL)

	switch provider {
	case "postgres", "postgresql":
		return queue.NewPostgresQueue(ctx, logger, queueURL)
	case "redis":
		return queue.NewRedisQueue(ctx, logger, queueURL)
	case "memory":
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unsupported queue provider: %s", provider)
	}
}

func parseQueueProvider(queueURL string) string {
	parts := strings.Split(queueURL, "://")
	if len(parts) < 2 {
		return "memory"
	}

	return parts[0]
}
