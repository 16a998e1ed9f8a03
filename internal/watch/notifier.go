// Package watch turns bucket object-creation notifications into pipeline
// start signals. Only objects under aggregated/ start a workflow execution.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
)

// StartSignal asks for a new workflow execution. The key is carried for the
// event log only; the workflow itself takes no input from the signal.
type StartSignal struct {
	Key string
}

// Notifier listens for object-created events under a key prefix and forwards
// one start signal per matching event. Delivery is at-least-once; downstream
// consumers tolerate duplicates.
type Notifier struct {
	Client *minio.Client
	Bucket string
	Prefix string
	Logger *slog.Logger
}

func NewNotifier(client *minio.Client, bucket string, logger *slog.Logger) (*Notifier, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Notifier{
		Client: client,
		Bucket: bucket,
		Prefix: objectstore.PrefixAggregated,
		Logger: logger,
	}, nil
}

// Watch blocks until ctx is done, sending a start signal for every
// object-created event under the prefix. The notification stream carries only
// creation events; SignalsFromInfo re-checks name and prefix anyway.
func (n *Notifier) Watch(ctx context.Context, signals chan<- StartSignal) error {
	if n == nil || n.Client == nil {
		return fmt.Errorf("notifier not initialized")
	}

	events := n.Client.ListenBucketNotification(ctx, n.Bucket, n.Prefix, "", []string{"s3:ObjectCreated:*"})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case info, ok := <-events:
			if !ok {
				return fmt.Errorf("notification stream closed")
			}
			if info.Err != nil {
				return fmt.Errorf("notification stream: %w", info.Err)
			}
			for _, signal := range SignalsFromInfo(info, n.Prefix) {
				if n.Logger != nil {
					n.Logger.Info("object created", "bucket", n.Bucket, "key", signal.Key)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case signals <- signal:
				}
			}
		}
	}
}

// SignalsFromInfo maps one notification batch to start signals, keeping only
// object-created events whose key lies under prefix. Keys arrive URL-encoded.
func SignalsFromInfo(info notification.Info, prefix string) []StartSignal {
	var out []StartSignal
	for _, record := range info.Records {
		if !strings.HasPrefix(record.EventName, "s3:ObjectCreated:") {
			continue
		}
		key := record.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, StartSignal{Key: key})
	}
	return out
}
