package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/services"
)

var (
	batcherInstance *services.BucketBatcherFunction
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("BatchFromBucket", batchFromBucket)
}

func main() {}

// batchFromBucket runs a batch for every spreadsheet finalized in the input bucket.
func batchFromBucket(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		batcherInstance, initErr = services.NewBucketBatcher(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return errors.Wrap(err, "json.Unmarshal")
	}

	// Errors are logged with context inside Process; returning one marks the invocation failed.
	return batcherInstance.Process(ctx, gcsEvent)
}
