package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/reportbatchflow/internal/services"
)

var (
	uploaderInstance *services.UploadFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleUpload", handleUpload)
}

func main() {}

// handleUpload is the HTTP entry point for spreadsheet uploads.
func handleUpload(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		uploaderInstance, initErr = services.NewUploader(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Upload function initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	uploaderInstance.HandleUpload(w, r)
}
