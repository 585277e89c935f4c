package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/reportbatchflow/internal/config"
	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/gcp"
	"github.com/Lllllllleong/reportbatchflow/internal/ingest"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

// UploadFormField is the multipart field carrying the spreadsheet.
const UploadFormField = "file"

// Response headers set on a completed batch.
const (
	HeaderRunID          = "X-Run-Id"
	HeaderSkippedRecords = "X-Skipped-Records"
)

type UploadConfig struct {
	AllowedOrigin  string
	MaxUploadBytes int64
	ArchiveName    string
}

// UploadFunction turns an uploaded spreadsheet into a downloadable archive.
type UploadFunction struct {
	processor BatchProcessor
	config    UploadConfig
	runtime   *Runtime
}

// NewUploader loads configuration and builds the upload function with its own pipeline.
func NewUploader(ctx context.Context) (*UploadFunction, error) {
	cfg, err := config.Load(gcp.GetEnv(config.FileEnv, ""))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	rt, err := NewRuntime(cfg, slog.Default())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build pipeline")
	}
	f := NewUploadFunction(rt.Pipeline, UploadConfig{
		AllowedOrigin:  cfg.AllowedOrigin,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ArchiveName:    cfg.ArchiveName,
	})
	f.runtime = rt
	slog.Info("Upload function initialized.", "maxUploadBytes", cfg.MaxUploadBytes)
	return f, nil
}

// NewUploadFunction returns an upload function over processor.
func NewUploadFunction(processor BatchProcessor, cfg UploadConfig) *UploadFunction {
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.ArchiveName == "" {
		cfg.ArchiveName = config.DefaultArchiveName
	}
	return &UploadFunction{processor: processor, config: cfg}
}

// Close releases the pipeline's engine, if this function built one.
func (f *UploadFunction) Close() error {
	if f.runtime == nil {
		return nil
	}
	return f.runtime.Close()
}

// HandleUpload accepts a multipart POST with the spreadsheet in the "file"
// field and responds with the ZIP archive, or a JSON failure body.
func (f *UploadFunction) HandleUpload(w http.ResponseWriter, r *http.Request) {
	f.setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		writeFailure(w, http.StatusMethodNotAllowed, models.BatchFailureResponse{
			ErrorKind: string(models.KindFormat),
			Detail:    "only POST is supported",
		})
		return
	}

	filename, source, status, err := f.readUpload(w, r)
	if err != nil {
		slog.Warn("Rejected upload.", "status", status, "error", err)
		writeFailure(w, status, models.BatchFailureResponse{
			ErrorKind: string(models.KindFormat),
			Detail:    err.Error(),
		})
		return
	}

	logCtx := slog.With("filename", filename, "bytes", len(source))
	logCtx.Info("Processing uploaded spreadsheet.")

	res := f.processor.ProcessBatch(r.Context(), filename, source)
	if !res.Completed() {
		writeFailure(w, StatusForKind(res.Failure.Kind), models.BatchFailureResponse{
			RunID:     res.RunID,
			ErrorKind: string(res.Failure.Kind),
			Detail:    res.Failure.Detail,
			RecordID:  string(res.Failure.RecordID),
		})
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.config.ArchiveName))
	h.Set("Content-Length", strconv.Itoa(len(res.Archive)))
	h.Set(HeaderRunID, res.RunID)
	h.Set(HeaderSkippedRecords, strconv.Itoa(res.SkippedCount))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Archive); err != nil {
		logCtx.Error("Failed to write archive to client.", "runId", res.RunID, "error", err)
	}
}

func (f *UploadFunction) setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", f.config.AllowedOrigin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Expose-Headers", "Content-Disposition, "+HeaderRunID+", "+HeaderSkippedRecords)
}

// readUpload extracts the spreadsheet from the request. On error it also
// returns the status to respond with.
func (f *UploadFunction) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, f.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(f.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, http.StatusRequestEntityTooLarge, errors.Newf("upload exceeds %d bytes", f.config.MaxUploadBytes)
		}
		return "", nil, http.StatusBadRequest, errors.Wrap(err, "failed to parse multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadFormField)
	if err != nil {
		return "", nil, http.StatusBadRequest, errors.Newf("multipart field %q is required", UploadFormField)
	}
	defer file.Close()

	if !ingest.SupportedExtension(header.Filename) {
		return "", nil, http.StatusBadRequest, errors.Newf("%q is not a spreadsheet", header.Filename)
	}
	source, err := readPart(file)
	if err != nil {
		return "", nil, http.StatusBadRequest, err
	}
	return header.Filename, source, 0, nil
}

func readPart(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read uploaded file")
	}
	if len(data) == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	return data, nil
}

// StatusForKind maps a failure kind to an HTTP status. Caller input
// problems are 4xx; everything the service got wrong is 500.
func StatusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindFormat, models.KindSchema:
		return http.StatusBadRequest
	case models.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, status int, body models.BatchFailureResponse) {
	body.Status = "FAILED"
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write failure response.", "error", err)
	}
}
