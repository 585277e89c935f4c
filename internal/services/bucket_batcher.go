package services

import (
	"context"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/reportbatchflow/internal/config"
	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/gcp"
	"github.com/Lllllllleong/reportbatchflow/internal/ingest"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

type BucketBatcherConfig struct {
	OutputBucket string
	ArchiveName  string
}

// ObjectStore reads batch sources and stores archives.
type ObjectStore interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
	SaveAtomically(ctx context.Context, bucket, object string, content []byte, contentType string) error
}

// JobRecorder tracks jobs by source file hash. *gcp.JobStore satisfies it.
type JobRecorder interface {
	FindByHash(ctx context.Context, fileHash string) ([]models.JobRef, error)
	Create(ctx context.Context, fileHash, sourceObject string) (string, error)
	Complete(ctx context.Context, jobID string, res *models.BatchResult, archiveURI string) error
	Fail(ctx context.Context, jobID, runID, kind, details, recordID string) error
}

// WorkflowStarter is notified when an archive is ready. *gcp.WorkflowTrigger satisfies it.
type WorkflowStarter interface {
	Trigger(ctx context.Context, argument any) (string, error)
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// BucketBatcherFunction processes spreadsheets dropped into a bucket and
// writes each archive to the output bucket under the job's ID.
type BucketBatcherFunction struct {
	processor BatchProcessor
	objects   ObjectStore
	jobs      JobRecorder
	workflow  WorkflowStarter // nil when no workflow is configured
	config    BucketBatcherConfig

	maxRetries   int
	retryBackoff time.Duration
	closers      []func() error
}

// NewBucketBatcher loads configuration and connects to Storage, Firestore
// and, when workflow_id is set, Workflows.
func NewBucketBatcher(ctx context.Context) (*BucketBatcherFunction, error) {
	cfg, err := config.Load(gcp.GetEnv(config.FileEnv, ""))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputBucket == "" {
		return nil, errors.New("OUTPUT_BUCKET environment variable must be set")
	}

	rt, err := NewRuntime(cfg, slog.Default())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build pipeline")
	}
	closers := []func() error{rt.Close}
	fail := func(err error) (*BucketBatcherFunction, error) {
		_ = closeAll(closers)
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, firestoreClient.Close)
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fail(errors.Wrap(err, "failed to create Storage client"))
	}
	closers = append(closers, storageClient.Close)

	var workflow WorkflowStarter
	if cfg.WorkflowID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return fail(err)
		}
		workflow = trigger
		closers = append(closers, trigger.Close)
	}

	f := NewBucketBatcherFunction(
		rt.Pipeline,
		&gcsObjects{client: storageClient, maxBytes: cfg.MaxUploadBytes},
		gcp.NewJobStore(firestoreClient, cfg.FirestoreCollection),
		workflow,
		BucketBatcherConfig{OutputBucket: cfg.OutputBucket, ArchiveName: cfg.ArchiveName},
	)
	f.closers = closers
	slog.Info("Bucket batcher initialized.", "outputBucket", cfg.OutputBucket, "workflowId", cfg.WorkflowID)
	return f, nil
}

// NewBucketBatcherFunction assembles a batcher from its collaborators. workflow may be nil.
func NewBucketBatcherFunction(processor BatchProcessor, objects ObjectStore, jobs JobRecorder, workflow WorkflowStarter, cfg BucketBatcherConfig) *BucketBatcherFunction {
	if cfg.ArchiveName == "" {
		cfg.ArchiveName = config.DefaultArchiveName
	}
	return &BucketBatcherFunction{
		processor:    processor,
		objects:      objects,
		jobs:         jobs,
		workflow:     workflow,
		config:       cfg,
		maxRetries:   4,
		retryBackoff: time.Second,
	}
}

// Close releases every client the batcher opened.
func (f *BucketBatcherFunction) Close() error {
	return closeAll(f.closers)
}

// closeAll runs every closer and returns the first error.
func closeAll(closers []func() error) error {
	var firstErr error
	for _, c := range closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Process handles one finalized object. Objects that are not spreadsheets
// and files already seen are skipped without error.
func (f *BucketBatcherFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !ingest.SupportedExtension(e.Name) {
		logCtx.Info("Object is not a spreadsheet. Skipping.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	source, err := f.objects.Read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download source spreadsheet", "error", err)
		return err
	}

	fileHash := gcp.HashBytes(source)
	logCtx = logCtx.With("fileHash", fileHash)

	existing, err := f.jobs.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if ref, ok := activeJob(existing); ok {
		logCtx.Info("Duplicate file detected. Skipping.", "existingJobId", ref.ID, "existingStatus", ref.Status)
		return nil
	}
	if len(existing) > 0 {
		logCtx.Info("Previous jobs for this file failed. Retrying.", "failedJobs", len(existing))
	}

	jobID, err := f.jobs.Create(ctx, fileHash, gcp.ObjectURI(e.Bucket, e.Name))
	if err != nil {
		logCtx.Error("Failed to create job document", "error", err)
		return err
	}
	logCtx = logCtx.With("jobId", jobID)
	logCtx.Info("Created job document in Firestore.")

	res := f.processor.ProcessBatch(ctx, path.Base(e.Name), source)
	logCtx = logCtx.With("runId", res.RunID)
	if !res.Completed() {
		return f.handleFailure(ctx, logCtx, jobID, res)
	}

	objectName := jobID + "/" + f.config.ArchiveName
	if err := f.uploadArchive(ctx, logCtx, objectName, res.Archive); err != nil {
		return f.handleError(ctx, logCtx, jobID, res.RunID, "failed to store archive", err)
	}
	archiveURI := gcp.ObjectURI(f.config.OutputBucket, objectName)

	if err := f.jobs.Complete(ctx, jobID, res, archiveURI); err != nil {
		return f.handleError(ctx, logCtx, jobID, res.RunID, "failed to update status to COMPLETED", err)
	}
	logCtx.Info("Batch archived.", "archiveUri", archiveURI, "recordCount", res.RecordCount, "skippedCount", res.SkippedCount)

	if f.workflow != nil {
		execution, err := f.workflow.Trigger(ctx, models.BatchCompletedNotification{
			JobID:        jobID,
			RunID:        res.RunID,
			ArchiveURI:   archiveURI,
			RecordCount:  res.RecordCount,
			SkippedCount: res.SkippedCount,
		})
		if err != nil {
			// The archive is already stored and the job completed; only the notification is lost.
			logCtx.Error("Failed to trigger completion workflow.", "error", err)
			return err
		}
		logCtx.Info("Completion workflow triggered.", "execution", execution)
	}
	return nil
}

func (f *BucketBatcherFunction) uploadArchive(ctx context.Context, logCtx *slog.Logger, objectName string, archive []byte) error {
	backoff := f.retryBackoff
	var lastErr error

	for i := 0; i < f.maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()
			return f.objects.SaveAtomically(writeCtx, f.config.OutputBucket, objectName, archive, "application/zip")
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		logCtx.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", f.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", ctx.Err())
			return ctx.Err()
		}
	}
	return errors.Wrapf(lastErr, "upload for %s failed after all retries", objectName)
}

// activeJob returns a job that is processing or completed. Failed jobs do
// not block a new attempt on the same file.
func activeJob(refs []models.JobRef) (models.JobRef, bool) {
	for _, ref := range refs {
		if ref.Status != models.JobStatusFailed {
			return ref, true
		}
	}
	return models.JobRef{}, false
}

// handleFailure records a failed run on its job.
func (f *BucketBatcherFunction) handleFailure(ctx context.Context, logCtx *slog.Logger, jobID string, res *models.BatchResult) error {
	failure := res.Failure
	logCtx.Error("Batch failed.", "errorKind", failure.Kind, "recordId", failure.RecordID, "error", failure.Detail)
	if err := f.jobs.Fail(ctx, jobID, res.RunID, string(failure.Kind), failure.Detail, string(failure.RecordID)); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return failure
}

func (f *BucketBatcherFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID, runID, message string, originalErr error) error {
	err := errors.Wrap(originalErr, message)
	logCtx.Error(message, "error", originalErr)
	if uerr := f.jobs.Fail(ctx, jobID, runID, string(models.KindInternal), err.Error(), ""); uerr != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", uerr)
	}
	return err
}

// gcsObjects is the ObjectStore backed by Cloud Storage.
type gcsObjects struct {
	client   *storage.Client
	maxBytes int64
}

func (g *gcsObjects) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	return gcp.ReadObject(ctx, g.client.Bucket(bucket), object, g.maxBytes)
}

func (g *gcsObjects) SaveAtomically(ctx context.Context, bucket, object string, content []byte, contentType string) error {
	return gcp.SaveToGCSAtomically(ctx, g.client.Bucket(bucket), object, content, contentType)
}

var (
	_ JobRecorder     = (*gcp.JobStore)(nil)
	_ WorkflowStarter = (*gcp.WorkflowTrigger)(nil)
	_ ObjectStore     = (*gcsObjects)(nil)
)
