package gcp

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, errors.New("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Firestore client")
	}

	return client, nil
}

// JobStore keeps one BatchJob document per spreadsheet processed from the bucket.
type JobStore struct {
	client     *firestore.Client
	collection string
}

// NewJobStore returns a JobStore over collection.
func NewJobStore(client *firestore.Client, collection string) *JobStore {
	return &JobStore{client: client, collection: collection}
}

// FindByHash returns every job created for fileHash.
func (s *JobStore) FindByHash(ctx context.Context, fileHash string) ([]models.JobRef, error) {
	docs, err := s.client.Collection(s.collection).Where("fileHash", "==", fileHash).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for duplicates")
	}
	refs := make([]models.JobRef, 0, len(docs))
	for _, doc := range docs {
		var job models.BatchJob
		if err := doc.DataTo(&job); err != nil {
			return nil, errors.Wrapf(err, "failed to decode job %s", doc.Ref.ID)
		}
		refs = append(refs, models.JobRef{ID: doc.Ref.ID, Status: job.Status})
	}
	return refs, nil
}

// Create stores a new job in PROCESSING state and returns its ID.
func (s *JobStore) Create(ctx context.Context, fileHash, sourceObject string) (string, error) {
	job := models.BatchJob{
		FileHash:     fileHash,
		SourceObject: sourceObject,
		Status:       models.JobStatusProcessing,
		CreatedAt:    time.Now(),
	}
	ref, _, err := s.client.Collection(s.collection).Add(ctx, job)
	if err != nil {
		return "", errors.Wrap(err, "failed to create job document")
	}
	return ref.ID, nil
}

// Complete records a finished run.
func (s *JobStore) Complete(ctx context.Context, jobID string, res *models.BatchResult, archiveURI string) error {
	return s.update(ctx, jobID, []firestore.Update{
		{Path: "status", Value: models.JobStatusCompleted},
		{Path: "runId", Value: res.RunID},
		{Path: "recordCount", Value: res.RecordCount},
		{Path: "skippedCount", Value: res.SkippedCount},
		{Path: "archiveUri", Value: archiveURI},
	})
}

// Fail records why a job stopped. kind and recordID may be empty.
func (s *JobStore) Fail(ctx context.Context, jobID, runID, kind, details, recordID string) error {
	updates := []firestore.Update{
		{Path: "status", Value: models.JobStatusFailed},
		{Path: "errorDetails", Value: details},
	}
	if runID != "" {
		updates = append(updates, firestore.Update{Path: "runId", Value: runID})
	}
	if kind != "" {
		updates = append(updates, firestore.Update{Path: "errorKind", Value: kind})
	}
	if recordID != "" {
		updates = append(updates, firestore.Update{Path: "failedRecordId", Value: recordID})
	}
	return s.update(ctx, jobID, updates)
}

func (s *JobStore) update(ctx context.Context, jobID string, updates []firestore.Update) error {
	if _, err := s.client.Collection(s.collection).Doc(jobID).Update(ctx, updates); err != nil {
		return errors.Wrapf(err, "failed to update job %s", jobID)
	}
	return nil
}
