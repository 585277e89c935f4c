package models

import "time"

// Job status values stored on BatchJob.Status.
const (
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// BatchJob is the Firestore record for a spreadsheet dropped into the input bucket.
// It tracks the outcome of the run that processed it.
type BatchJob struct {
	FileHash       string    `firestore:"fileHash,omitempty"`
	SourceObject   string    `firestore:"sourceObject,omitempty"`
	Status         string    `firestore:"status,omitempty"`
	RunID          string    `firestore:"runId,omitempty"`
	RecordCount    int       `firestore:"recordCount,omitempty"`
	SkippedCount   int       `firestore:"skippedCount,omitempty"`
	ArchiveURI     string    `firestore:"archiveUri,omitempty"`
	ErrorKind      string    `firestore:"errorKind,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty"`
	FailedRecordID string    `firestore:"failedRecordId,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
}

// JobRef identifies an existing job and its status.
type JobRef struct {
	ID     string
	Status string
}
