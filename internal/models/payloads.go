package models

// These structs define the JSON payloads exchanged with callers of the
// upload function and with the completion workflow.

// BatchFailureResponse is the body returned by the upload function when a batch fails.
type BatchFailureResponse struct {
	Status    string `json:"status"`
	RunID     string `json:"runId"`
	ErrorKind string `json:"errorKind"`
	Detail    string `json:"detail"`
	RecordID  string `json:"recordId,omitempty"`
}

// BatchCompletedNotification is the argument passed to the completion workflow.
type BatchCompletedNotification struct {
	JobID        string `json:"jobId"`
	RunID        string `json:"runId"`
	ArchiveURI   string `json:"archiveUri"`
	RecordCount  int    `json:"recordCount"`
	SkippedCount int    `json:"skippedCount"`
}

// InspectedRecord is one line of the identifier preview produced by a dry run.
type InspectedRecord struct {
	Position   int    `json:"position"`
	Identifier string `json:"identifier"`
	FieldCount int    `json:"fieldCount"`
}
