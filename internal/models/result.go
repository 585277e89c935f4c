package models

// ErrorKind names the class of a fatal batch failure.
type ErrorKind string

const (
	KindFormat     ErrorKind = "FormatError"
	KindSchema     ErrorKind = "SchemaError"
	KindRender     ErrorKind = "RenderError"
	KindGeneration ErrorKind = "GenerationError"
	KindTimeout    ErrorKind = "EngineTimeout"
	KindArchive    ErrorKind = "ArchiveError"
	KindCanceled   ErrorKind = "Canceled"
	KindInternal   ErrorKind = "InternalError"
)

// BatchFailure is the fatal outcome of a run.
type BatchFailure struct {
	Kind     ErrorKind
	Detail   string
	RecordID RecordIdentifier // empty when no single record is to blame
	Err      error
}

func (f *BatchFailure) Error() string {
	if f.RecordID != "" {
		return string(f.Kind) + " (record " + string(f.RecordID) + "): " + f.Detail
	}
	return string(f.Kind) + ": " + f.Detail
}

func (f *BatchFailure) Unwrap() error { return f.Err }

// BatchResult is what a run hands back to its caller. Exactly one of
// Archive (Completed) or Failure (Failed) is meaningful.
type BatchResult struct {
	RunID        string
	Archive      []byte
	Entries      []string
	RecordCount  int
	SkippedCount int
	Skipped      []SkippedRecord
	Failure      *BatchFailure
}

// Completed reports whether the run produced an archive.
func (r *BatchResult) Completed() bool { return r.Failure == nil }
