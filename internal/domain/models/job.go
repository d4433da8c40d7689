package models

import (
	"github.com/docufort/admitd/pkg/constants"
)

// JobErrorKind classifies a document engine failure.
type JobErrorKind string

const (
	// JobErrorBadPassword means the supplied password did not decrypt the file
	JobErrorBadPassword JobErrorKind = "bad_password"

	// JobErrorCorruptFile means the source document could not be parsed
	JobErrorCorruptFile JobErrorKind = "corrupt_file"

	// JobErrorCancelled means the job was abandoned on user request
	JobErrorCancelled JobErrorKind = "cancelled"

	// JobErrorEngine means the engine failed for an unspecified reason
	JobErrorEngine JobErrorKind = "engine_failure"
)

// Job is a typed instruction for the document-processing engine.
type Job struct {
	ID     string            `json:"id"`
	UserID string            `json:"user_id"`
	Type   constants.JobType `json:"type"`

	// Source is the primary document; Sources is used by merge jobs
	Source  *FileRef  `json:"source,omitempty"`
	Sources []FileRef `json:"sources,omitempty"`

	// Parameters carries operation specific values: "password" for unlock,
	// "pages" for delete_pages, "text" for watermark
	Parameters map[string]string `json:"parameters,omitempty"`
}

// JobResult is the asynchronous outcome of a submitted job.
type JobResult struct {
	JobID      string       `json:"job_id"`
	Success    bool         `json:"success"`
	OutputFile *FileRef     `json:"output_file,omitempty"`
	ErrorKind  JobErrorKind `json:"error_kind,omitempty"`
}
