// Package qart stores job artifacts (script, logs, run record) in
// S3-compatible storage.
package qart

import (
	"context"
	"io"
	"path"
	"time"
)

// Artifact describes one stored job file.
type Artifact struct {
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"` // base name inside the job, e.g. "stdout.log"
	Key         string    `json:"key"`  // object key, "jobs/<jobID>/<name>"
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Store is where an agent leaves the files of finished jobs.
type Store interface {
	// PutJobFile uploads size bytes of r as the job's file name.
	// size may be -1 when unknown.
	PutJobFile(ctx context.Context, jobID, name string, r io.Reader, size int64) (*Artifact, error)

	// PresignJobFile returns a download link valid for expiry.
	PresignJobFile(ctx context.Context, jobID, name string, expiry time.Duration) (string, error)
}

// JobArtifactPrefix returns the key prefix for a job's artifacts.
func JobArtifactPrefix(jobID string) string {
	return "jobs/" + jobID + "/"
}

// JobArtifactKey returns the full key for one of a job's artifacts.
// Only the base name is kept.
func JobArtifactKey(jobID, filename string) string {
	return JobArtifactPrefix(jobID) + path.Base(filename)
}

// ContentTypeFor guesses a content type from an artifact filename.
func ContentTypeFor(filename string) string {
	switch path.Ext(filename) {
	case ".json":
		return "application/json"
	case ".log", ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
