package domain

import "time"

// JobStatus represents the lifecycle state of an export job.
type JobStatus string

// Export job lifecycle statuses.
const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusError   JobStatus = "ERROR"
)

// Terminal reports whether no further transition happens without supersession.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// JobRecord stores durable state for one job signature. At most one record
// exists per signature; transitions happen only through compare-and-swap on
// Version.
type JobRecord struct {
	Signature    string
	Identity     string
	Status       JobStatus
	Filename     string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
	Version      int64
}

// Clone returns a deep copy so callers can mutate without touching a shared record.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ManifestEntry maps an identity to its most recent retained artifact.
type ManifestEntry struct {
	Identity  string
	Filename  string
	UpdatedAt time.Time
}
