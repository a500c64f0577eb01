package constants

// JobStatus is the canonical status for async extraction jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // queued, not yet picked up
	JobStatusProcessing JobStatus = "processing" // worker is extracting
	JobStatusCompleted  JobStatus = "completed"  // result available
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)
