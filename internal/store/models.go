// Package store persists users, audio records, transcripts, and the bot job
// registry in a single SQLite database.
package store

import "time"

// JobState is the lifecycle state of a bot capture job.
type JobState string

const (
	JobStateCreated JobState = "created" // Bot launched, not yet confirmed joined
	JobStateRunning JobState = "running" // Bot confirmed in the call, recording
	JobStateDone    JobState = "done"    // External service reports completion
	JobStateFetched JobState = "fetched" // Transcript pulled and persisted; terminal
	JobStateFailed  JobState = "failed"  // Join timeout or service failure; terminal
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateFetched || s == JobStateFailed
}

// User is a registered account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AudioRecord is one meeting owned by a user. Fingerprint is empty for
// bot captures, which have no audio payload on disk.
type AudioRecord struct {
	ID          string
	UserID      string
	MeetingName string
	Filename    string
	Fingerprint string
	Source      string // "uploaded" or "bot-capture"
	JobID       string // external job id for bot captures
	CreatedAt   time.Time
}

// Audio record sources.
const (
	SourceUploaded   = "uploaded"
	SourceBotCapture = "bot-capture"
)

// TranscriptRecord is the normalized transcript for one meeting.
type TranscriptRecord struct {
	UserID     string
	MeetingID  string
	Transcript string
	Speakers   []string
	Provenance string // "direct", "webhook", or "poll"
	CreatedAt  time.Time
}

// Transcript provenance values.
const (
	ProvenanceDirect  = "direct"
	ProvenanceWebhook = "webhook"
	ProvenancePoll    = "poll"
)

// BotJob is one entry in the bot job registry, keyed by the externally
// issued job id.
type BotJob struct {
	ID          string
	UserID      string
	MeetingName string
	MeetingURL  string
	State       JobState
	Fetched     bool
	MeetingID   string // resolved meeting id once a transcript is persisted
	CreatedAt   time.Time
}
