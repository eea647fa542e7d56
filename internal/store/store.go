package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by store operations.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateUser  = errors.New("user already exists")
	ErrDuplicateJobID = errors.New("job id already registered")
	ErrAlreadyFetched = errors.New("job already fetched")
)

// Store wraps the SQLite database holding all persisted state.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audio_records (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	meeting_name TEXT NOT NULL,
	filename     TEXT NOT NULL,
	fingerprint  TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT 'uploaded',
	job_id       TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_audio_user_fingerprint
	ON audio_records(user_id, fingerprint) WHERE fingerprint != '';

CREATE TABLE IF NOT EXISTS transcripts (
	user_id    TEXT NOT NULL,
	meeting_id TEXT NOT NULL,
	transcript TEXT NOT NULL,
	speakers   TEXT NOT NULL DEFAULT '[]',
	provenance TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, meeting_id)
);

CREATE TABLE IF NOT EXISTS bot_jobs (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	meeting_name TEXT NOT NULL,
	meeting_url  TEXT NOT NULL,
	state        TEXT NOT NULL,
	fetched      INTEGER NOT NULL DEFAULT 0,
	meeting_id   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes every read-modify-write sequence,
	// which is the whole-store mutual exclusion the reconciliation
	// contract needs.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateUser inserts a new user. Returns ErrDuplicateUser if the username
// is taken.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.Username, u.PasswordHash, u.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByUsername returns the user with the given username, or nil if absent.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = ?
	`, username)
	return scanUser(row)
}

// UserByID returns the user with the given id, or nil if absent.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// InsertAudioRecord inserts a new audio record.
func (s *Store) InsertAudioRecord(ctx context.Context, rec AudioRecord) error {
	return insertAudioRecord(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudioRecord(ctx context.Context, ex execer, rec AudioRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO audio_records (id, user_id, meeting_name, filename, fingerprint, source, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.MeetingName, rec.Filename, rec.Fingerprint, rec.Source, rec.JobID, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert audio record: %w", err)
	}
	return nil
}

// FindAudioByFingerprint returns the user's earliest audio record with the
// given fingerprint, or nil if none exists.
func (s *Store) FindAudioByFingerprint(ctx context.Context, userID, fingerprint string) (*AudioRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, meeting_name, filename, fingerprint, source, job_id, created_at
		FROM audio_records
		WHERE user_id = ? AND fingerprint = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, userID, fingerprint)

	rec, err := scanAudioRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// GetMeeting returns one of the user's audio records by meeting id.
func (s *Store) GetMeeting(ctx context.Context, userID, meetingID string) (*AudioRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, meeting_name, filename, fingerprint, source, job_id, created_at
		FROM audio_records
		WHERE user_id = ? AND id = ?
	`, userID, meetingID)

	rec, err := scanAudioRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListMeetings returns all of the user's audio records, newest first.
func (s *Store) ListMeetings(ctx context.Context, userID string) ([]AudioRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, meeting_name, filename, fingerprint, source, job_id, created_at
		FROM audio_records
		WHERE user_id = ?
		ORDER BY created_at DESC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var records []AudioRecord
	for rows.Next() {
		var rec AudioRecord
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.MeetingName, &rec.Filename,
			&rec.Fingerprint, &rec.Source, &rec.JobID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audio record: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudioRecord(row rowScanner) (*AudioRecord, error) {
	var rec AudioRecord
	var createdAt int64
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.MeetingName, &rec.Filename,
		&rec.Fingerprint, &rec.Source, &rec.JobID, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}

// UpsertTranscript writes the transcript for (user, meeting), replacing any
// existing row for that key.
func (s *Store) UpsertTranscript(ctx context.Context, t TranscriptRecord) error {
	return upsertTranscript(ctx, s.db, t)
}

func upsertTranscript(ctx context.Context, ex execer, t TranscriptRecord) error {
	speakers, err := json.Marshal(t.Speakers)
	if err != nil {
		return fmt.Errorf("encode speakers: %w", err)
	}
	if t.Speakers == nil {
		speakers = []byte("[]")
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO transcripts (user_id, meeting_id, transcript, speakers, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, meeting_id) DO UPDATE SET
			transcript = excluded.transcript,
			speakers   = excluded.speakers,
			provenance = excluded.provenance
	`, t.UserID, t.MeetingID, t.Transcript, string(speakers), t.Provenance, t.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	return nil
}

// GetTranscript returns the transcript for (user, meeting).
func (s *Store) GetTranscript(ctx context.Context, userID, meetingID string) (*TranscriptRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, meeting_id, transcript, speakers, provenance, created_at
		FROM transcripts
		WHERE user_id = ? AND meeting_id = ?
	`, userID, meetingID)

	var t TranscriptRecord
	var speakers string
	var createdAt int64
	if err := row.Scan(&t.UserID, &t.MeetingID, &t.Transcript, &speakers, &t.Provenance, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(speakers), &t.Speakers); err != nil {
		return nil, fmt.Errorf("decode speakers: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

// CreateJob registers a new bot job. Returns ErrDuplicateJobID if the job id
// is already present.
func (s *Store) CreateJob(ctx context.Context, job BotJob) error {
	if job.State == "" {
		job.State = JobStateCreated
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_jobs (id, user_id, meeting_name, meeting_url, state, fetched, meeting_id, created_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?)
	`, job.ID, job.UserID, job.MeetingName, job.MeetingURL, string(job.State), job.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrDuplicateJobID
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns the job with the given id, or nil if it is unknown.
func (s *Store) GetJob(ctx context.Context, jobID string) (*BotJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, meeting_name, meeting_url, state, fetched, meeting_id, created_at
		FROM bot_jobs WHERE id = ?
	`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// ListPendingJobs returns all jobs that still need reconciliation, oldest
// first.
func (s *Store) ListPendingJobs(ctx context.Context) ([]BotJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, meeting_name, meeting_url, state, fetched, meeting_id, created_at
		FROM bot_jobs
		WHERE fetched = 0 AND state != 'failed'
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []BotJob
	for rows.Next() {
		var job BotJob
		var state string
		var fetched int
		var createdAt int64
		if err := rows.Scan(&job.ID, &job.UserID, &job.MeetingName, &job.MeetingURL,
			&state, &fetched, &job.MeetingID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.State = JobState(state)
		job.Fetched = fetched != 0
		job.CreatedAt = time.Unix(createdAt, 0).UTC()
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*BotJob, error) {
	var job BotJob
	var state string
	var fetched int
	var createdAt int64
	if err := row.Scan(&job.ID, &job.UserID, &job.MeetingName, &job.MeetingURL,
		&state, &fetched, &job.MeetingID, &createdAt); err != nil {
		return nil, err
	}
	job.State = JobState(state)
	job.Fetched = fetched != 0
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &job, nil
}

// UpdateJobState records a non-terminal state transition observed from the
// external service. The fetched flag is untouched.
func (s *Store) UpdateJobState(ctx context.Context, jobID string, state JobState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bot_jobs SET state = ? WHERE id = ? AND fetched = 0
	`, string(state), jobID)
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already fetched or unknown; either way nothing to record.
		return nil
	}
	return nil
}

// SaveJobResult atomically claims the job's fetched flag and persists the
// resulting audio record and transcript in one transaction. A second call
// for the same job id returns ErrAlreadyFetched without writing anything.
func (s *Store) SaveJobResult(ctx context.Context, jobID string, rec AudioRecord, tr TranscriptRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The check-and-set on fetched is the single serialization point for
	// exactly-once transcript persistence per job.
	res, err := tx.ExecContext(ctx, `
		UPDATE bot_jobs SET fetched = 1, state = 'fetched', meeting_id = ?
		WHERE id = ? AND fetched = 0
	`, rec.ID, jobID)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM bot_jobs WHERE id = ?`, jobID).Scan(&exists); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrAlreadyFetched
	}

	if err := insertAudioRecord(ctx, tx, rec); err != nil {
		return err
	}
	if err := upsertTranscript(ctx, tx, tr); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job result: %w", err)
	}
	return nil
}
