// Package ingest runs the upload pipeline: persist the payload, deduplicate
// by content fingerprint, transcribe, diarize, and store the result.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echonote/echo-note/internal/asr"
	"github.com/echonote/echo-note/internal/config"
	"github.com/echonote/echo-note/internal/diarize"
	"github.com/echonote/echo-note/internal/observability"
	"github.com/echonote/echo-note/internal/resilience"
	"github.com/echonote/echo-note/internal/store"
	"github.com/echonote/echo-note/internal/transcript"
)

// TranscriptionUnavailable is stored when the recognition sidecar cannot be
// reached. The upload itself still succeeds.
const TranscriptionUnavailable = "Transcription service unavailable."

// Fallback shown for meetings whose transcript row is missing.
const noTranscript = "No transcript available"

// ErrInvalidFileType rejects uploads with an extension outside the allow-list.
var ErrInvalidFileType = errors.New("invalid file type")

var allowedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".ogg": true, ".m4a": true,
	".flac": true, ".aac": true, ".webm": true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Recognizer is the speech-to-text boundary consumed by the pipeline.
type Recognizer interface {
	Transcribe(ctx context.Context, path string) (*asr.Result, error)
}

// UploadResult is the outcome of one processed upload.
type UploadResult struct {
	MeetingID   string
	MeetingName string
	Filename    string
	Transcript  string
	Speakers    []string
	Duplicate   bool
}

// Service wires the upload pipeline together.
type Service struct {
	store      *store.Store
	recognizer Recognizer
	uploadsDir string

	minSegmentSeconds float64
	maxSpeakers       int
	retryConfig       *resilience.RetryConfig

	logger zerolog.Logger
}

// NewService creates the upload pipeline service.
func NewService(cfg *config.Config, st *store.Store, recognizer Recognizer) *Service {
	return &Service{
		store:             st,
		recognizer:        recognizer,
		uploadsDir:        cfg.UploadsDir,
		minSegmentSeconds: cfg.MinSegmentSeconds,
		maxSpeakers:       cfg.MaxSpeakers,
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: observability.WithComponent("ingest"),
	}
}

// Process stores an uploaded payload and returns its transcript. A payload
// whose fingerprint matches one of the user's existing records resolves to
// that record: the fresh copy is deleted and the stored transcript returned
// verbatim, flagged as a duplicate.
func (s *Service) Process(ctx context.Context, userID, meetingName, filename string, payload io.Reader) (*UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		observability.RecordUpload("rejected")
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, ext)
	}
	if meetingName == "" {
		meetingName = "Untitled Meeting"
	}

	// Write the payload to durable storage before anything else touches it
	userDir := filepath.Join(s.uploadsDir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	storedName := uniqueFilename(filename)
	path := filepath.Join(userDir, storedName)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}
	if _, err := io.Copy(f, payload); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("store payload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("store payload: %w", err)
	}

	stored, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reopen payload: %w", err)
	}
	fingerprint, err := Fingerprint(stored)
	stored.Close()
	if err != nil {
		return nil, err
	}

	// Dedup check runs before any transcription work is dispatched
	if existing, err := s.store.FindAudioByFingerprint(ctx, userID, fingerprint); err != nil {
		return nil, err
	} else if existing != nil {
		return s.resolveDuplicate(ctx, path, existing)
	}

	meetingID := uuid.New().String()
	text, speakers := s.transcribe(ctx, path)

	rec := store.AudioRecord{
		ID:          meetingID,
		UserID:      userID,
		MeetingName: meetingName,
		Filename:    storedName,
		Fingerprint: fingerprint,
		Source:      store.SourceUploaded,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertAudioRecord(ctx, rec); err != nil {
		// A concurrent upload of the same payload can win the insert race;
		// resolve to its record like any other duplicate.
		if existing, findErr := s.store.FindAudioByFingerprint(ctx, userID, fingerprint); findErr == nil && existing != nil {
			return s.resolveDuplicate(ctx, path, existing)
		}
		return nil, err
	}

	if err := s.store.UpsertTranscript(ctx, store.TranscriptRecord{
		UserID:     userID,
		MeetingID:  meetingID,
		Transcript: text,
		Speakers:   speakers,
		Provenance: store.ProvenanceDirect,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	observability.RecordUpload("created")
	s.logger.Info().
		Str("user_id", userID).
		Str("meeting_id", meetingID).
		Int("speakers", len(speakers)).
		Msg("Upload transcribed and stored")

	return &UploadResult{
		MeetingID:   meetingID,
		MeetingName: meetingName,
		Filename:    storedName,
		Transcript:  text,
		Speakers:    speakers,
	}, nil
}

func (s *Service) resolveDuplicate(ctx context.Context, newPath string, existing *store.AudioRecord) (*UploadResult, error) {
	// Drop the fresh copy so duplicate uploads never grow storage
	if err := os.Remove(newPath); err != nil {
		s.logger.Warn().Err(err).Str("path", newPath).Msg("Failed to remove duplicate payload")
	}

	text := noTranscript
	var speakers []string
	tr, err := s.store.GetTranscript(ctx, existing.UserID, existing.ID)
	if err == nil {
		text = tr.Transcript
		speakers = tr.Speakers
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	observability.RecordUpload("duplicate")
	s.logger.Info().
		Str("user_id", existing.UserID).
		Str("meeting_id", existing.ID).
		Msg("Duplicate upload resolved to existing meeting")

	return &UploadResult{
		MeetingID:   existing.ID,
		MeetingName: existing.MeetingName,
		Filename:    existing.Filename,
		Transcript:  text,
		Speakers:    speakers,
		Duplicate:   true,
	}, nil
}

// transcribe calls the recognition sidecar and folds the result into final
// transcript text. Recognition failure degrades to a stored placeholder.
func (s *Service) transcribe(ctx context.Context, path string) (string, []string) {
	var result *asr.Result
	err := resilience.Retry(ctx, func() error {
		r, err := s.recognizer.Transcribe(ctx, path)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, s.retryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Recognition sidecar unavailable, storing placeholder")
		observability.RecordError("asr_unavailable", "ingest")
		return TranscriptionUnavailable, nil
	}

	segments := result.Segments
	if len(segments) == 0 {
		if strings.TrimSpace(result.Text) == "" {
			return transcript.UnableToTranscribe, nil
		}
		return strings.TrimSpace(result.Text), nil
	}

	numSpeakers := s.assignClusters(segments)
	text, speakers := transcript.Normalize(segments, numSpeakers)
	if numSpeakers > 0 {
		observability.RecordDetectedSpeakers(numSpeakers)
	}
	return text, speakers
}

// assignClusters diarizes the clusterable segments and returns the number of
// distinct speakers found, or 0 when diarization is unavailable. Segments
// below the minimum duration or without an embedding are excluded from
// clustering and inherit the nearest assigned neighbor's cluster, so their
// text keeps its place in the speaker flow.
func (s *Service) assignClusters(segments []transcript.Segment) int {
	var embeddings [][]float64
	var indices []int
	for i, seg := range segments {
		if len(seg.Embedding) == 0 || seg.Duration() < s.minSegmentSeconds {
			continue
		}
		embeddings = append(embeddings, seg.Embedding)
		indices = append(indices, i)
	}
	if len(embeddings) == 0 {
		return 0
	}

	k := s.maxSpeakers
	if len(embeddings) < k {
		k = len(embeddings)
	}
	labels := diarize.Cluster(embeddings, k)

	for pos, i := range indices {
		segments[i].Cluster = labels[pos]
	}

	// Backward pass first so leading short segments inherit from the first
	// assigned segment, then forward pass for everything after it
	for i := len(segments) - 2; i >= 0; i-- {
		if segments[i].Cluster == transcript.ClusterUnassigned {
			segments[i].Cluster = segments[i+1].Cluster
		}
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].Cluster == transcript.ClusterUnassigned {
			segments[i].Cluster = segments[i-1].Cluster
		}
	}

	distinct := make(map[int]bool)
	for _, l := range labels {
		distinct[l] = true
	}
	return len(distinct)
}

// uniqueFilename sanitizes the client-supplied name and appends a timestamp
// so repeated uploads of the same file name never collide on disk.
func uniqueFilename(filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if name == "" {
		name = "audio"
	}
	return fmt.Sprintf("%s_%d%s", name, time.Now().UnixNano(), strings.ToLower(ext))
}
