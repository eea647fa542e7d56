package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Legacy JSON document names from the original file-backed deployment.
const (
	legacyUsersFile       = "users.json"
	legacyAudiosFile      = "audios.json"
	legacyTranscriptsFile = "transcripts.json"
	legacyBotJobsFile     = "bot_meetings.json"
)

type legacyUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

type legacyAudio struct {
	MeetingName string `json:"meeting_name"`
	Filename    string `json:"filename"`
	UploadDate  string `json:"upload_date"`
	FileHash    string `json:"file_hash"`
	Source      string `json:"source"`
	BotID       string `json:"bot_id"`
}

type legacyTranscript struct {
	Transcript string   `json:"transcript"`
	Speakers   []string `json:"speakers"`
	Source     string   `json:"source"`
}

type legacyBotJob struct {
	UserID            string `json:"user_id"`
	MeetingName       string `json:"meeting_name"`
	MeetingURL        string `json:"meeting_url"`
	TranscriptFetched bool   `json:"transcript_fetched"`
	MeetingID         string `json:"meeting_id"`
}

// ImportLegacyData performs a one-time import of the original JSON documents
// found in dataDir. Each file is renamed with an ".imported" suffix after a
// successful import so restarts do not re-run it. Missing files are skipped.
func (s *Store) ImportLegacyData(ctx context.Context, dataDir string) error {
	importers := []struct {
		name string
		fn   func(context.Context, []byte) error
	}{
		{legacyUsersFile, s.importLegacyUsers},
		{legacyAudiosFile, s.importLegacyAudios},
		{legacyTranscriptsFile, s.importLegacyTranscripts},
		{legacyBotJobsFile, s.importLegacyBotJobs},
	}

	for _, imp := range importers {
		path := filepath.Join(dataDir, imp.name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read %s: %w", imp.name, err)
		}
		if len(data) == 0 {
			_ = os.Rename(path, path+".imported")
			continue
		}
		if err := imp.fn(ctx, data); err != nil {
			return fmt.Errorf("import %s: %w", imp.name, err)
		}
		if err := os.Rename(path, path+".imported"); err != nil {
			return fmt.Errorf("mark %s imported: %w", imp.name, err)
		}
	}
	return nil
}

func (s *Store) importLegacyUsers(ctx context.Context, data []byte) error {
	var users map[string]legacyUser
	if err := json.Unmarshal(data, &users); err != nil {
		return err
	}
	for username, u := range users {
		if u.Username == "" {
			u.Username = username
		}
		err := s.CreateUser(ctx, User{
			ID:           u.ID,
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil && !errors.Is(err, ErrDuplicateUser) {
			return err
		}
	}
	return nil
}

func (s *Store) importLegacyAudios(ctx context.Context, data []byte) error {
	var audios map[string]map[string]legacyAudio
	if err := json.Unmarshal(data, &audios); err != nil {
		return err
	}
	for userID, meetings := range audios {
		for meetingID, a := range meetings {
			source := SourceUploaded
			if a.BotID != "" || (a.Source != "" && a.Source != SourceUploaded) {
				source = SourceBotCapture
			}
			createdAt := time.Now().UTC()
			if a.UploadDate != "" {
				if t, err := time.Parse(time.RFC3339, a.UploadDate); err == nil {
					createdAt = t
				}
			}
			err := s.InsertAudioRecord(ctx, AudioRecord{
				ID:          meetingID,
				UserID:      userID,
				MeetingName: a.MeetingName,
				Filename:    a.Filename,
				Fingerprint: a.FileHash,
				Source:      source,
				JobID:       a.BotID,
				CreatedAt:   createdAt,
			})
			if isUniqueViolation(err) {
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// importLegacyTranscripts tolerates the old document shape, where a
// transcript value was either a bare string or a structured record. This is
// the only place that branch exists; everything past the import sees the
// structured form.
func (s *Store) importLegacyTranscripts(ctx context.Context, data []byte) error {
	var transcripts map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &transcripts); err != nil {
		return err
	}
	for userID, meetings := range transcripts {
		for meetingID, raw := range meetings {
			var text string
			var speakers []string

			var bare string
			if err := json.Unmarshal(raw, &bare); err == nil {
				text = bare
			} else {
				var t legacyTranscript
				if err := json.Unmarshal(raw, &t); err != nil {
					return fmt.Errorf("transcript %s/%s: %w", userID, meetingID, err)
				}
				text = t.Transcript
				speakers = t.Speakers
			}

			if text == "" {
				continue
			}
			err := s.UpsertTranscript(ctx, TranscriptRecord{
				UserID:     userID,
				MeetingID:  meetingID,
				Transcript: text,
				Speakers:   speakers,
				Provenance: ProvenanceDirect,
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) importLegacyBotJobs(ctx context.Context, data []byte) error {
	var jobs map[string]legacyBotJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}
	for jobID, j := range jobs {
		state := JobStateCreated
		if j.TranscriptFetched {
			state = JobStateFetched
		}
		err := s.CreateJob(ctx, BotJob{
			ID:          jobID,
			UserID:      j.UserID,
			MeetingName: j.MeetingName,
			MeetingURL:  j.MeetingURL,
			State:       state,
			CreatedAt:   time.Now().UTC(),
		})
		if errors.Is(err, ErrDuplicateJobID) {
			continue
		}
		if err != nil {
			return err
		}
		if j.TranscriptFetched {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE bot_jobs SET fetched = 1, meeting_id = ? WHERE id = ?
			`, j.MeetingID, jobID); err != nil {
				return fmt.Errorf("mark imported job fetched: %w", err)
			}
		}
	}
	return nil
}
