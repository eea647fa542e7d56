// Package meetingbot is the REST client for the external meeting-capture
// service. A launched bot joins a meeting, records it, and exposes a
// status and transcript per job id.
package meetingbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/echo-note/internal/config"
	"github.com/echonote/echo-note/internal/observability"
	"github.com/echonote/echo-note/internal/resilience"
	"github.com/echonote/echo-note/internal/transcript"
)

// Status reported by the external service for one job.
type Status string

const (
	StatusJoining Status = "joining"
	StatusInCall  Status = "in_call"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Sentinel errors.
var (
	ErrNotConfigured = errors.New("meeting bot service api key not configured")
	ErrNoTranscript  = errors.New("no transcript available yet")
)

const apiKeyHeader = "x-meeting-baas-api-key"

// Client is an HTTP client for the meeting bot service.
type Client struct {
	baseURL       string
	apiKey        string
	botName       string
	launchTimeout time.Duration
	statusTimeout time.Duration
	fetchTimeout  time.Duration
	waitingRoom   int

	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
}

// NewClient creates a new meeting bot service client.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BotBaseURL, "/"),
		apiKey:        cfg.BotAPIKey,
		botName:       cfg.BotName,
		launchTimeout: time.Duration(cfg.BotLaunchTimeout) * time.Second,
		statusTimeout: time.Duration(cfg.BotStatusTimeout) * time.Second,
		fetchTimeout:  time.Duration(cfg.BotFetchTimeout) * time.Second,
		waitingRoom:   cfg.WaitingRoomExpiry,
		httpClient:    &http.Client{},
		circuitBreaker: resilience.NewCircuitBreaker(
			"meetingbot",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type launchRequest struct {
	MeetingURL       string         `json:"meeting_url"`
	BotName          string         `json:"bot_name"`
	DeduplicationKey string         `json:"deduplication_key"`
	RecordingMode    string         `json:"recording_mode"`
	SpeechToText     string         `json:"speech_to_text"`
	AutomaticLeave   automaticLeave `json:"automatic_leave"`
}

type automaticLeave struct {
	WaitingRoomTimeout int `json:"waiting_room_timeout"`
}

type launchResponse struct {
	ID    string `json:"id"`
	BotID string `json:"bot_id"`
}

// Launch asks the service to send a bot into the meeting and returns the
// externally issued job id. The deduplication key is unique per launch, not
// per meeting, so several bots may join the same URL.
func (c *Client) Launch(ctx context.Context, meetingURL string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	payload := launchRequest{
		MeetingURL:       meetingURL,
		BotName:          c.botName,
		DeduplicationKey: "echo-note-" + uuid.New().String(),
		RecordingMode:    "speaker_view",
		SpeechToText:     "Default",
		AutomaticLeave:   automaticLeave{WaitingRoomTimeout: c.waitingRoom},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode launch request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.launchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bots", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create launch request: %w", err)
	}
	c.setHeaders(req)

	var jobID string
	err = c.guarded("launch", func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("launch bot: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("launch bot http %d: %s", resp.StatusCode, string(b))
		}

		var lr launchResponse
		if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
			return fmt.Errorf("decode launch response: %w", err)
		}
		jobID = lr.ID
		if jobID == "" {
			jobID = lr.BotID
		}
		if jobID == "" {
			return errors.New("launch response carried no job id")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

type meetingData struct {
	BotData struct {
		Bot struct {
			JoinedAt string `json:"bot_joined_at"`
			EndedAt  string `json:"ended_at"`
			FailedAt string `json:"failed_at"`
		} `json:"bot"`
		Transcripts []struct {
			Speaker string `json:"speaker"`
			Words   []struct {
				Text string `json:"text"`
			} `json:"words"`
		} `json:"transcripts"`
	} `json:"bot_data"`
}

// Status queries the service for a job's current state.
func (c *Client) Status(ctx context.Context, jobID string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	var data *meetingData
	err := c.guarded("status", func() error {
		d, err := c.meetingData(ctx, jobID)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		return "", err
	}

	bot := data.BotData.Bot
	switch {
	case bot.FailedAt != "":
		return StatusFailed, nil
	case bot.EndedAt != "":
		return StatusDone, nil
	case bot.JoinedAt != "":
		return StatusInCall, nil
	default:
		return StatusJoining, nil
	}
}

// FetchTranscript retrieves the finished transcript for a job as
// speaker-labeled segments. ErrNoTranscript means the service has not
// produced one yet; the caller retries on a later tick.
func (c *Client) FetchTranscript(ctx context.Context, jobID string) ([]transcript.LabeledSegment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var data *meetingData
	err := c.guarded("fetch", func() error {
		d, err := c.meetingData(ctx, jobID)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(data.BotData.Transcripts) == 0 {
		return nil, ErrNoTranscript
	}

	segments := make([]transcript.LabeledSegment, 0, len(data.BotData.Transcripts))
	for _, t := range data.BotData.Transcripts {
		var text strings.Builder
		for _, w := range t.Words {
			text.WriteString(w.Text)
		}
		segments = append(segments, transcript.LabeledSegment{
			Speaker: t.Speaker,
			Text:    strings.TrimSpace(text.String()),
		})
	}
	return segments, nil
}

func (c *Client) meetingData(ctx context.Context, jobID string) (*meetingData, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bots/meeting_data", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("bot_id", jobID)
	req.URL.RawQuery = q.Encode()
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meeting data request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("meeting data http %d: %s", resp.StatusCode, string(b))
	}

	var data meetingData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode meeting data: %w", err)
	}
	return &data, nil
}

func (c *Client) guarded(operation string, fn func() error) error {
	err := c.circuitBreaker.Call(fn)
	observability.UpdateCircuitBreakerState(c.circuitBreaker.Name(), int(c.circuitBreaker.GetState()))
	observability.RecordBotRequest(operation, err == nil)
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)
}
