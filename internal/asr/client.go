// Package asr talks to the speech-to-text sidecar. The sidecar wraps the
// recognition model and returns plain text plus timestamped segments with
// optional voice embeddings; this package treats it strictly as a black box.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/echonote/echo-note/internal/config"
	"github.com/echonote/echo-note/internal/observability"
	"github.com/echonote/echo-note/internal/resilience"
	"github.com/echonote/echo-note/internal/transcript"
)

// Result is the recognition output for one audio file.
type Result struct {
	Text     string
	Segments []transcript.Segment
}

// Client is an HTTP client for the ASR sidecar.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
}

// NewClient creates a new ASR sidecar client.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.ASRBaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.ASRTimeout) * time.Second,
		},
		circuitBreaker: resilience.NewCircuitBreaker(
			"asr",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// IsAvailable checks whether the sidecar is reachable.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type wireSegment struct {
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
}

type wireResult struct {
	Text     string        `json:"text"`
	Segments []wireSegment `json:"segments"`
}

// Transcribe sends the audio file at path to the sidecar and returns the
// recognition result.
func (c *Client) Transcribe(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	var result *Result

	err := c.circuitBreaker.Call(func() error {
		r, err := c.transcribe(ctx, path)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	observability.UpdateCircuitBreakerState(c.circuitBreaker.Name(), int(c.circuitBreaker.GetState()))
	observability.RecordTranscription(err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) transcribe(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("asr http %d: %s", resp.StatusCode, string(b))
	}

	var wire wireResult
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode asr response: %w", err)
	}

	result := &Result{Text: wire.Text}
	for _, ws := range wire.Segments {
		seg := transcript.Segment{
			Start:     ws.Start,
			End:       ws.End,
			Text:      ws.Text,
			Embedding: ws.Embedding,
			Cluster:   transcript.ClusterUnassigned,
		}
		result.Segments = append(result.Segments, seg)
	}
	return result, nil
}
