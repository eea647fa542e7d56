package meetingbot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echonote/echo-note/internal/config"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		BotAPIKey:                  "test-key",
		BotBaseURL:                 baseURL,
		BotName:                    "Echo Note Bot",
		BotLaunchTimeout:           5,
		BotStatusTimeout:           5,
		BotFetchTimeout:            5,
		WaitingRoomExpiry:          600,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}
}

func TestLaunch(t *testing.T) {
	var seenKey string
	var seenPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bots" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		seenKey = r.Header.Get("x-meeting-baas-api-key")
		json.NewDecoder(r.Body).Decode(&seenPayload)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "job-123", "status": "joining"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	jobID, err := client.Launch(context.Background(), "https://meet.example/abc")
	if err != nil {
		t.Fatalf("Launch() failed: %v", err)
	}
	if jobID != "job-123" {
		t.Errorf("Expected job-123, got %q", jobID)
	}
	if seenKey != "test-key" {
		t.Errorf("API key header not sent, got %q", seenKey)
	}
	if seenPayload["meeting_url"] != "https://meet.example/abc" {
		t.Errorf("meeting_url = %v", seenPayload["meeting_url"])
	}
	dedup, _ := seenPayload["deduplication_key"].(string)
	if len(dedup) <= len("echo-note-") || dedup[:len("echo-note-")] != "echo-note-" {
		t.Errorf("Expected per-launch dedup key, got %q", dedup)
	}
}

func TestLaunch_UniqueDedupKeyPerCall(t *testing.T) {
	keys := make(map[string]bool)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		keys[payload["deduplication_key"].(string)] = true
		w.Write([]byte(`{"id": "job-1"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	for i := 0; i < 3; i++ {
		if _, err := client.Launch(context.Background(), "https://meet.example/abc"); err != nil {
			t.Fatalf("Launch() failed: %v", err)
		}
	}
	if len(keys) != 3 {
		t.Errorf("Expected 3 distinct dedup keys, got %d", len(keys))
	}
}

func TestLaunch_NotConfigured(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.BotAPIKey = ""
	client := NewClient(cfg)

	if _, err := client.Launch(context.Background(), "https://meet.example/abc"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestStatus_Transitions(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Status
	}{
		{"joining", `{"bot_data": {"bot": {}}}`, StatusJoining},
		{"in_call", `{"bot_data": {"bot": {"bot_joined_at": "2025-03-01T10:00:00Z"}}}`, StatusInCall},
		{"done", `{"bot_data": {"bot": {"bot_joined_at": "2025-03-01T10:00:00Z", "ended_at": "2025-03-01T11:00:00Z"}}}`, StatusDone},
		{"failed", `{"bot_data": {"bot": {"failed_at": "2025-03-01T10:05:00Z"}}}`, StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("bot_id") != "job-1" {
					t.Errorf("bot_id = %q", r.URL.Query().Get("bot_id"))
				}
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL))
			got, err := client.Status(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("Status() failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Status() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFetchTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bot_data": {"transcripts": [
			{"speaker": "Alice", "words": [{"text": "hello "}, {"text": "there"}]},
			{"speaker": "Bob", "words": [{"text": "hi"}]}
		]}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	segments, err := client.FetchTranscript(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("FetchTranscript() failed: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segments))
	}
	if segments[0].Speaker != "Alice" || segments[0].Text != "hello there" {
		t.Errorf("Segment 0 = %+v", segments[0])
	}
	if segments[1].Speaker != "Bob" || segments[1].Text != "hi" {
		t.Errorf("Segment 1 = %+v", segments[1])
	}
}

func TestFetchTranscript_NotReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bot_data": {"transcripts": []}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	if _, err := client.FetchTranscript(context.Background(), "job-1"); !errors.Is(err, ErrNoTranscript) {
		t.Errorf("Expected ErrNoTranscript, got %v", err)
	}
}
