package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/echonote/echo-note/internal/config"
)

func testClient(baseURL string) *Client {
	return NewClient(&config.Config{
		OllamaBaseURL:              baseURL,
		OllamaModel:                "gemma:2b",
		OllamaTimeout:              5,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	})
}

func TestIsStrictGreeting(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"hi", true},
		{"Hello", true},
		{"  hey  ", true},
		{"good morning", true},
		{"GOOD EVENING", true},
		{"hi there, what was discussed?", false},
		{"say hello to the team", false},
		{"highlight the decisions", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsStrictGreeting(tc.text); got != tc.want {
			t.Errorf("IsStrictGreeting(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestAsk_GreetingSkipsModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Greeting must not reach the model")
	}))
	defer server.Close()

	answer, err := testClient(server.URL).Ask(context.Background(), "some transcript", "hello", nil)
	if err != nil {
		t.Fatalf("Ask() failed: %v", err)
	}
	if answer != GreetingResponse {
		t.Errorf("Answer = %q", answer)
	}
}

func TestAsk_ShowTranscriptReturnsVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Transcript display must not reach the model")
	}))
	defer server.Close()

	transcriptText := "Speaker 1: hello\n\n[Total Speakers: 1]"
	answer, err := testClient(server.URL).Ask(context.Background(), transcriptText, "please show me the transcript", nil)
	if err != nil {
		t.Fatalf("Ask() failed: %v", err)
	}
	if !strings.Contains(answer, transcriptText) {
		t.Errorf("Answer does not contain the transcript: %q", answer)
	}
}

func TestAsk_QuestionGroundedOnTranscript(t *testing.T) {
	var seen generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&seen)
		json.NewEncoder(w).Encode(generateResponse{Response: "The budget was approved."})
	}))
	defer server.Close()

	history := []Exchange{{Question: "who attended?", Answer: "Alice and Bob."}}
	answer, err := testClient(server.URL).Ask(context.Background(),
		"Speaker 1: the budget is approved", "what happened to the budget?", history)
	if err != nil {
		t.Fatalf("Ask() failed: %v", err)
	}

	if answer != "The budget was approved." {
		t.Errorf("Answer = %q", answer)
	}
	if seen.Model != "gemma:2b" {
		t.Errorf("Model = %q", seen.Model)
	}
	if seen.Stream {
		t.Error("Streaming must be disabled")
	}
	if !strings.Contains(seen.Prompt, "the budget is approved") {
		t.Error("Prompt must embed the transcript")
	}
	if !strings.Contains(seen.Prompt, "who attended?") {
		t.Error("Prompt must carry the conversation history")
	}
}

func TestAsk_SummaryUsesSummarizerPrompt(t *testing.T) {
	var seen generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&seen)
		json.NewEncoder(w).Encode(generateResponse{Response: "A productive meeting."})
	}))
	defer server.Close()

	if _, err := testClient(server.URL).Ask(context.Background(), "Speaker 1: hi", "give me a summary", nil); err != nil {
		t.Fatalf("Ask() failed: %v", err)
	}
	if !strings.Contains(seen.System, "summarizer") {
		t.Errorf("System prompt = %q", seen.System)
	}
}

func TestAsk_ModelErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "model 'gemma:2b' not found"}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).Ask(context.Background(), "t", "what was decided?", nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("Expected ErrModelUnavailable, got %v", err)
	}
}
