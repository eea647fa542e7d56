// Package chat answers questions about a stored transcript through a local
// Ollama model. Plain greetings and transcript-display requests are handled
// without a model round trip.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/echonote/echo-note/internal/config"
	"github.com/echonote/echo-note/internal/observability"
	"github.com/echonote/echo-note/internal/resilience"
)

// GreetingResponse is returned for bare greetings without consulting the model.
const GreetingResponse = "Hello! How can I help you today?"

// ErrModelUnavailable wraps failures to reach the Ollama server or model.
var ErrModelUnavailable = errors.New("chat model unavailable")

var greetingPattern = regexp.MustCompile(`^(hi|hello|hey|good morning|good afternoon|good evening)$`)

var showTranscriptKeywords = []string{
	"show transcript", "display transcript", "show me the transcript",
	"display the transcript", "view transcript", "see transcript",
	"full transcript", "entire transcript", "whole transcript",
}

var summaryKeywords = []string{"summary", "summarize", "summarise", "overview"}

// Exchange is one prior question/answer pair carried as conversation context.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Client talks to a local Ollama server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client

	circuitBreaker *resilience.CircuitBreaker
}

// NewClient creates an Ollama chat client.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.OllamaBaseURL, "/"),
		model:   cfg.OllamaModel,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.OllamaTimeout) * time.Second,
		},
		circuitBreaker: resilience.NewCircuitBreaker(
			"ollama",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// IsStrictGreeting reports whether text is nothing but a greeting.
func IsStrictGreeting(text string) bool {
	return greetingPattern.MatchString(strings.ToLower(strings.TrimSpace(text)))
}

// Ask answers a question about the given transcript. Greetings, transcript
// display requests, and summaries take dedicated paths; everything else is
// answered by the model grounded strictly on the transcript text.
func (c *Client) Ask(ctx context.Context, transcriptText, question string, history []Exchange) (string, error) {
	if IsStrictGreeting(question) {
		return GreetingResponse, nil
	}

	lower := strings.ToLower(question)
	for _, kw := range showTranscriptKeywords {
		if strings.Contains(lower, kw) {
			return "Here is the full meeting transcript:\n\n" + transcriptText, nil
		}
	}

	system, prompt := buildPrompt(transcriptText, question, history, isSummaryRequest(lower))
	return c.generate(ctx, system, prompt)
}

func isSummaryRequest(lowerQuestion string) bool {
	for _, kw := range summaryKeywords {
		if strings.Contains(lowerQuestion, kw) {
			return true
		}
	}
	return false
}

func buildPrompt(transcriptText, question string, history []Exchange, summary bool) (system, prompt string) {
	var b strings.Builder
	for _, ex := range history {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n\n", ex.Question, ex.Answer)
	}
	historyContext := b.String()

	if summary {
		system = "You are a professional meeting summarizer. Write in paragraph format only. " +
			"Never use bullet points, asterisks, dashes, or any list formatting."
		prompt = fmt.Sprintf(
			"You are analyzing a meeting transcript. Here is the transcript:\n\n"+
				"--- BEGIN TRANSCRIPT ---\n%s\n--- END TRANSCRIPT ---\n\n"+
				"Write a comprehensive summary of this meeting in 2-3 well-structured "+
				"paragraphs covering the main topics discussed, key decisions made, and "+
				"important action items. Paragraph format only, no bullet points or lists, "+
				"150-200 words.",
			transcriptText)
		return system, prompt
	}

	system = "You are a meeting assistant. Answer questions based strictly on the provided transcript. Be concise and direct."
	prompt = fmt.Sprintf(
		"You are analyzing a meeting transcript. Here is the transcript:\n\n"+
			"--- BEGIN TRANSCRIPT ---\n%s\n--- END TRANSCRIPT ---\n\n"+
			"%sUser's question: %s\n\n"+
			"Answer the question based only on the information in the transcript above. "+
			"If the transcript does not contain the answer, say \"This information is "+
			"not mentioned in the transcript.\" Keep the answer to 1-2 sentences.",
		transcriptText, historyContext, question)
	return system, prompt
}

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (c *Client) generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	var answer string
	err = c.circuitBreaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create generate request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("%w: http %d: %s", ErrModelUnavailable, resp.StatusCode, string(b))
		}

		var gr generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
			return fmt.Errorf("decode generate response: %w", err)
		}
		if gr.Error != "" {
			return fmt.Errorf("%w: %s", ErrModelUnavailable, gr.Error)
		}
		answer = strings.TrimSpace(gr.Response)
		return nil
	})
	observability.UpdateCircuitBreakerState(c.circuitBreaker.Name(), int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.RecordError("chat_generate", "chat")
		return "", err
	}
	return answer, nil
}
