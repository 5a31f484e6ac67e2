package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/RONNYKD/GUARDIAN-AI/internal/llm"
)

// Gemini AI Studio API constants.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1"
	DefaultModel   = "gemini-2.0-flash"
	DefaultTimeout = 30 * time.Second
)

// Client implements llm.Client against the Google AI Studio
// generateContent endpoint, authenticated with an API key.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type genRequest struct {
	Contents         []genContent  `json:"contents"`
	GenerationConfig *genGenConfig `json:"generationConfig,omitempty"`
}

type genContent struct {
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text string `json:"text"`
}

type genGenConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []genPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewClient creates a Gemini client. The API key falls back to the
// GOOGLE_API_KEY environment variable.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY is required")
		}
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	req := genRequest{
		Contents: []genContent{{Parts: []genPart{{Text: prompt}}}},
		GenerationConfig: &genGenConfig{
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
			TopK:            opts.TopK,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", &llm.Failure{Kind: llm.FailServiceError, Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &llm.Failure{Kind: llm.FailServiceError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &llm.Failure{Kind: llm.FailTimeout, Err: err}
		}
		return "", &llm.Failure{Kind: llm.FailServiceError, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", &llm.Failure{Kind: llm.FailServiceError, Err: err}
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return "", &llm.Failure{
			Kind:       llm.FailRateLimited,
			Err:        fmt.Errorf("API error %d: %s", httpResp.StatusCode, respBody),
			RetryAfter: retryAfterHint(httpResp),
		}
	case httpResp.StatusCode >= 500:
		return "", &llm.Failure{
			Kind: llm.FailServiceError,
			Err:  fmt.Errorf("API error %d: %s", httpResp.StatusCode, respBody),
		}
	case httpResp.StatusCode != http.StatusOK:
		return "", &llm.Failure{
			Kind: llm.FailInvalidResponse,
			Err:  fmt.Errorf("API error %d: %s", httpResp.StatusCode, respBody),
		}
	}

	var resp genResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &llm.Failure{Kind: llm.FailInvalidResponse, Err: err}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &llm.Failure{Kind: llm.FailInvalidResponse, Err: fmt.Errorf("empty candidate list")}
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text, nil
}

// Probe verifies the API is reachable with the configured key.
func (c *Client) Probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("probe failed: API error %d: %s", resp.StatusCode, body)
	}
	return nil
}

// retryAfterHint parses a Retry-After header, in seconds.
func retryAfterHint(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// SetBaseURL overrides the API base URL. Used in tests.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }
