package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/waybill/internal/models"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient implements Completer against the Generative Language API.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
}

// GeminiOpts holds parameters for creating a GeminiClient.
type GeminiOpts struct {
	APIKey string
	Model  string
	// For testing: point at an httptest server instead of the real API.
	BaseURL string
	// For testing: inject an HTTP client.
	HTTPClient *http.Client
}

// NewGeminiClient creates a Gemini-backed completer.
func NewGeminiClient(opts GeminiOpts) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("brain: gemini API key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("brain: gemini model is required")
	}
	c := &GeminiClient{
		apiKey:  opts.APIKey,
		model:   opts.Model,
		baseURL: opts.BaseURL,
		httpc:   opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = defaultGeminiBaseURL
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return c, nil
}

// Wire types for generateContent. Only the fields we use.
type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete sends the conversation to the model and returns its text output.
func (c *GeminiClient) Complete(ctx context.Context, system string, history []string, userMessage string) (string, error) {
	req := geminiRequest{
		Contents: historyToContents(history, userMessage),
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("brain: marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("brain: build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("brain: call gemini: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("brain: read gemini response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{Err: fmt.Errorf("gemini returned 429")}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("brain: gemini returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("brain: decode gemini response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("brain: gemini error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("brain: gemini returned no candidates")
	}

	var out strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	return out.String(), nil
}

// historyToContents converts "User: ..." / "Bot: ..." lines into role-tagged
// turns, appending the current message as the final user turn.
func historyToContents(history []string, userMessage string) []geminiContent {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, line := range history {
		role := models.RoleUser
		text := line
		if rest, ok := strings.CutPrefix(line, "Bot: "); ok {
			role = models.RoleModel
			text = rest
		} else if rest, ok := strings.CutPrefix(line, "User: "); ok {
			text = rest
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: text}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  models.RoleUser,
		Parts: []geminiPart{{Text: userMessage}},
	})
	return contents
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
