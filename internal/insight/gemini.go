package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/pkg/types"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.5-flash"
)

var (
	ErrNoAPIKey      = errors.New("gemini API key required")
	ErrEmptyResponse = errors.New("no response from gemini")
)

// Model turns a captured frame plus a detection summary into a scene insight.
type Model interface {
	AnalyzeScene(ctx context.Context, imageBase64, detections string) (types.SceneInsight, error)
}

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel selects the model name.
func WithModel(m string) GeminiOption {
	return func(c *GeminiClient) {
		if m != "" {
			c.model = m
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.client = h }
}

// NewGeminiClient returns a client, or ErrNoAPIKey when apiKey is empty.
func NewGeminiClient(apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	c := &GeminiClient{
		apiKey:  apiKey,
		model:   DefaultGeminiModel,
		baseURL: DefaultGeminiBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature      float64        `json:"temperature"`
		ResponseMimeType string         `json:"responseMimeType"`
		ResponseSchema   map[string]any `json:"responseSchema"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

var insightSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"summary":         map[string]any{"type": "STRING"},
		"anomalies":       map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
		"recommendations": map[string]any{"type": "STRING"},
	},
	"required": []string{"summary", "anomalies", "recommendations"},
}

func buildPrompt(detections string) string {
	return fmt.Sprintf(`Analyze this edge vision feed.
Current low-level detections from the edge device: %s.
Provide a high-level semantic summary, identify any safety anomalies or process inefficiencies, and suggest optimizations.`, detections)
}

func (c *GeminiClient) AnalyzeScene(ctx context.Context, imageBase64, detections string) (types.SceneInsight, error) {
	var req geminiRequest
	req.Contents = make([]struct {
		Parts []geminiPart `json:"parts"`
	}, 1)
	req.Contents[0].Parts = []geminiPart{
		{Text: buildPrompt(detections)},
		{InlineData: &geminiInline{MimeType: "image/jpeg", Data: imageBase64}},
	}
	req.GenerationConfig.Temperature = 0.2
	req.GenerationConfig.ResponseMimeType = "application/json"
	req.GenerationConfig.ResponseSchema = insightSchema

	body, err := json.Marshal(req)
	if err != nil {
		return types.SceneInsight{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.SceneInsight{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	logger.Debug("Insight", "Sending %d byte request to %s", len(body), c.model)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return types.SceneInsight{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.SceneInsight{}, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.SceneInsight{}, fmt.Errorf("gemini API returned %d: %s", resp.StatusCode, truncate(string(respBody), 256))
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return types.SceneInsight{}, fmt.Errorf("parse gemini response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return types.SceneInsight{}, ErrEmptyResponse
	}

	return parseInsight(gr.Candidates[0].Content.Parts[0].Text)
}

// parseInsight decodes the model's JSON answer, tolerating markdown fences.
func parseInsight(text string) (types.SceneInsight, error) {
	text = stripFences(text)
	var out struct {
		Summary         string   `json:"summary"`
		Anomalies       []string `json:"anomalies"`
		Recommendations string   `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return types.SceneInsight{}, fmt.Errorf("parse insight JSON: %w", err)
	}
	if out.Summary == "" {
		return types.SceneInsight{}, ErrEmptyResponse
	}
	if out.Anomalies == nil {
		out.Anomalies = []string{}
	}
	return types.SceneInsight{
		Summary:         out.Summary,
		Anomalies:       out.Anomalies,
		Recommendations: out.Recommendations,
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
