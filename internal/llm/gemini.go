package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiTimeout = 2 * time.Minute
)

const sqlInstruction = `You are a SQL assistant for Google BigQuery.
Given the warehouse metadata below and the conversation, answer the latest
user request with exactly one Standard SQL statement in a fenced sql code
block. Use only tables and columns that appear in the metadata. If the
request cannot be answered with the available tables, reply with a short
explanation instead of SQL.`

// Gemini calls the generateContent REST endpoint with API-key auth.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGemini creates a client. An empty baseURL selects the public
// endpoint; it is overridable so tests can point at a fake server.
func NewGemini(apiKey, model, baseURL string) *Gemini {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = defaultGeminiBaseURL
	}
	return &Gemini{
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: defaultGeminiTimeout},
	}
}

// Enabled reports whether an API key is configured.
func (g *Gemini) Enabled() bool {
	return g != nil && g.apiKey != ""
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateSQL implements Generator.
func (g *Gemini) GenerateSQL(ctx context.Context, metadataDoc string, conversation []Turn) (string, error) {
	var prompt strings.Builder
	prompt.WriteString(sqlInstruction)
	prompt.WriteString("\n\n## Warehouse metadata\n\n")
	prompt.WriteString(metadataDoc)
	prompt.WriteString("\n\n## Conversation\n\n")
	for _, turn := range conversation {
		fmt.Fprintf(&prompt, "%s: %s\n", turn.Role, turn.Content)
	}
	return g.Generate(ctx, prompt.String())
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if !g.Enabled() {
		return "", fmt.Errorf("no Gemini API key configured (set WISE_GEMINI_API_KEY)")
	}

	reqBody := geminiRequest{Contents: []geminiContent{newUserContent(prompt)}}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("model returned %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("model returned %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("model returned no candidates")
	}

	var out strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	return strings.TrimSpace(out.String()), nil
}

func newUserContent(text string) geminiContent {
	var c geminiContent
	c.Role = "user"
	c.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return c
}
