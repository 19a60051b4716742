package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini classifies with the generateContent REST endpoint.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGemini(apiKey, model string, client *http.Client) *Gemini {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gemini{apiKey: apiKey, model: model, baseURL: geminiBaseURL, client: client}
}

// WithBaseURL points the client at another endpoint.
func (g *Gemini) WithBaseURL(u string) *Gemini {
	g.baseURL = strings.TrimRight(u, "/")
	return g
}

func (g *Gemini) Classify(ctx context.Context, text string, hints Hints) (Result, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))

	payload := map[string]interface{}{
		"systemInstruction": map[string]interface{}{
			"parts": []map[string]interface{}{
				{"text": systemPrompt},
			},
		},
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]interface{}{
					{"text": userPrompt(text, hints)},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature":      0.1,
			"maxOutputTokens":  256,
			"responseMimeType": "application/json",
		},
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return UnknownResult, fmt.Errorf("marshal gemini request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonPayload))
	if err != nil {
		return UnknownResult, fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// kept out of the URL so transport errors never carry it
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return UnknownResult, fmt.Errorf("call gemini API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return UnknownResult, fmt.Errorf("gemini API returned status %d: %v", resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UnknownResult, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return UnknownResult, fmt.Errorf("empty gemini response")
	}

	return Parse(result.Candidates[0].Content.Parts[0].Text)
}
