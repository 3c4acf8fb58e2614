package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
)

type OllamaCompleter struct {
	host   string
	model  string
	client *http.Client
}

type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaCompleter(host, model string, client *http.Client) *OllamaCompleter {
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaCompleter{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: client,
	}
}

// Complete runs a single non-streaming generation.
func (c *OllamaCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	const op = "ollama generate"

	reqBody := GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  system,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.Classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", apperr.FromResponse(op, resp, strings.TrimSpace(string(body)))
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", apperr.New(apperr.Parse, op, fmt.Errorf("decoding response: %w", err))
	}
	if genResp.Error != "" {
		return "", apperr.Newf(apperr.Permanent, op, "%s", genResp.Error)
	}
	return strings.TrimSpace(genResp.Response), nil
}
