// Package http provides an agent that delegates runs to a remote HTTP
// endpoint, for wiring externally hosted models into workflows.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
)

const defaultTimeout = 30 * time.Second

type runRequest struct {
	Input     string         `json:"input"`
	SessionID string         `json:"session_id,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

type runResponse struct {
	Output     string `json:"output"`
	TokensUsed int    `json:"tokens_used"`
	Error      string `json:"error,omitempty"`
}

// Agent calls a remote endpoint for each run. The endpoint receives the
// input and variables as JSON and must answer with output, tokens_used and
// an optional error string.
type Agent struct {
	id      string
	url     string
	method  string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewAgent builds an agent from a config map with keys id, url, and
// optionally method, headers and timeout_seconds.
func NewAgent(logger *slog.Logger, config map[string]any) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	id, _ := config["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("http agent config requires an id")
	}

	endpoint, _ := config["url"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("http agent %s config requires a url", id)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for key, value := range headersMap {
				if strVal, ok := value.(string); ok {
					headers[key] = strVal
				}
			}
		}
	}

	timeout := defaultTimeout
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Agent{
		id:      id,
		url:     endpoint,
		method:  strings.ToUpper(method),
		headers: headers,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger.With("module", "http_agent", "agent_id", id),
	}, nil
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Run(ctx context.Context, input string, vars map[string]any) (*models.AgentResult, error) {
	sessionID, _ := vars["session_id"].(string)

	payload, err := json.Marshal(runRequest{
		Input:     input,
		SessionID: sessionID,
		Variables: vars,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, a.method, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range a.headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			a.logger.ErrorContext(ctx, "Failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var decoded runResponse

	err = json.Unmarshal(bodyBytes, &decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}

	result := &models.AgentResult{
		Output:     decoded.Output,
		TokensUsed: decoded.TokensUsed,
		Status:     models.AgentStatusSuccess,
	}

	if decoded.Error != "" {
		result.Status = models.AgentStatusError
		result.Error = decoded.Error
	}

	a.logger.InfoContext(ctx, "Agent run completed", "status", result.Status, "tokens_used", result.TokensUsed)

	return result, nil
}
