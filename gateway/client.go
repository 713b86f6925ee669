// Package gateway implements the HTTP client for the agent execution
// gateway. The board asks the gateway to spawn or message reasoning
// sessions; it never runs agents itself. Every call makes a bounded
// number of attempts and resolves to either a result or a terminal,
// classified failure.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Reason classifies a terminal gateway failure.
type Reason string

const (
	ReasonUnauthorized  Reason = "unauthorized"
	ReasonAgentNotFound Reason = "agent_not_found"
	ReasonUnreachable   Reason = "unreachable"
	ReasonTimeout       Reason = "timeout"
)

// Error is a terminal gateway failure with its classification.
type Error struct {
	Reason Reason
	Status int // HTTP status, when one was received
	Msg    string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway: %s (status %d): %s", e.Reason, e.Status, e.Msg)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Reason, e.Msg)
}

func transient(r Reason) bool {
	return r == ReasonUnreachable || r == ReasonTimeout
}

// Config holds gateway client settings.
type Config struct {
	BaseURL     string
	Token       string
	MaxAttempts int           // per call, default 3
	BackoffBase time.Duration // doubles after each failed attempt, default 500ms
	Timeout     time.Duration // per attempt, default 30s
	HTTPClient  *http.Client
}

// Client calls the gateway's invoke endpoint.
type Client struct {
	baseURL     string
	token       string
	maxAttempts int
	backoffBase time.Duration
	timeout     time.Duration
	client      *http.Client
}

// New creates a gateway client, applying defaults for unset fields.
func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		timeout:     cfg.Timeout,
		client:      cfg.HTTPClient,
	}
}

// SpawnRequest describes one session to create.
type SpawnRequest struct {
	AgentID string // execution identifier known to the gateway
	Prompt  string // full task prompt, guardrails included
	Label   string // e.g. "task-<id>"
	Cleanup string // "keep" or "delete"
}

// Session identifies a spawned session.
type Session struct {
	Ref   string // opaque session key, echoed on later sends
	RunID string
}

// Spawn asks the gateway to start a session for one agent.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*Session, error) {
	raw, err := c.invoke(ctx, "sessions_spawn", map[string]string{
		"agentId": req.AgentID,
		"task":    req.Prompt,
		"label":   req.Label,
		"cleanup": req.Cleanup,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		ChildSessionKey string `json:"childSessionKey"`
		RunID           string `json:"runId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("gateway: decode spawn result: %w", err)
	}
	return &Session{Ref: result.ChildSessionKey, RunID: result.RunID}, nil
}

// Send delivers a message into a live session.
func (c *Client) Send(ctx context.Context, sessionRef, message string) error {
	_, err := c.invoke(ctx, "sessions_send", map[string]string{
		"sessionKey": sessionRef,
		"message":    message,
	})
	return err
}

// Status asks the gateway for its live session count.
func (c *Client) Status(ctx context.Context) (int, error) {
	raw, err := c.invoke(ctx, "sessions_list", map[string]string{})
	if err != nil {
		return 0, err
	}
	var result struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("gateway: decode session list: %w", err)
	}
	return len(result.Sessions), nil
}

type invokeRequest struct {
	Tool string `json:"tool"`
	Args any    `json:"args"`
}

type invokeResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// invoke runs one tool call with retries. Only transport-level
// failures (connection errors, timeouts, 5xx) are retried; auth and
// validation failures are terminal on the first response.
func (c *Client) invoke(ctx context.Context, tool string, args any) (json.RawMessage, error) {
	body, err := json.Marshal(invokeRequest{Tool: tool, Args: args})
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal request: %w", err)
	}

	var last *Error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &Error{Reason: ReasonTimeout, Msg: ctx.Err().Error()}
			}
		}
		raw, gerr := c.attempt(ctx, body)
		if gerr == nil {
			return raw, nil
		}
		if !transient(gerr.Reason) {
			return nil, gerr
		}
		last = gerr
	}
	return nil, last
}

func (c *Client) attempt(ctx context.Context, body []byte) (json.RawMessage, *Error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Reason: ReasonUnreachable, Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
			return nil, &Error{Reason: ReasonTimeout, Msg: err.Error()}
		}
		return nil, &Error{Reason: ReasonUnreachable, Msg: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Reason: ReasonUnreachable, Status: resp.StatusCode, Msg: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Reason: ReasonUnauthorized, Status: resp.StatusCode, Msg: string(data)}
	case resp.StatusCode >= 500:
		return nil, &Error{Reason: ReasonUnreachable, Status: resp.StatusCode, Msg: string(data)}
	case resp.StatusCode >= 400:
		// The only validation the gateway performs on our calls is
		// agent resolution.
		return nil, &Error{Reason: ReasonAgentNotFound, Status: resp.StatusCode, Msg: string(data)}
	}

	var parsed invokeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &Error{Reason: ReasonUnreachable, Status: resp.StatusCode, Msg: "malformed response: " + err.Error()}
	}
	if !parsed.OK {
		return nil, &Error{Reason: ReasonAgentNotFound, Status: resp.StatusCode, Msg: parsed.Error}
	}
	return parsed.Result, nil
}
