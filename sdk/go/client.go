package compmapsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Compmap HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Process represents the API process model.
type Process struct {
	ID             string  `json:"id"`
	Description    string  `json:"description"`
	Type           string  `json:"type"`
	Situation      string  `json:"situation"`
	Stage1Deadline *string `json:"stage1_deadline,omitempty"`
	CreatedAt      string  `json:"created_at"`
	FinalizedAt    *string `json:"finalized_at,omitempty"`
}

// Subprocess represents one unit's journey through a process.
type Subprocess struct {
	ID                string  `json:"id"`
	ProcessID         string  `json:"process_id"`
	UnitID            string  `json:"unit_id"`
	MapID             *string `json:"map_id,omitempty"`
	Situation         string  `json:"situation"`
	SituationLabel    string  `json:"situation_label"`
	Active            bool    `json:"active"`
	CurrentStage      *int    `json:"current_stage,omitempty"`
	Stage1CompletedAt *string `json:"stage1_completed_at,omitempty"`
}

// Movement is one custody trail entry.
type Movement struct {
	ID           int64   `json:"id"`
	SubprocessID string  `json:"subprocess_id"`
	TS           string  `json:"ts"`
	OriginUnitID *string `json:"origin_unit_id,omitempty"`
	DestUnitID   string  `json:"dest_unit_id"`
	Description  string  `json:"description"`
	ActorID      *string `json:"actor_id,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProcessID  string `json:"process_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProcess creates a process in the CREATED situation.
func (c *Client) CreateProcess(ctx context.Context, description, processType string, unitIDs []string) (Process, error) {
	body := map[string]any{
		"description": description,
		"type":        processType,
		"unit_ids":    unitIDs,
	}
	var resp Process
	err := c.do(ctx, http.MethodPost, "v0/processes", body, &resp)
	return resp, err
}

// GetProcess fetches a process by id.
func (c *Client) GetProcess(ctx context.Context, id string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodGet, "v0/processes/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListProcesses lists every process.
func (c *Client) ListProcesses(ctx context.Context) ([]Process, error) {
	var resp []Process
	err := c.do(ctx, http.MethodGet, "v0/processes", nil, &resp)
	return resp, err
}

// StartMapping starts a mapping process over the given units.
func (c *Client) StartMapping(ctx context.Context, processID string, unitIDs []string) (Process, error) {
	return c.start(ctx, processID, "start-mapping", unitIDs)
}

// StartRevision starts a revision process over the given units.
func (c *Client) StartRevision(ctx context.Context, processID string, unitIDs []string) (Process, error) {
	return c.start(ctx, processID, "start-revision", unitIDs)
}

// StartDiagnostic starts a diagnostic process over the given units.
func (c *Client) StartDiagnostic(ctx context.Context, processID string, unitIDs []string) (Process, error) {
	return c.start(ctx, processID, "start-diagnostic", unitIDs)
}

func (c *Client) start(ctx context.Context, processID, op string, unitIDs []string) (Process, error) {
	var resp Process
	endpoint := fmt.Sprintf("v0/processes/%s/%s", url.PathEscape(processID), op)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"unit_ids": unitIDs}, &resp)
	return resp, err
}

// Finalize closes an in-progress process.
func (c *Client) Finalize(ctx context.Context, processID string) (Process, error) {
	var resp Process
	endpoint := fmt.Sprintf("v0/processes/%s/finalize", url.PathEscape(processID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Subprocesses lists the subprocesses of a process.
func (c *Client) Subprocesses(ctx context.Context, processID string) ([]Subprocess, error) {
	var resp []Subprocess
	endpoint := fmt.Sprintf("v0/processes/%s/subprocesses", url.PathEscape(processID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves a subprocess to the given situation.
func (c *Client) Transition(ctx context.Context, subprocessID, situation, movementNote string) (Subprocess, error) {
	body := map[string]any{"situation": situation}
	if movementNote != "" {
		body["movement_note"] = movementNote
	}
	var resp Subprocess
	endpoint := fmt.Sprintf("v0/subprocesses/%s/transition", url.PathEscape(subprocessID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Movements returns the custody trail of a subprocess.
func (c *Client) Movements(ctx context.Context, subprocessID string) ([]Movement, error) {
	var resp []Movement
	endpoint := fmt.Sprintf("v0/subprocesses/%s/movements", url.PathEscape(subprocessID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int, processID string) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if processID != "" {
		params.Set("process_id", processID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
