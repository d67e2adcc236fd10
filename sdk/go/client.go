package caseflowsdk

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

// Client is a minimal Caseflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Case represents the API case model (partial).
type Case struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Title        string `json:"title"`
	Jurisdiction string `json:"jurisdiction"`
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	Version      int64  `json:"version"`
}

// Gate represents a stage gate record.
type Gate struct {
	CaseID      string         `json:"case_id"`
	Key         string         `json:"key"`
	Status      string         `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	CompletedBy string         `json:"completed_by,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
}

// Blocker explains why a stage transition is refused.
type Blocker struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Grant represents a break-glass access grant.
type Grant struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id"`
	Reason    string `json:"reason"`
	GrantedBy string `json:"granted_by"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
	RevokedAt string `json:"revoked_at,omitempty"`
	Valid     bool   `json:"valid"`
}

// Outcome represents a recorded decision.
type Outcome struct {
	CaseID         string `json:"case_id"`
	Outcome        string `json:"outcome"`
	Summary        string `json:"summary,omitempty"`
	DecidedBy      string `json:"decided_by"`
	OverrideReason string `json:"override_reason,omitempty"`
	DecidedAt      string `json:"decided_at"`
}

// AuditEvent represents a ledger entry.
type AuditEvent struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	CaseID  string         `json:"case_id,omitempty"`
	ActorID string         `json:"actor_id"`
	Message string         `json:"message,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedAuditEvents wraps list responses with cursors.
type PaginatedAuditEvents struct {
	Items      []AuditEvent `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// CreateCase opens a case.
func (c *Client) CreateCase(ctx context.Context, title, jurisdiction string) (Case, error) {
	body := map[string]any{
		"title":        title,
		"jurisdiction": jurisdiction,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v1/cases", body, &resp)
	return resp, err
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, c.casePath(id, ""), nil, &resp)
	return resp, err
}

// SaveGate writes a gate payload.
func (c *Client) SaveGate(ctx context.Context, caseID, key string, payload map[string]any) (Gate, error) {
	body := map[string]any{"payload": payload}
	var resp Gate
	endpoint := c.casePath(caseID, fmt.Sprintf("gates/%s", url.PathEscape(key)))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// RequestStage asks for a stage transition.
func (c *Client) RequestStage(ctx context.Context, caseID, target string) (Case, error) {
	body := map[string]any{"target": target}
	var resp Case
	err := c.do(ctx, http.MethodPost, c.casePath(caseID, "stage"), body, &resp)
	return resp, err
}

// StageBlockers previews blockers for a prospective move.
func (c *Client) StageBlockers(ctx context.Context, caseID, target string) ([]Blocker, error) {
	var resp []Blocker
	endpoint := fmt.Sprintf("%s?target=%s", c.casePath(caseID, "stage/blockers"), url.QueryEscape(target))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequestGrant issues a break-glass grant.
func (c *Client) RequestGrant(ctx context.Context, caseID, reason string, durationMinutes int) (Grant, error) {
	body := map[string]any{
		"reason":           reason,
		"duration_minutes": durationMinutes,
	}
	var resp Grant
	err := c.do(ctx, http.MethodPost, c.casePath(caseID, "grants"), body, &resp)
	return resp, err
}

// RecordDecision records the case outcome.
func (c *Client) RecordDecision(ctx context.Context, caseID, outcome, summary, overrideReason string) (Outcome, error) {
	body := map[string]any{
		"outcome":         outcome,
		"summary":         summary,
		"override_reason": overrideReason,
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, c.casePath(caseID, "decision"), body, &resp)
	return resp, err
}

// AuditEvents returns recent ledger entries.
func (c *Client) AuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	page, err := c.AuditEventsPage(ctx, limit, "")
	return page.Items, err
}

// AuditEventsPage returns a paginated ledger listing.
func (c *Client) AuditEventsPage(ctx context.Context, limit int, cursor string) (PaginatedAuditEvents, error) {
	endpoint := "v1/audit"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedAuditEvents
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) casePath(caseID, p string) string {
	base := fmt.Sprintf("v1/cases/%s", url.PathEscape(caseID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
