package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTransport      = errors.New("backend transport error")
	ErrUnexpectedCode = errors.New("unexpected backend response")
)

// StatusResponse mirrors GET /api/search/{id}/status.
type StatusResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Query        string     `json:"query"`
	GroupID      string     `json:"group_id,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Response     string     `json:"response,omitempty"`
}

// SaveRequest mirrors POST /api/search/save. Fields are ciphertext.
type SaveRequest struct {
	EncryptedQuery    string    `json:"encrypted_query"`
	EncryptedResponse string    `json:"encrypted_response"`
	GroupID           string    `json:"group_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// SavedRecord mirrors one entry of GET /api/search/saved.
type SavedRecord struct {
	ID                string    `json:"id"`
	EncryptedQuery    string    `json:"encrypted_query"`
	EncryptedResponse string    `json:"encrypted_response"`
	GroupID           string    `json:"group_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// Client talks to the dashboard backend's search endpoints. Requests are
// paced with a client-side limiter so a burst of poll timers cannot flood
// the backend.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitSearch starts a search job and returns the backend task id.
func (c *Client) SubmitSearch(ctx context.Context, message, groupID string) (string, error) {
	body := map[string]string{"message": message, "group_id": groupID}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/search", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: submit returned no task id", ErrUnexpectedCode)
	}
	return out.ID, nil
}

// SearchStatus polls one task. A 404 maps to ErrTaskNotFound, a normal
// terminal condition for the caller.
func (c *Client) SearchStatus(ctx context.Context, taskID string) (StatusResponse, error) {
	var out StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/search/"+taskID+"/status", nil, &out)
	if err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

// SaveSearch persists an encrypted search record.
func (c *Client) SaveSearch(ctx context.Context, req SaveRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/search/save", req, nil)
}

// PendingSearches lists tasks that were still running at the backend, used to
// re-attach polling after a reload.
func (c *Client) PendingSearches(ctx context.Context) ([]StatusResponse, error) {
	var out []StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/search/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SavedSearches lists persisted encrypted records.
func (c *Client) SavedSearches(ctx context.Context) ([]SavedRecord, error) {
	var out []SavedRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/search/saved", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "method", method, "error", err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrTaskNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s %s -> %d %s", ErrUnexpectedCode, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedCode, err)
	}
	return nil
}
