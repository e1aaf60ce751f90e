package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrAuthExpired indicates the lookup service rejected our credentials.
// Callers treat it differently from ordinary remote failures: a batch
// cycle should stop retrying until the session is renewed.
var ErrAuthExpired = errors.New("preview session expired")

// RemoteError is a non-2xx response from the lookup service, carrying the
// message from its JSON error body when one was present.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("preview lookup failed (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("preview lookup failed (HTTP %d): %s", e.Status, e.Message)
}

// Client communicates with the external registry-preview lookup service.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a Client for the given lookup endpoint. timeout bounds
// each Fetch call; pass 0 for the default.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		// Per-call timeouts come from the request context.
		httpClient: &http.Client{Timeout: 0},
	}
}

type fetchRequest struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Fetch looks up metadata for a single product URL. The call is bounded by
// the client timeout; a deadline hit surfaces as context.DeadlineExceeded
// and folds into the caller's normal failure path.
func (c *Client) Fetch(ctx context.Context, url string, forceRefresh bool) (Result, error) {
	body, err := json.Marshal(fetchRequest{URL: url, ForceRefresh: forceRefresh})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/preview", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating preview request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("preview request for %s: %w", url, ctxErr)
		}
		return Result{}, fmt.Errorf("preview request for %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Result{}, fmt.Errorf("HTTP %d: %w", resp.StatusCode, ErrAuthExpired)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := remoteMessage(raw)
		return Result{}, &RemoteError{Status: resp.StatusCode, Message: msg}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding preview response: %w", err)
	}
	if result.FetchStatus == "" {
		result.FetchStatus = StatusSuccess
	}
	return result, nil
}

// remoteMessage extracts error/details from a JSON error body, falling back
// to the raw text.
func remoteMessage(raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != "" {
		if eb.Details != "" {
			return eb.Error + ": " + eb.Details
		}
		return eb.Error
	}
	return strings.TrimSpace(string(raw))
}
