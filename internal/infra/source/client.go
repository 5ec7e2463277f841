package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"jobsieve/internal/core/domain"
)

// ExistenceChecker answers whether a posting still exists on the job board.
type ExistenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// HTTPChecker looks a posting up by id on the board's public API.
type HTTPChecker struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPChecker(baseURL string, timeout time.Duration, httpClient *http.Client) *HTTPChecker {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPChecker{baseURL: baseURL, httpClient: httpClient}
}

// postingStatus mirrors the subset of the board response we care about.
type postingStatus struct {
	Archived bool `json:"archived"`
}

// Exists GETs the posting. A gone or archived posting reports
// domain.ErrNotFound, a throttled board reports domain.ErrRateLimited.
func (c *HTTPChecker) Exists(ctx context.Context, id string) (bool, error) {
	reqURL := c.baseURL + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("create existence request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("existence check %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return false, fmt.Errorf("posting %s: %w", id, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, fmt.Errorf("posting %s: %w", id, domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, fmt.Errorf("existence check %s: unexpected status %d", id, resp.StatusCode)
	}

	// Some boards keep archived postings resolvable; treat them as gone.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read existence response %s: %w", id, err)
	}
	var status postingStatus
	if err := json.Unmarshal(body, &status); err == nil && status.Archived {
		return false, fmt.Errorf("posting %s archived: %w", id, domain.ErrNotFound)
	}

	return true, nil
}
