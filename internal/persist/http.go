package persist

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

// persistRequest is the wire body for the persistence service.
type persistRequest struct {
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Event     Event  `json:"event"`
}

// HTTPStore persists file content to the external persistence service via
// POST {base}/persist. Any response other than 200 is a failure; the caller
// decides whether to surface or drop it.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store for the service at baseURL. If client is nil
// a client with a 10 second timeout is used.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Persist implements Store.
func (s *HTTPStore) Persist(ctx context.Context, projectID, path, content string, event Event) error {
	body, err := json.Marshal(persistRequest{
		ProjectID: projectID,
		Path:      path,
		Content:   content,
		Event:     event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal persist request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/persist", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build persist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("persist request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("persist service returned status %d for %s/%s", resp.StatusCode, projectID, path)
	}
	return nil
}
