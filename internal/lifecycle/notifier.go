// Package lifecycle reports room activity to the project-management service
// so it can park idle workspaces. The core only exposes who touched a
// project last; deciding when a project is idle is the monitor's job, not
// the room's.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// lastMutationRequest is the wire body for the project-management service.
type lastMutationRequest struct {
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// MutationSource is where the notifier reads room activity from. The room
// manager satisfies it.
type MutationSource interface {
	ActiveProjects() []string
	LastMutation(projectID string) (userID string, at time.Time, ok bool)
}

// Notifier posts last-mutation reports to the project-management service.
type Notifier struct {
	endpoint string
	client   *http.Client
	logger   *log.Logger
}

// NewNotifier creates a notifier for the service at endpoint. If client is
// nil a client with a 10 second timeout is used.
func NewNotifier(endpoint string, client *http.Client, logger *log.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[lifecycle] ", log.LstdFlags)
	}
	return &Notifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		logger:   logger,
	}
}

// SendLastMutationInfo reports who last touched projectID and when, read
// from source. Projects with no recorded mutation are skipped.
func (n *Notifier) SendLastMutationInfo(ctx context.Context, source MutationSource, projectID string) error {
	userID, at, ok := source.LastMutation(projectID)
	if !ok {
		return nil
	}

	body, err := json.Marshal(lastMutationRequest{
		ProjectID: projectID,
		UserID:    userID,
		Timestamp: at,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal last-mutation report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build last-mutation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("last-mutation report failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("project service returned status %d for %s", resp.StatusCode, projectID)
	}
	return nil
}
