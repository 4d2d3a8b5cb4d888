// Package loadtest provides load testing utilities for the synchronization
// gateway.
//
// It simulates concurrent editor sessions to validate that a room can carry
// many participants exchanging file changes with low ack latency.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codeanvil/anvil/internal/protocol"
)

// Options configures one load test run.
type Options struct {
	// URL is the gateway WebSocket endpoint, e.g. ws://localhost:8080/ws.
	URL string

	// ProjectID is the room every simulated editor joins.
	ProjectID string

	// Editors is the number of concurrent connections.
	Editors int

	// ChangesPerEditor is how many file changes each editor sends.
	ChangesPerEditor int

	// Timeout bounds the whole run.
	Timeout time.Duration
}

// LatencyStats captures ack latency metrics from a load test.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalChanges int
	Errors       int
}

// Run drives Options.Editors concurrent sessions against the gateway. Each
// editor joins the room, then edits its own file ChangesPerEditor times,
// measuring the time from sending a change to receiving its ack.
func Run(opts Options) (*LatencyStats, error) {
	if opts.Editors <= 0 || opts.ChangesPerEditor <= 0 {
		return nil, fmt.Errorf("editors and changes per editor must be positive")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, opts.Editors)
	errorsChan := make(chan error, opts.Editors)

	for i := 0; i < opts.Editors; i++ {
		wg.Add(1)
		go func(editorID int) {
			defer wg.Done()
			durations, err := runEditor(ctx, opts, editorID)
			if err != nil {
				errorsChan <- fmt.Errorf("editor %d: %w", editorID, err)
				return
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errorCount int
	for range errorsChan {
		errorCount++
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no successful changes completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// runEditor is one simulated session: join, edit, measure acks.
func runEditor(ctx context.Context, opts Options, editorID int) ([]time.Duration, error) {
	conn, _, err := websocket.Dial(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	userID := fmt.Sprintf("load-%04d", editorID)
	if err := send(ctx, conn, protocol.EventJoin, protocol.JoinPayload{
		ProjectID: opts.ProjectID,
		UserID:    userID,
		Username:  userID,
	}); err != nil {
		return nil, err
	}
	if _, err := readUntil(ctx, conn, protocol.EventParticipantList); err != nil {
		return nil, fmt.Errorf("join not confirmed: %w", err)
	}

	// Each editor owns one file so versions advance without cross-editor
	// interleaving skewing the latency numbers.
	path := fmt.Sprintf("load/%s.txt", userID)
	durations := make([]time.Duration, 0, opts.ChangesPerEditor)

	for i := 0; i < opts.ChangesPerEditor; i++ {
		content := fmt.Sprintf("edit %d from %s\n", i, userID)
		start := time.Now()
		if err := send(ctx, conn, protocol.EventFileChange, protocol.FileChangePayload{
			Path:    path,
			Content: content,
		}); err != nil {
			return nil, err
		}
		if _, err := readUntil(ctx, conn, protocol.EventChangeAck); err != nil {
			return nil, fmt.Errorf("change %d not acked: %w", i, err)
		}
		durations = append(durations, time.Since(start))
	}

	return durations, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ protocol.EventType, payload any) error {
	ev, err := protocol.NewEvent(typ, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readUntil drains events until one of the wanted type arrives. An error
// event aborts the wait.
func readUntil(ctx context.Context, conn *websocket.Conn, typ protocol.EventType) (protocol.Event, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return protocol.Event{}, err
		}
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return protocol.Event{}, err
		}
		if ev.Type == protocol.EventError {
			var p protocol.ErrorPayload
			_ = json.Unmarshal(ev.Data, &p)
			return protocol.Event{}, fmt.Errorf("server error on %s: %s", p.Op, p.Message)
		}
		if ev.Type == typ {
			return ev, nil
		}
	}
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalChanges: len(sorted),
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Ack Latency Statistics:\n")
	fmt.Printf("  Total Changes: %d\n", s.TotalChanges)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}
