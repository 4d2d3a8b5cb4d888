package lifecycle

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// IdleMonitor periodically scans active rooms and reports projects whose
// last mutation is older than the idle threshold. Each idle stretch is
// reported once; new activity re-arms the report.
type IdleMonitor struct {
	source   MutationSource
	notifier *Notifier

	idleAfter time.Duration
	interval  time.Duration

	mu       sync.Mutex
	reported map[string]time.Time // projectID -> lastMutation already reported

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Logger
}

// NewIdleMonitor creates a monitor scanning source every interval and
// reporting projects idle for longer than idleAfter.
func NewIdleMonitor(source MutationSource, notifier *Notifier, idleAfter, interval time.Duration, logger *log.Logger) *IdleMonitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[lifecycle] ", log.LstdFlags)
	}
	return &IdleMonitor{
		source:    source,
		notifier:  notifier,
		idleAfter: idleAfter,
		interval:  interval,
		reported:  make(map[string]time.Time),
		logger:    logger,
	}
}

// Start begins the scan loop.
func (m *IdleMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the scan loop and waits for it to exit.
func (m *IdleMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *IdleMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *IdleMonitor) scan(ctx context.Context) {
	now := time.Now()
	for _, projectID := range m.source.ActiveProjects() {
		_, at, ok := m.source.LastMutation(projectID)
		if !ok || now.Sub(at) < m.idleAfter {
			continue
		}

		m.mu.Lock()
		already := m.reported[projectID].Equal(at)
		if !already {
			m.reported[projectID] = at
		}
		m.mu.Unlock()
		if already {
			continue
		}

		if err := m.notifier.SendLastMutationInfo(ctx, m.source, projectID); err != nil {
			m.logger.Printf("Failed to report idle project %s: %v", projectID, err)
		} else {
			m.logger.Printf("Reported idle project %s (last mutation %s)", projectID, at.Format(time.RFC3339))
		}
	}
}
