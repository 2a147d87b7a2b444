package network

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// State is the connectivity signal the chat screen reacts to.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Prober checks whether the backend is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProbe issues a GET against a health endpoint and treats any 2xx as
// reachable.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func (p HTTPProbe) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// Monitor turns periodic probes into state transitions. Only changes are
// published; repeated results are swallowed.
type Monitor struct {
	probe    Prober
	interval time.Duration

	mu      sync.Mutex
	state   State
	known   bool
	changes chan State
}

func NewMonitor(probe Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		changes:  make(chan State, 1),
	}
}

// Changes delivers the latest transition. A pending unread transition is
// replaced by a newer one.
func (m *Monitor) Changes() <-chan State {
	return m.changes
}

// State returns the last observed state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Check probes once and publishes a transition if the state changed.
func (m *Monitor) Check(ctx context.Context) State {
	next := Connected
	if err := m.probe.Probe(ctx); err != nil {
		next = Disconnected
	}
	m.mu.Lock()
	changed := !m.known || next != m.state
	m.state = next
	m.known = true
	m.mu.Unlock()
	if changed {
		log.Printf("connectivity: %s", next)
		select {
		case <-m.changes:
		default:
		}
		m.changes <- next
	}
	return next
}

// Run probes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
