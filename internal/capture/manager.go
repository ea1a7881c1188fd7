package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Source is a long-running capture input. Sources push events through the
// manager's Publish; Start blocks until the context is cancelled.
type Source interface {
	Name() string
	Start(ctx context.Context) error
}

// Manager owns the capture sources and the event stream consumed by the
// orchestrator.
type Manager struct {
	mu      sync.RWMutex
	sources map[string]Source
	events  chan CardEvent

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager creates a manager with a bounded event buffer.
func NewManager(bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Manager{
		sources: make(map[string]Source),
		events:  make(chan CardEvent, bufferSize),
	}
}

// Register adds a source. Sources must be registered before Start.
func (m *Manager) Register(src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sources[src.Name()]; exists {
		return fmt.Errorf("capture source %s already registered", src.Name())
	}
	m.sources[src.Name()] = src
	return nil
}

// Start launches every registered source. Source failures are logged, not
// fatal: a clinic without a serial reader still captures keystrokes.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, src := range m.sources {
		m.wg.Add(1)
		go func(src Source) {
			defer m.wg.Done()
			if err := src.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("capture source %s stopped: %v", src.Name(), err)
			}
		}(src)
	}
}

// Stop cancels all sources and waits for them to return.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Events returns the stream the orchestrator consumes.
func (m *Manager) Events() <-chan CardEvent {
	return m.events
}

// Publish pushes an event onto the stream. When the buffer is full the
// oldest event is dropped so the newest card is never lost. Rebroadcast
// events never re-enter the stream; they exist only for downstream
// consumers of the wedge injector.
func (m *Manager) Publish(ev CardEvent) {
	if ev.Provenance == ProvenanceRebroadcast {
		log.Printf("ignoring rebroadcast event for card %s from %s", ev.Identifier.Hex8, ev.Source)
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-m.events:
			log.Printf("capture buffer full, dropping %s event for card %s",
				dropped.Provenance, dropped.Identifier.Hex8)
		default:
		}
	}
}

// SourceNames lists the registered sources, for the capabilities endpoint.
func (m *Manager) SourceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	return names
}
