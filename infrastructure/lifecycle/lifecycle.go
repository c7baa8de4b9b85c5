// Package lifecycle provides the Service/Manager pair used to start and
// stop every long-lived component (EventBus worker, MatchingQueue worker,
// Scheduler reconcilers, HTTP adapter) together, in a fixed order, with
// rollback on partial-start failure.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// Service is anything with an explicit start/stop lifecycle.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts registered services in registration order and stops them
// in reverse order. A failed Start rolls back everything already started.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds svc to the managed set. It must be called before Start.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("lifecycle: cannot register %s after Start", svc.Name())
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in order. If one fails, every
// service started so far is stopped in reverse order before the error is
// returned.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.started = true
		m.mu.Unlock()

		started := make([]Service, 0, len(services))
		for _, svc := range services {
			if err := svc.Start(ctx); err != nil {
				startErr = fmt.Errorf("lifecycle: start %s: %w", svc.Name(), err)
				for i := len(started) - 1; i >= 0; i-- {
					_ = started[i].Stop(ctx)
				}
				return
			}
			started = append(started, svc)
		}
	})
	return startErr
}

// Stop stops every registered service in reverse registration order,
// returning the first error encountered but still attempting every stop.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(ctx); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("lifecycle: stop %s: %w", services[i].Name(), err)
			}
		}
	})
	return stopErr
}
