package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LifecycleManager periodically exports and evicts idle sessions. One
// goroutine, one sweep per interval; export failures retain the session
// for the next cycle so in-memory state is never silently dropped.
type LifecycleManager struct {
	registry *Registry
	logger   *zap.Logger
	interval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewLifecycleManager wires a manager to the registry. The sweep
// interval comes from the registry's configuration.
func NewLifecycleManager(registry *Registry, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		registry: registry,
		logger:   logger.Named("lifecycle"),
		interval: registry.cfg.SweepInterval,
		stop:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (m *LifecycleManager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("lifecycle manager started",
			zap.Duration("interval", m.interval),
			zap.Duration("idle_threshold", m.registry.cfg.IdleThreshold))

		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for an in-flight sweep to finish.
func (m *LifecycleManager) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.logger.Info("lifecycle manager stopped")
}

// Sweep exports and evicts every session idle past the threshold,
// returning how many were evicted. Exposed for the shutdown path and
// for tests.
func (m *LifecycleManager) Sweep() int {
	expired := m.registry.expired()
	if len(expired) == 0 {
		return 0
	}

	evicted := 0
	for _, id := range expired {
		if _, err := m.registry.End(id); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue // ended concurrently
			}
			m.logger.Warn("eviction export failed, will retry next cycle",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		evicted++
	}

	m.logger.Info("sweep completed",
		zap.Int("expired", len(expired)),
		zap.Int("evicted", evicted))
	return evicted
}

// Flush exports and removes every live session regardless of idle age.
// Called once at shutdown.
func (m *LifecycleManager) Flush() int {
	flushed := 0
	for _, id := range m.registry.ActiveSessionIDs() {
		if _, err := m.registry.End(id); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			m.logger.Error("shutdown flush export failed",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		flushed++
	}
	return flushed
}
