package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger fans events out to several sinks
type MultiLogger struct {
	loggers []Logger
	async   bool

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending []error
}

// NewMultiLogger creates a synchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// SetAsync makes Log return before the sinks finish. Sink errors are then
// collected and returned by Errors.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log implements Logger. In synchronous mode every sink is tried and the
// first error is returned.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	if m.async {
		for _, logger := range m.loggers {
			m.wg.Add(1)
			go func(l Logger) {
				defer m.wg.Done()
				if err := l.Log(ctx, event); err != nil {
					m.mu.Lock()
					m.pending = append(m.pending, err)
					m.mu.Unlock()
				}
			}(logger)
		}
		return nil
	}

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Wait blocks until pending asynchronous writes finish
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains errors collected from asynchronous writes
func (m *MultiLogger) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.pending
	m.pending = nil
	return errs
}

// Close waits for pending writes and closes every sink
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
