package testutil

import (
	"context"
	"sync"

	"github.com/developingchet/leroy/internal/sink"
)

// MockSink implements sink.Sink by recording bans in memory.
// All methods are safe for concurrent use.
type MockSink struct {
	mu     sync.Mutex
	bans   []sink.Ban
	closed bool

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error
}

// NewMockSink returns an empty MockSink.
func NewMockSink() *MockSink {
	return &MockSink{errors: make(map[string]error)}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockSink) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockSink) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

func (m *MockSink) VerifyTargets(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popError("VerifyTargets")
}

// ApplyBan records b unless an error was injected, in which case the ban
// is dropped.
func (m *MockSink) ApplyBan(_ context.Context, b sink.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ApplyBan"); err != nil {
		return err
	}
	m.bans = append(m.bans, b)
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Close"); err != nil {
		return err
	}
	m.closed = true
	return nil
}

// Bans returns a copy of the recorded bans in call order.
func (m *MockSink) Bans() []sink.Ban {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sink.Ban, len(m.bans))
	copy(out, m.bans)
	return out
}

// Closed reports whether Close succeeded.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
