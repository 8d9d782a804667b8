package testutil

import (
	"sync"
	"time"

	"github.com/developingchet/leroy/internal/journal"
)

// MockJournal implements journal.Journal with an in-memory map.
// All methods are safe for concurrent use.
type MockJournal struct {
	mu      sync.Mutex
	entries map[string]journal.Entry
	errors  map[string]error

	// Size is returned by SizeBytes.
	Size int64
}

// NewMockJournal returns an empty MockJournal.
func NewMockJournal() *MockJournal {
	return &MockJournal{
		entries: make(map[string]journal.Entry),
		errors:  make(map[string]error),
		Size:    1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockJournal) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockJournal) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

func (m *MockJournal) Record(e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Record"); err != nil {
		return err
	}
	m.entries[e.Key] = e
	return nil
}

func (m *MockJournal) List() (map[string]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("List"); err != nil {
		return nil, err
	}
	out := make(map[string]journal.Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *MockJournal) PruneExpired(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PruneExpired"); err != nil {
		return 0, err
	}
	pruned := 0
	for k, e := range m.entries {
		if e.ExpiresAt.Before(now) {
			delete(m.entries, k)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MockJournal) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popError("Close")
}
