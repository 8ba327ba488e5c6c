package reader

import (
	"errors"
	"strings"
	"sync"
)

// ErrNoTapQueued is returned by Mock.Read when the script ran dry. A real
// reader would block forever instead; tests prefer the error.
var ErrNoTapQueued = errors.New("mock reader: no tap queued")

// Tap is one scripted presentation of a tag to a Mock.
type Tap struct {
	UID     int64
	Content string

	// EchoWrite replaces Content with the most recent successful write,
	// the way a real tag retains what was written to it. With no write
	// recorded yet the content is empty.
	EchoWrite bool
}

// Mock is a scripted Reader for tests. Taps are consumed in FIFO order
// and writes are recorded for inspection.
type Mock struct {
	mu         sync.Mutex
	taps       []Tap
	writes     []string
	failWrites int
}

func NewMock() *Mock {
	return &Mock{}
}

// QueueTap appends taps to the script.
func (m *Mock) QueueTap(taps ...Tap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taps = append(m.taps, taps...)
}

// FailNextWrites makes the next n Write calls fail.
func (m *Mock) FailNextWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = n
}

func (m *Mock) Read() (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.taps) == 0 {
		return 0, "", ErrNoTapQueued
	}
	t := m.taps[0]
	m.taps = m.taps[1:]

	content := strings.TrimSpace(t.Content)
	if t.EchoWrite {
		content = ""
		if len(m.writes) > 0 {
			content = m.writes[len(m.writes)-1]
		}
	}
	return t.UID, content, nil
}

func (m *Mock) Write(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites > 0 {
		m.failWrites--
		return errors.New("mock reader: write failed")
	}
	m.writes = append(m.writes, content)
	return nil
}

// Writes returns a copy of all recorded writes.  Test-only helper.
func (m *Mock) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}
