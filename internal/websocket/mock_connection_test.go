package websocket

import (
	"errors"
	"sync"
	"time"
)

var errMockClosed = errors.New("connection closed")

type mockFrame struct {
	Type int
	Data []byte
	Err  error
}

// mockConnection records writes and serves reads from a channel. ReadMessage
// blocks until a frame is queued or the connection is closed.
type mockConnection struct {
	mu      sync.Mutex
	written []mockFrame
	closed  bool

	reads     chan mockFrame
	closeOnce sync.Once
	done      chan struct{}

	readLimit    int64
	readDeadline time.Time
	pongHandler  func(string) error
	remoteAddr   string
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		reads:      make(chan mockFrame, 16),
		done:       make(chan struct{}),
		remoteAddr: "127.0.0.1:5555",
	}
}

func (m *mockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockClosed
	}
	m.written = append(m.written, mockFrame{Type: messageType, Data: data})
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.reads:
		return f.Type, f.Data, f.Err
	case <-m.done:
		return 0, nil, errMockClosed
	}
}

func (m *mockConnection) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

func (m *mockConnection) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDeadline = t
	return nil
}

func (m *mockConnection) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *mockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongHandler = h
}

func (m *mockConnection) RemoteAddr() string { return m.remoteAddr }

func (m *mockConnection) queue(messageType int, data []byte, err error) {
	m.reads <- mockFrame{Type: messageType, Data: data, Err: err}
}

func (m *mockConnection) frames() []mockFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockFrame, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
