package websocket

import (
	"time"
)

// Connection is the subset of a websocket connection the client pumps use.
// It is satisfied by ConnectionWrapper and by test doubles.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}
