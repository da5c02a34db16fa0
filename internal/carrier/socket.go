package carrier

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/framer"
)

// wsSocket adapts a gorilla/websocket connection to framer.Socket, tracking
// an approximate buffered-bytes figure for application-level backpressure
// since gorilla's synchronous writer exposes no browser-style
// bufferedAmount of its own.
type wsSocket struct {
	conn      *websocket.Conn
	streamSID string

	writeMu sync.Mutex
	closed  atomic.Bool
	buffered atomic.Int64
}

func newWSSocket(conn *websocket.Conn, streamSID string) *wsSocket {
	return &wsSocket{conn: conn, streamSID: streamSID}
}

func (s *wsSocket) State() framer.SocketState {
	if s.closed.Load() {
		return framer.SocketClosed
	}
	return framer.SocketOpen
}

func (s *wsSocket) BufferedAmount() int {
	return int(s.buffered.Load())
}

func (s *wsSocket) StreamSID() string { return s.streamSID }

func (s *wsSocket) Send(payload []byte) error {
	if s.closed.Load() {
		return websocket.ErrCloseSent
	}
	s.buffered.Add(int64(len(payload)))
	defer s.buffered.Add(-int64(len(payload)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.closed.Store(true)
		return err
	}
	return nil
}

func (s *wsSocket) Close() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}
