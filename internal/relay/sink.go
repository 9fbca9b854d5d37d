package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"framebridge/native/internal/logx"
)

const sinkWriteWait = time.Second

// Sink is the frame-output WebSocket. Each frame is one binary message.
type Sink struct {
	conn *websocket.Conn
	log  logging.LeveledLogger

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// DialSink connects to the frame-output endpoint.
func DialSink(ctx context.Context, url string, lf logging.LoggerFactory) (*Sink, error) {
	if lf == nil {
		lf = logx.Discard()
	}
	log := lf.NewLogger("relay")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("frame channel dial: %w", err)
	}
	log.Infof("frame channel connected to %s", url)

	s := &Sink{conn: conn, log: log, done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

// readLoop drains inbound messages so control frames are processed, and
// marks the sink closed when the peer goes away.
func (s *Sink) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Swap(true) {
				s.log.Warnf("frame channel closed: %v", err)
			}
			return
		}
		s.log.Debugf("frame channel message: %.80s", string(data))
	}
}

// WriteMessage sends data as one binary message.
func (s *Sink) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return fmt.Errorf("frame channel closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(sinkWriteWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Closed reports whether the channel has gone away.
func (s *Sink) Closed() bool {
	return s.closed.Load()
}

// Close closes the connection and waits for the read loop.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(sinkWriteWait))
		s.mu.Unlock()
		err = s.conn.Close()
		<-s.done
	})
	return err
}
