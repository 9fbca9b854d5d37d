package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"framebridge/native/internal/logx"
)

// ErrClosed is returned by Run when the signaling channel goes away.
var ErrClosed = errors.New("signaling channel closed")

const writeWait = 5 * time.Second

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn *websocket.Conn
	log  logging.LeveledLogger

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the signaling server's viewer endpoint and starts the
// keep-alive ping loop. pingEvery <= 0 disables pings.
func Dial(ctx context.Context, url string, pingEvery time.Duration, lf logging.LoggerFactory) (*Client, error) {
	if lf == nil {
		lf = logx.Discard()
	}
	log := lf.NewLogger("signal")
	log.Infof("connecting to %s", url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		log:    log,
		closed: make(chan struct{}),
	}
	log.Info("connected to signaling server")

	if pingEvery > 0 {
		c.wg.Add(1)
		go c.pingLoop(pingEvery)
	}
	return c, nil
}

// Close shuts down the WebSocket connection and waits for the ping loop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// SendJSON writes v as one text message.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.log.Tracef(">>> %s", string(data))
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Run reads messages until the channel closes or ctx is done, passing every
// text message to handle. Binary messages are ignored. Errors returned by
// handle are logged and do not stop the loop.
//
// Run returns ctx's error when ctx ends the loop and an error wrapping
// ErrClosed otherwise.
func (c *Client) Run(ctx context.Context, handle func(data []byte) error) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.closed:
				return ErrClosed
			default:
			}
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}

		if msgType == websocket.BinaryMessage {
			c.log.Debugf("ignoring binary message (%d bytes)", len(data))
			continue
		}

		c.log.Tracef("<<< %s", string(data))
		if err := handle(data); err != nil {
			c.log.Errorf("handle message: %v", err)
		}
	}
}

func (c *Client) pingLoop(every time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeWait),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warnf("ping error: %v", err)
				}
				return
			}
		}
	}
}
