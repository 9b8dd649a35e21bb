// Package transport implements the WebSocket client used when the agent runs
// against a remote backend. Inbound push messages in the interruptible type
// set are routed through the response priority controller before dispatch, so
// the UI never renders output from a superseded response session.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumipet/lumipet/logging"
	"github.com/lumipet/lumipet/priority"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

// Inbound message types pushed by the backend.
const (
	TypeDialogue   = "dialogue"
	TypeAudio      = "audio"
	TypeExpression = "expression"
	TypeSync       = "sync"
	TypeComplete   = "complete"
)

// interruptibleTypes are the message types subject to priority arbitration.
// Everything else (control traffic, completions) bypasses the controller.
var interruptibleTypes = map[string]struct{}{
	TypeDialogue:   {},
	TypeAudio:      {},
	TypeExpression: {},
	TypeSync:       {},
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: connection closed")

// Message is one typed frame on the backend channel.
type Message struct {
	Type       string          `json:"type"`
	ResponseID string          `json:"response_id,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Handler receives inbound messages that passed priority arbitration.
type Handler func(msg Message)

// ClientOptions configure NewClient.
type ClientOptions struct {
	Logger         logging.Logger
	Controller     *priority.Controller
	SendBufferSize int
}

// Client is a dialing WebSocket client with read/write pumps and ping/pong
// keepalive. Safe for concurrent Send; inbound dispatch is single-threaded.
type Client struct {
	url        string
	handler    Handler
	logger     logging.Logger
	controller *priority.Controller

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a client for the given backend URL. Messages are
// delivered to handler in read order; the priority controller, when set,
// filters interruptible types first.
func NewClient(url string, handler Handler, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Logger:         logging.NoOpLogger{},
		SendBufferSize: 256,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{
		url:        url,
		handler:    handler,
		logger:     logging.OrNoOp(opts.Logger),
		controller: opts.Controller,
		send:       make(chan []byte, opts.SendBufferSize),
		done:       make(chan struct{}),
	}
}

// Connect dials the backend and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readPump()
	go c.writePump()
	c.logger.Info("transport.connected", "url", c.url)
	return nil
}

// Send queues an outbound message. It never blocks; a full buffer is an
// error so callers can drop or retry.
func (c *Client) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("transport: send buffer full")
	}
}

// Close tears down the connection and stops both pumps.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
		}
	})
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("transport.read_failed", "error", err.Error())
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("transport.bad_frame", "error", err.Error())
			continue
		}
		c.route(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// route applies priority arbitration to interruptible messages and forwards
// survivors to the handler. Completion frames always reach the controller so
// the current session and discard set stay in sync with the backend.
func (c *Client) route(msg Message) {
	if c.controller != nil && msg.ResponseID != "" {
		if msg.Type == TypeComplete {
			c.controller.NotifyComplete(msg.ResponseID)
		} else if _, interruptible := interruptibleTypes[msg.Type]; interruptible {
			if !c.controller.ShouldAccept(msg.ResponseID, msg.Priority) {
				c.logger.Debug("transport.dropped",
					"type", msg.Type, "response_id", msg.ResponseID, "priority", msg.Priority)
				return
			}
			if msg.Type == TypeAudio {
				c.controller.MarkAudioActive()
			}
		}
	}
	if c.handler != nil {
		c.handler(msg)
	}
}
