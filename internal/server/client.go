// Package server manages individual WebSocket clients, handling the write
// pump, keepalive, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConfig holds the per-connection limits.
type ClientConfig struct {
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      RateLimitConfig
}

func clientConfigFrom(cfg Config) ClientConfig {
	return ClientConfig{
		MaxMessageSize: cfg.MaxMessageSize,
		SendBufferSize: cfg.SendBufferSize,
		RateLimit:      cfg.RateLimit,
	}
}

// Client is one live duplex connection to one client. It owns the outbound
// send path; every write to the socket happens on the write pump.
type Client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	addr   string
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig

	closeOnce   sync.Once
	lifeMu      sync.Mutex
	started     bool
	closeCode   int
	closeReason string
	pumpDone    chan struct{}

	// owned by the session loop
	userID int64
	roomID int64
}

// NewClient creates a Client for conn. conn may be nil in tests, in which case
// frames stay queued on the send channel.
func NewClient(conn *websocket.Conn, cfg ClientConfig, addr string, logger *slog.Logger) *Client {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if conn != nil && cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()

	return &Client{
		id:          id,
		conn:        conn,
		addr:        addr,
		send:        make(chan []byte, cfg.SendBufferSize),
		done:        make(chan struct{}),
		pumpDone:    make(chan struct{}),
		logger:      logger.With(slog.String("conn_id", id.String()), slog.String("addr", addr)),
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:   cfg.RateLimit,
	}
}

// ID returns the connection handle.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// UserID returns the authenticated user, zero before the handshake completes.
func (c *Client) UserID() int64 {
	return c.userID
}

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has run.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send queues payload without blocking. It returns false when the client is
// closed or its queue is full; a send to a closed client is dropped.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Start configures keepalive and launches the write pump. A client closed
// before Start never starts its pump.
func (c *Client) Start() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.conn == nil || c.Closed() {
		close(c.pumpDone)
		return
	}
	c.started = true
	c.setupReadConnection()
	go c.writePump()
}

// ReadFrame blocks until the next data frame arrives.
func (c *Client) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// allowSend consumes one token from the rate limiter.
func (c *Client) allowSend() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded",
			slog.Int("burst", c.rateLimit.Burst),
			slog.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// Close ends the connection with code and reason. Frames already queued are
// written first, within flushWait, then the close frame follows. Only the
// first call has any effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.lifeMu.Lock()
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
		started := c.started
		c.lifeMu.Unlock()

		if c.conn == nil || started {
			// the write pump flushes and closes the socket
			return
		}
		c.writeCloseFrame()
		c.closeConnection()
	})
}

// Wait blocks until the write pump has exited.
func (c *Client) Wait() {
	<-c.pumpDone
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", slog.Any("error", err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", slog.Any("error", err))
		}
		return nil
	})
}

// logReadError logs a terminal read error at a level matching how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info("client disconnected", slog.Any("reason", err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("connection closed", slog.Any("reason", err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", slog.Any("error", err))
	default:
		c.logger.Warn("websocket read error", slog.Any("error", err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.writeCloseFrame()
		c.closeConnection()
		close(c.pumpDone)
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case <-c.done:
		c.flushQueued()
		return false
	case message := <-c.send:
		if !c.writeTextMessage(message) {
			c.Close(websocket.CloseAbnormalClosure, "write failed")
			return false
		}
		return true
	case <-ticker.C:
		if !c.handlePing() {
			c.Close(websocket.CloseAbnormalClosure, "ping failed")
			return false
		}
		return true
	}
}

// flushQueued writes the frames still queued when the client was closed,
// giving up once flushWait has passed.
func (c *Client) flushQueued() {
	deadline := time.Now().Add(flushWait)
	for {
		select {
		case message := <-c.send:
			if time.Now().After(deadline) {
				c.logger.Debug("dropping queued frames on close", slog.Int("pending", len(c.send)+1))
				return
			}
			if err := c.conn.SetWriteDeadline(deadline); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug("error flushing queued frame", slog.Any("error", err))
				}
				return
			}
		default:
			return
		}
	}
}

// writeCloseFrame sends the close frame recorded by Close.
func (c *Client) writeCloseFrame() {
	c.lifeMu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.lifeMu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("error writing close frame", slog.Any("error", err))
		}
	}
	c.logger.Debug("connection closed", slog.Int("code", code), slog.String("reason", reason))
}

// writeTextMessage writes one frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", slog.Any("error", err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping", slog.Any("error", err))
		return false
	}
	return true
}

// closeConnection closes the socket, ignoring errors from an already closed one.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", slog.Any("error", err))
		}
	}
}

// CloseCode returns the code passed to the first Close call, zero while open.
func (c *Client) CloseCode() int {
	select {
	case <-c.done:
		return c.closeCode
	default:
		return 0
	}
}
