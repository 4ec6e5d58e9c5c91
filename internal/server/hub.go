// Package server coordinates room membership, duplicate suppression, message
// fan-out and connection cleanup via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Hub tracks which clients are live in which room.
//
// Every operation on a room (join, leave, publish, broadcast) holds that
// room's lock; operations on different rooms never contend beyond the short
// map lookup under the hub lock. A room entry is deleted as soon as its last
// client leaves, together with its dedup state.
type Hub struct {
	mu     sync.Mutex
	rooms  map[int64]*roomEntry
	active map[*Client]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

type roomEntry struct {
	mu      sync.Mutex
	id      int64
	clients map[*Client]struct{}
	dedup   *dedupFilter
	// dead is set when the entry has been removed from the hub; a joiner that
	// raced the removal retries with a fresh entry.
	dead bool
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:  make(map[int64]*roomEntry),
		active: make(map[*Client]struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "hub")),
	}
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// track registers a live connection for shutdown. It returns false once the
// hub is shutting down.
func (h *Hub) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.active[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(c *Client) {
	h.mu.Lock()
	_, ok := h.active[c]
	delete(h.active, c)
	h.mu.Unlock()
	if ok {
		h.wg.Done()
	}
}

// entry returns the live entry for roomID, creating it when create is set.
func (h *Hub) entry(roomID int64, create bool) *roomEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.rooms[roomID]
	if !ok && create {
		e = &roomEntry{
			id:      roomID,
			clients: make(map[*Client]struct{}),
			dedup:   newDedupFilter(),
		}
		h.rooms[roomID] = e
	}
	return e
}

// lockEntry returns the entry for roomID with its lock held, or nil.
func (h *Hub) lockEntry(roomID int64, create bool) *roomEntry {
	for {
		e := h.entry(roomID, create)
		if e == nil {
			return nil
		}
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// releaseIfEmpty removes e from the hub when it has no clients. e.mu must be held.
func (h *Hub) releaseIfEmpty(e *roomEntry) {
	if len(e.clients) > 0 {
		return
	}
	e.dead = true
	h.mu.Lock()
	if h.rooms[e.id] == e {
		delete(h.rooms, e.id)
	}
	h.mu.Unlock()
}

// Join adds c to roomID. greet, when non-nil, runs under the room lock
// before c becomes visible to broadcasts, so frames it queues precede every
// message fanned out afterwards. If greet fails c is not added. Joining the
// same room twice yields one membership.
func (h *Hub) Join(roomID int64, c *Client, greet func() error) error {
	e := h.lockEntry(roomID, true)
	defer e.mu.Unlock()

	if _, ok := e.clients[c]; ok {
		return nil
	}
	if greet != nil {
		if err := greet(); err != nil {
			h.releaseIfEmpty(e)
			return err
		}
	}
	e.clients[c] = struct{}{}
	c.roomID = roomID
	h.logger.Debug("client joined room",
		slog.Int64("room_id", roomID),
		slog.String("conn_id", c.id.String()),
		slog.Int("room_clients", len(e.clients)))
	return nil
}

// Leave removes c from roomID and discards the dedup entry of c's user. The
// room entry is deleted when it becomes empty. Leaving twice is a no-op.
func (h *Hub) Leave(roomID int64, c *Client) {
	e := h.lockEntry(roomID, false)
	if e == nil {
		return
	}
	defer e.mu.Unlock()

	if _, ok := e.clients[c]; !ok {
		return
	}
	delete(e.clients, c)
	e.dedup.forget(c.userID)
	h.releaseIfEmpty(e)
	h.logger.Debug("client left room",
		slog.Int64("room_id", roomID),
		slog.String("conn_id", c.id.String()),
		slog.Int("room_clients", len(e.clients)))
}

// Broadcast delivers payload to every client in roomID and returns the number
// of clients that accepted it. Clients whose queue is full are removed and
// closed.
func (h *Hub) Broadcast(roomID int64, payload []byte) int {
	e := h.lockEntry(roomID, false)
	if e == nil {
		return 0
	}
	delivered, failed := h.fanOut(e, payload)
	e.mu.Unlock()

	h.closeFailed(failed)
	return delivered
}

// Publish runs the dedup check, persist, and fan-out for one Send from c as a
// single step on roomID, so the room's broadcast order matches the order in
// which messages were persisted. text must already be trimmed and validated.
func (h *Hub) Publish(roomID int64, c *Client, text string, persist func() (chat.Message, error)) (chat.Message, error) {
	e := h.lockEntry(roomID, false)
	if e == nil {
		return chat.Message{}, ErrNotJoined
	}

	if _, ok := e.clients[c]; !ok {
		e.mu.Unlock()
		return chat.Message{}, ErrNotJoined
	}
	if e.dedup.isDuplicate(c.userID, text) {
		e.mu.Unlock()
		return chat.Message{}, ErrDuplicateMessage
	}

	msg, err := persist()
	if err != nil {
		e.mu.Unlock()
		return chat.Message{}, err
	}
	e.dedup.remember(c.userID, text)

	payload, err := EncodeOutbound(MessageFrame{Message: msg})
	if err != nil {
		e.mu.Unlock()
		h.logger.Error("failed to encode message frame", slog.Any("error", err))
		return msg, nil
	}
	delivered, failed := h.fanOut(e, payload)
	e.mu.Unlock()

	h.closeFailed(failed)
	h.logger.Debug("message broadcast",
		slog.Int64("room_id", roomID),
		slog.Int64("message_id", msg.ID),
		slog.Int("delivered", delivered))
	return msg, nil
}

// fanOut sends payload to every client of e. e.mu must be held.
func (h *Hub) fanOut(e *roomEntry, payload []byte) (int, []*Client) {
	var failed []*Client
	delivered := 0
	for c := range e.clients {
		if c.Send(payload) {
			delivered++
			continue
		}
		delete(e.clients, c)
		e.dedup.forget(c.userID)
		failed = append(failed, c)
	}
	if len(failed) > 0 {
		h.releaseIfEmpty(e)
	}
	return delivered, failed
}

// closeFailed closes clients dropped during a broadcast. Must be called
// without any room lock held.
func (h *Hub) closeFailed(failed []*Client) {
	for _, c := range failed {
		if c.Closed() {
			continue
		}
		h.logger.Warn("client removed due to full send buffer", slog.String("conn_id", c.id.String()))
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
	}
}

// RoomCount returns the number of rooms with at least one live client.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// SessionCount returns the number of clients in roomID.
func (h *Hub) SessionCount(roomID int64) int {
	e := h.lockEntry(roomID, false)
	if e == nil {
		return 0
	}
	defer e.mu.Unlock()
	return len(e.clients)
}

// ConnectionCount returns the number of live connections, joined or not.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// dedupSize returns the number of users with remembered text in roomID.
func (h *Hub) dedupSize(roomID int64) int {
	e := h.lockEntry(roomID, false)
	if e == nil {
		return 0
	}
	defer e.mu.Unlock()
	return e.dedup.len()
}

// Shutdown closes every live connection and waits for their sessions to
// finish, or until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mu.Lock()
	h.cancel()
	clients := make([]*Client, 0, len(h.active))
	for c := range h.active {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info("closed client connections", slog.Int("count", len(clients)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
