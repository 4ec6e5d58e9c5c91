package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

const testOrigin = "http://localhost:8080"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDirectory is an in-memory chat.Directory.
type fakeDirectory struct {
	mu     sync.Mutex
	users  map[string]chat.User
	rooms  map[int64]map[int64]bool
	groups map[int64]fakeGroup
	err    error
}

type fakeGroup struct {
	roomID  int64
	members map[int64]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:  make(map[string]chat.User),
		rooms:  make(map[int64]map[int64]bool),
		groups: make(map[int64]fakeGroup),
	}
}

func (d *fakeDirectory) addUser(id int64, name string) chat.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := chat.User{ID: id, Username: name}
	d.users[name] = u
	return u
}

func (d *fakeDirectory) addRoom(roomID int64, members ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := make(map[int64]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	d.rooms[roomID] = set
}

func (d *fakeDirectory) addGroup(groupID, roomID int64, members ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := make(map[int64]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	d.groups[groupID] = fakeGroup{roomID: roomID, members: set}
	if _, ok := d.rooms[roomID]; !ok {
		d.rooms[roomID] = make(map[int64]bool)
	}
	for _, m := range members {
		d.rooms[roomID][m] = true
	}
}

func (d *fakeDirectory) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDirectory) FindUserByName(_ context.Context, username string) (chat.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return chat.User{}, d.err
	}
	u, ok := d.users[username]
	if !ok {
		return chat.User{}, chat.ErrNotFound
	}
	return u, nil
}

func (d *fakeDirectory) RoomExists(_ context.Context, roomID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	_, ok := d.rooms[roomID]
	return ok, nil
}

func (d *fakeDirectory) IsRoomMember(_ context.Context, roomID, userID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.rooms[roomID][userID], nil
}

func (d *fakeDirectory) IsGroupMember(_ context.Context, groupID, userID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.groups[groupID].members[userID], nil
}

func (d *fakeDirectory) ResolveGroupChatRoom(_ context.Context, groupID int64) (chat.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return chat.Room{}, d.err
	}
	g, ok := d.groups[groupID]
	if !ok {
		return chat.Room{}, chat.ErrNotFound
	}
	return chat.Room{ID: g.roomID, Kind: chat.RoomGroup}, nil
}

// fakeMessages is an in-memory chat.MessageStore with a monotonic clock.
type fakeMessages struct {
	mu        sync.Mutex
	nextID    int64
	clock     time.Time
	messages  []chat.Message
	createErr error
	markErr   error
	listErr   error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{clock: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (m *fakeMessages) insertAt(roomID, senderID int64, text string, ts time.Time) chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg := chat.Message{ID: m.nextID, RoomID: roomID, SenderID: senderID, Text: text, Timestamp: ts}
	m.messages = append(m.messages, msg)
	return msg
}

func (m *fakeMessages) setCreateErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

func (m *fakeMessages) setMarkErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markErr = err
}

func (m *fakeMessages) CreateMessage(_ context.Context, roomID, senderID int64, text string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return chat.Message{}, m.createErr
	}
	m.nextID++
	m.clock = m.clock.Add(time.Millisecond)
	msg := chat.Message{ID: m.nextID, RoomID: roomID, SenderID: senderID, Text: text, Timestamp: m.clock}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *fakeMessages) ListMessages(_ context.Context, roomID int64) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []chat.Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *fakeMessages) MarkRead(_ context.Context, roomID, excludingSender int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return 0, m.markErr
	}
	var n int64
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.RoomID == roomID && msg.SenderID != excludingSender && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *fakeMessages) snapshot() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Message(nil), m.messages...)
}

func (m *fakeMessages) count(roomID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			n++
		}
	}
	return n
}

// fakeSessions is an in-memory chat.SessionStore.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]chat.RefreshSession
}

func (s *fakeSessions) add(userID int64, refresh string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[refresh] = chat.RefreshSession{UserID: userID, RefreshToken: refresh, Active: active}
}

func (s *fakeSessions) FindActiveSession(_ context.Context, refreshToken string) (chat.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[refreshToken]
	if !ok || !sess.Active {
		return chat.RefreshSession{}, chat.ErrNotFound
	}
	return sess, nil
}

// testEnv is a running chat server backed by fakes.
type testEnv struct {
	srv      *Server
	http     *httptest.Server
	verifier *auth.JWTVerifier
	dir      *fakeDirectory
	msgs     *fakeMessages
	sessions *fakeSessions
	wsBase   string
}

func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	verifier, err := auth.NewJWTVerifier("test-secret", "HS256")
	require.NoError(t, err)

	env := &testEnv{
		verifier: verifier,
		dir:      newFakeDirectory(),
		msgs:     newFakeMessages(),
		sessions: &fakeSessions{sessions: make(map[string]chat.RefreshSession)},
	}

	cfg := NewConfig()
	cfg.RateLimit.Burst = 100
	cfg.AllowedOrigins = []string{testOrigin}
	if customize != nil {
		customize(&cfg)
	}

	env.srv = New(cfg, Deps{
		Verifier:  verifier,
		Directory: env.dir,
		Messages:  env.msgs,
		Sessions:  env.sessions,
		Logger:    newTestLogger(),
	})
	env.http = httptest.NewServer(env.srv.SetupRoutes())
	t.Cleanup(func() {
		_ = env.srv.Hub().Shutdown(2 * time.Second)
		env.http.Close()
	})

	u, err := url.Parse(env.http.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	env.wsBase = u.String()
	return env
}

func (e *testEnv) token(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	token, err := e.verifier.Issue(subject, ttl)
	require.NoError(t, err)
	return token
}

// refreshToken issues a long-lived refresh credential for subject backed by
// a session with the given activity flag.
func (e *testEnv) refreshToken(t *testing.T, subject string, active bool) string {
	t.Helper()
	token := e.token(t, subject, 24*time.Hour)
	e.sessions.add(0, token, active)
	return token
}

// seed registers alice(1), bob(2) and carol(3); chat 10 holds alice and bob,
// chat 20 holds alice and carol, and group 5 is backed by chat 30 with alice
// and bob.
func (e *testEnv) seed() {
	e.dir.addUser(1, "alice")
	e.dir.addUser(2, "bob")
	e.dir.addUser(3, "carol")
	e.dir.addRoom(10, 1, 2)
	e.dir.addRoom(20, 1, 3)
	e.dir.addGroup(5, 30, 1, 2)
}

// dial opens a websocket on path with the given credentials.
func (e *testEnv) dial(t *testing.T, path, access, refresh string) (*websocket.Conn, error) {
	t.Helper()

	q := url.Values{}
	if access != "" {
		q.Set("access_token", access)
	}
	if refresh != "" {
		q.Set("refresh_token", refresh)
	}
	target := e.wsBase + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	header.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, err
}

// connect dials path as username with a valid access token and consumes the
// connect and history frames.
func (e *testEnv) connect(t *testing.T, path, username string) (*websocket.Conn, testFrame) {
	t.Helper()

	conn, err := e.dial(t, path, e.token(t, username, time.Minute), e.refreshToken(t, username, true))
	require.NoError(t, err)

	connected := readFrame(t, conn)
	require.Equal(t, frameConnect, connected.Type, "first frame must be connect")
	history := readFrame(t, conn)
	require.Equal(t, frameHistory, history.Type, "second frame must be history")
	return conn, history
}

// testFrame is the union of every outbound frame shape.
type testFrame struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	AccessToken string         `json:"access_token"`
	Messages    []chat.Message `json:"messages"`
	ID          int64          `json:"id"`
	ChatID      int64          `json:"chat_id"`
	SenderID    int64          `json:"sender_id"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	IsRead      bool           `json:"is_read"`
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f testFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	sendJSON(t, conn, map[string]string{"type": "send", "text": text})
}

// expectNoMessage asserts that nothing arrives on conn within timeout.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// expectClose reads until the server closes conn and checks code and reason.
func expectClose(t *testing.T, conn *websocket.Conn, code int, reason string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		if err == nil {
			require.NotContains(t, string(data), `"type":"connect"`, "no connect frame may precede a refusal")
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		require.Equal(t, code, closeErr.Code)
		if reason != "" {
			require.True(t, strings.Contains(closeErr.Text, reason), "close reason %q does not contain %q", closeErr.Text, reason)
		}
		return
	}
}
