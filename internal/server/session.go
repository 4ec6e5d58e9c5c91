package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticating
	stateJoiningRoom
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateJoiningRoom:
		return "joining"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("sessionState(%d)", int(s))
	}
}

type targetKind int

const (
	targetChat targetKind = iota
	targetGroup
)

// target is the room or group named by the connection path.
type target struct {
	kind targetKind
	id   int64
}

func (t target) String() string {
	if t.kind == targetGroup {
		return fmt.Sprintf("group/%d", t.id)
	}
	return fmt.Sprintf("chat/%d", t.id)
}

// chatSession is the per-connection state machine:
// connecting -> authenticating -> joining -> active -> closed.
type chatSession struct {
	srv    *Server
	client *Client
	creds  auth.Credentials
	target target

	ctx    context.Context
	state  sessionState
	user   chat.User
	roomID int64
	joined bool

	// fatal is the error that moved the session to closed, nil on a clean disconnect.
	fatal  error
	logger *slog.Logger
}

func newChatSession(ctx context.Context, srv *Server, client *Client, creds auth.Credentials, t target) *chatSession {
	return &chatSession{
		srv:    srv,
		client: client,
		creds:  creds,
		target: t,
		ctx:    ctx,
		state:  stateConnecting,
		logger: client.logger.With(slog.String("target", t.String())),
	}
}

// run drives the session to completion. Teardown runs exactly once.
func (s *chatSession) run() {
	defer s.teardown()

	for s.state != stateClosed {
		next := s.step()
		if next != s.state {
			s.logger.Debug("session transition", slog.String("from", s.state.String()), slog.String("to", next.String()))
		}
		s.state = next
	}
}

func (s *chatSession) step() sessionState {
	switch s.state {
	case stateConnecting:
		s.client.Start()
		return stateAuthenticating
	case stateAuthenticating:
		return s.authenticate()
	case stateJoiningRoom:
		return s.join()
	case stateActive:
		return s.serveNext()
	default:
		return stateClosed
	}
}

func (s *chatSession) fail(err error) sessionState {
	s.fatal = err
	return stateClosed
}

func (s *chatSession) authenticate() sessionState {
	res, err := s.srv.handshake.Authenticate(s.ctx, s.creds)

	// A renewed token goes out first, even when the handshake then fails.
	if res.Renewed() {
		if !s.push(TokenRenewedFrame{AccessToken: res.RenewedAccessToken}) {
			return stateClosed
		}
	}

	if err != nil {
		if auth.IsRejection(err) {
			s.logger.Info("handshake rejected", slog.Any("reason", err))
		} else {
			s.logger.Error("handshake failed", slog.Any("error", err))
		}
		return s.fail(err)
	}

	s.user = res.User
	s.client.userID = res.User.ID
	s.logger = s.logger.With(slog.Int64("user_id", res.User.ID))
	return stateJoiningRoom
}

// resolveRoom maps the connection target to a room the user may join.
func (s *chatSession) resolveRoom() (int64, error) {
	dir := s.srv.directory

	switch s.target.kind {
	case targetGroup:
		room, err := dir.ResolveGroupChatRoom(s.ctx, s.target.id)
		if err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				return 0, ErrGroupNotFound
			}
			return 0, fmt.Errorf("resolve group chat: %w", err)
		}
		member, err := dir.IsGroupMember(s.ctx, s.target.id, s.user.ID)
		if err != nil {
			return 0, fmt.Errorf("check group membership: %w", err)
		}
		if !member {
			return 0, ErrGroupForbidden
		}
		return room.ID, nil

	default:
		exists, err := dir.RoomExists(s.ctx, s.target.id)
		if err != nil {
			return 0, fmt.Errorf("check room: %w", err)
		}
		if !exists {
			return 0, ErrRoomNotFound
		}
		member, err := dir.IsRoomMember(s.ctx, s.target.id, s.user.ID)
		if err != nil {
			return 0, fmt.Errorf("check room membership: %w", err)
		}
		if !member {
			return 0, ErrForbidden
		}
		return s.target.id, nil
	}
}

func (s *chatSession) join() sessionState {
	roomID, err := s.resolveRoom()
	if err != nil {
		s.logger.Info("join refused", slog.Any("reason", err))
		return s.fail(err)
	}
	s.roomID = roomID
	s.logger = s.logger.With(slog.Int64("room_id", roomID))

	err = s.srv.hub.Join(roomID, s.client, func() error {
		history, err := s.srv.messages.ListMessages(s.ctx, roomID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		greeting := fmt.Sprintf("Authenticated as %s, connected to chat %d", s.user.Username, roomID)
		if !s.push(ConnectedFrame{Message: greeting}) || !s.push(HistoryFrame{Messages: history}) {
			return errClientGone
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errClientGone) {
			return stateClosed
		}
		s.logger.Error("join failed", slog.Any("error", err))
		return s.fail(err)
	}
	s.joined = true
	s.logger.Info("session active")
	return stateActive
}

var errClientGone = errors.New("client gone")

// serveNext blocks for one inbound frame and handles it.
func (s *chatSession) serveNext() sessionState {
	raw, err := s.client.ReadFrame()
	if err != nil {
		if !s.client.Closed() {
			s.client.logReadError(err)
		}
		return stateClosed
	}

	frame, err := DecodeInbound(raw)
	if err != nil {
		s.logger.Debug("rejected frame", slog.Any("reason", err))
		return s.reject(err)
	}

	switch f := frame.(type) {
	case SendFrame:
		return s.handleSend(f)
	case ReadFrame:
		return s.handleRead()
	default:
		return s.reject(ErrUnknownFrame)
	}
}

func (s *chatSession) handleSend(f SendFrame) sessionState {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return s.reject(ErrEmptyMessage)
	}
	if utf8.RuneCountInString(text) > s.srv.cfg.MaxTextLength {
		return s.reject(ErrMessageTooLong)
	}
	if !s.client.allowSend() {
		return s.reject(ErrRateLimited)
	}

	_, err := s.srv.hub.Publish(s.roomID, s.client, text, func() (chat.Message, error) {
		return s.srv.messages.CreateMessage(s.ctx, s.roomID, s.user.ID, text)
	})
	switch {
	case err == nil:
		return stateActive
	case errors.Is(err, ErrDuplicateMessage):
		return s.reject(ErrDuplicateMessage)
	case errors.Is(err, ErrNotJoined):
		// dropped from the room after a failed delivery
		return stateClosed
	case errors.Is(err, chat.ErrUnavailable):
		s.logger.Error("message store unavailable", slog.Any("error", err))
		return s.fail(err)
	default:
		s.logger.Error("failed to persist message", slog.Any("error", err))
		return s.reject(errors.New("failed to save message"))
	}
}

func (s *chatSession) handleRead() sessionState {
	n, err := s.srv.messages.MarkRead(s.ctx, s.roomID, s.user.ID)
	if err != nil {
		if errors.Is(err, chat.ErrUnavailable) {
			s.logger.Error("message store unavailable", slog.Any("error", err))
			return s.fail(err)
		}
		s.logger.Error("failed to mark messages read", slog.Any("error", err))
		return s.reject(errors.New("failed to mark messages as read"))
	}
	s.logger.Debug("marked messages read", slog.Int64("count", n))
	return stateActive
}

// reject answers the current frame with exactly one error frame.
func (s *chatSession) reject(err error) sessionState {
	if !s.push(ErrorFrame{Message: err.Error()}) {
		return stateClosed
	}
	return stateActive
}

// push queues f for the client. It returns false when the client can no
// longer receive frames.
func (s *chatSession) push(f OutboundFrame) bool {
	payload, err := EncodeOutbound(f)
	if err != nil {
		s.logger.Error("failed to encode frame", slog.Any("error", err))
		return false
	}
	if !s.client.Send(payload) {
		s.logger.Warn("dropping slow client", slog.String("frame", f.outboundType()))
		s.client.Close(websocket.CloseTryAgainLater, "send buffer full")
		return false
	}
	return true
}

func (s *chatSession) teardown() {
	if s.joined {
		s.srv.hub.Leave(s.roomID, s.client)
	}

	code, reason := websocket.CloseNormalClosure, ""
	if s.fatal != nil {
		code, reason = closeFor(s.fatal)
	}
	s.client.Close(code, reason)
	s.client.Wait()
	s.logger.Info("session closed", slog.Int("close_code", s.client.CloseCode()))
}
