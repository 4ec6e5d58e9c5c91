package server

import (
	"errors"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
)

// Join failures close the connection with a policy violation.
var (
	ErrRoomNotFound   = errors.New("chat not found")
	ErrGroupNotFound  = errors.New("group not found")
	ErrForbidden      = errors.New("you are not a member of this chat")
	ErrGroupForbidden = errors.New("you are not a member of this group")
)

// Validation failures reject a single Send; the connection stays open.
var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrDuplicateMessage = errors.New("duplicate message")
	ErrMessageTooLong   = errors.New("message too long")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// ErrNotJoined is returned by the hub when publishing to a room the client is not in.
var ErrNotJoined = errors.New("connection has not joined the room")

const internalErrorReason = "internal error"

// closeFor maps a fatal session error to a close code and reason.
func closeFor(err error) (int, string) {
	switch {
	case auth.IsRejection(err):
		return websocket.ClosePolicyViolation, rejectionReason(err)
	case errors.Is(err, ErrRoomNotFound):
		return websocket.ClosePolicyViolation, ErrRoomNotFound.Error()
	case errors.Is(err, ErrGroupNotFound):
		return websocket.ClosePolicyViolation, ErrGroupNotFound.Error()
	case errors.Is(err, ErrForbidden):
		return websocket.ClosePolicyViolation, ErrForbidden.Error()
	case errors.Is(err, ErrGroupForbidden):
		return websocket.ClosePolicyViolation, ErrGroupForbidden.Error()
	default:
		return websocket.CloseInternalServerErr, internalErrorReason
	}
}

func rejectionReason(err error) string {
	for _, sentinel := range []error{
		auth.ErrMissingCredentials,
		auth.ErrInvalidCredential,
		auth.ErrSessionExpired,
		auth.ErrUnknownUser,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
