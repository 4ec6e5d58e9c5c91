// Package server defines the typed frames exchanged over a chat connection
// and utility helpers reused across client and hub logic.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Frame type tags.
const (
	frameSend     = "send"
	frameRead     = "read"
	frameNewToken = "new_token"
	frameHistory  = "history"
	frameMessage  = "message"
	frameError    = "error"
	frameConnect  = "connect"
)

// Protocol errors are answered with an error frame; the connection stays open.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// InboundFrame is a frame sent by the client: SendFrame or ReadFrame.
type InboundFrame interface {
	inboundType() string
}

// SendFrame submits a chat message.
type SendFrame struct {
	Text string
}

// ReadFrame marks the room's messages from other senders as read.
type ReadFrame struct{}

func (SendFrame) inboundType() string { return frameSend }
func (ReadFrame) inboundType() string { return frameRead }

// DecodeInbound parses a raw client frame. Unknown type tags are rejected.
func DecodeInbound(raw []byte) (InboundFrame, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected an object", ErrMalformedFrame)
	}

	tag := root.Get("type")
	if tag.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	switch tag.Str {
	case frameSend:
		text := root.Get("text")
		if text.Type != gjson.String {
			return nil, fmt.Errorf("%w: send requires a text string", ErrMalformedFrame)
		}
		return SendFrame{Text: text.Str}, nil
	case frameRead:
		return ReadFrame{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, tag.Str)
	}
}

// OutboundFrame is a frame sent by the server.
type OutboundFrame interface {
	outboundType() string
}

// TokenRenewedFrame delivers an access credential reissued at handshake.
type TokenRenewedFrame struct {
	AccessToken string `json:"access_token"`
}

// HistoryFrame carries the room's messages in ascending timestamp order.
type HistoryFrame struct {
	Messages []chat.Message `json:"messages"`
}

// MessageFrame carries one persisted message.
type MessageFrame struct {
	chat.Message
}

// ErrorFrame reports a rejected or failed operation.
type ErrorFrame struct {
	Message string `json:"message"`
}

// ConnectedFrame confirms that the connection joined its room.
type ConnectedFrame struct {
	Message string `json:"message"`
}

func (TokenRenewedFrame) outboundType() string { return frameNewToken }
func (HistoryFrame) outboundType() string      { return frameHistory }
func (MessageFrame) outboundType() string      { return frameMessage }
func (ErrorFrame) outboundType() string        { return frameError }
func (ConnectedFrame) outboundType() string    { return frameConnect }

// EncodeOutbound serializes f with its type tag.
func EncodeOutbound(f OutboundFrame) ([]byte, error) {
	if h, ok := f.(HistoryFrame); ok && h.Messages == nil {
		h.Messages = []chat.Message{}
		f = h
	}
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.outboundType(), err)
	}
	return sjson.SetBytes(body, "type", f.outboundType())
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
