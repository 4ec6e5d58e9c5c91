package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// DefaultAccessTTL is the lifetime of an access credential renewed during
// the handshake.
const DefaultAccessTTL = 5 * time.Minute

// Handshake failures. Each one closes the connection with a policy
// violation; the error text is used as the close reason.
var (
	ErrMissingCredentials = errors.New("missing tokens")
	ErrInvalidCredential  = errors.New("invalid refresh token")
	ErrSessionExpired     = errors.New("session not found or expired")
	ErrUnknownUser        = errors.New("user not found")
)

// IsRejection reports whether err is a handshake rejection rather than a
// collaborator failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrUnknownUser)
}

// Verifier decodes and issues credentials.
type Verifier interface {
	Decode(token string) (*Claims, error)
	Issue(subject string, ttl time.Duration) (string, error)
}

// UserFinder resolves a credential subject to a user.
type UserFinder interface {
	FindUserByName(ctx context.Context, username string) (chat.User, error)
}

// Credentials is the pair presented when a connection opens.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Result is the outcome of a successful handshake.
type Result struct {
	User chat.User
	// RenewedAccessToken is set when the access credential was reissued and
	// must be delivered before any other traffic.
	RenewedAccessToken string
}

// Renewed reports whether a new access credential was issued.
func (r Result) Renewed() bool {
	return r.RenewedAccessToken != ""
}

// Handshake authenticates a credential pair with inline access renewal.
type Handshake struct {
	verifier  Verifier
	sessions  chat.SessionStore
	users     UserFinder
	accessTTL time.Duration
	logger    *slog.Logger
}

// NewHandshake wires the handshake to its collaborators. A non-positive
// accessTTL falls back to DefaultAccessTTL.
func NewHandshake(verifier Verifier, sessions chat.SessionStore, users UserFinder, accessTTL time.Duration, logger *slog.Logger) *Handshake {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handshake{
		verifier:  verifier,
		sessions:  sessions,
		users:     users,
		accessTTL: accessTTL,
		logger:    logger.With(slog.String("component", "handshake")),
	}
}

type handshakeState struct {
	creds   Credentials
	subject string
	result  Result
}

type handshakeStep func(ctx context.Context, st *handshakeState) (handshakeStep, error)

// Authenticate runs the handshake: access check, optional renewal through the
// refresh session, then subject resolution. When a step after renewal fails,
// the returned Result still carries the renewed access token and the caller
// should deliver it before closing.
func (h *Handshake) Authenticate(ctx context.Context, creds Credentials) (Result, error) {
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return Result{}, ErrMissingCredentials
	}

	st := &handshakeState{creds: creds}
	var step handshakeStep = h.checkAccess
	for step != nil {
		next, err := step(ctx, st)
		if err != nil {
			return Result{RenewedAccessToken: st.result.RenewedAccessToken}, err
		}
		step = next
	}
	return st.result, nil
}

func (h *Handshake) checkAccess(_ context.Context, st *handshakeState) (handshakeStep, error) {
	claims, err := h.verifier.Decode(st.creds.AccessToken)
	if err != nil || claims.Subject == "" {
		return h.renew, nil
	}
	st.subject = claims.Subject
	return h.resolveUser, nil
}

func (h *Handshake) renew(ctx context.Context, st *handshakeState) (handshakeStep, error) {
	claims, err := h.verifier.Decode(st.creds.RefreshToken)
	if err != nil || claims.Subject == "" {
		return nil, ErrInvalidCredential
	}

	session, err := h.sessions.FindActiveSession(ctx, st.creds.RefreshToken)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("find refresh session: %w", err)
	}
	if !session.Active {
		return nil, ErrSessionExpired
	}

	token, err := h.verifier.Issue(claims.Subject, h.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("renew access token: %w", err)
	}
	h.logger.Debug("access token renewed", slog.String("subject", claims.Subject))

	st.subject = claims.Subject
	st.result.RenewedAccessToken = token
	return h.resolveUser, nil
}

func (h *Handshake) resolveUser(ctx context.Context, st *handshakeState) (handshakeStep, error) {
	user, err := h.users.FindUserByName(ctx, st.subject)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("resolve user %q: %w", st.subject, err)
	}
	st.result.User = user
	return nil, nil
}
