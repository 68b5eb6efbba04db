package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/factor"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/slogx"
)

// Session keys for the durable authentication state. Unlike ceremony
// keys these live for the whole session.
const (
	keyUserID    = "user_id"
	keyAuthState = "auth_state"
)

// DefaultSessionTTL is how long a session stays valid without re-login.
const DefaultSessionTTL = 7 * 24 * time.Hour

// LoginService drives the per-session authentication state machine:
// anonymous, then a first factor, then (when any second factor is
// enrolled) exactly one second factor.
type LoginService struct {
	Store      store.Store
	Sessions   session.Store
	Verifiers  *Verifiers
	SessionTTL time.Duration
}

// LoginResult reports where the state machine landed after a
// successful verification.
type LoginResult struct {
	// FullyAuthenticated is true once the session reached the
	// authenticated state; Next is empty in that case.
	FullyAuthenticated bool `json:"fully_authenticated"`

	// Next lists the second factors the user may pick from, strongest
	// first.
	Next []factor.Name `json:"next,omitempty"`

	// Recent is the second factor that completed the user's previous
	// login, as a preselection hint. Never consulted for authorization.
	Recent factor.Name `json:"recent,omitempty"`
}

// State reports the session's current position in the state machine and
// the user it is bound to (empty while anonymous).
func (s *LoginService) State(ctx context.Context, sid string) (domain.AuthState, string, error) {
	raw, err := s.Sessions.Get(ctx, sid, keyAuthState)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return domain.StateAnonymous, "", nil
		}
		return domain.StateAnonymous, "", fmt.Errorf("reading auth state: %w", err)
	}

	userID, err := s.Sessions.Get(ctx, sid, keyUserID)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return domain.StateAnonymous, "", nil
		}
		return domain.StateAnonymous, "", fmt.Errorf("reading session user: %w", err)
	}
	return domain.AuthState(raw), string(userID), nil
}

// Options lists the first factors usable for a login name. Unknown
// names get the fixed default list so the response never says whether
// an account exists.
func (s *LoginService) Options(ctx context.Context, login string) ([]factor.Name, error) {
	user, err := s.Store.Users().GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return factor.DefaultFirstFactors(), nil
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return factor.FirstFactors(user.Factors), nil
}

// PasswordLogin runs the password first factor.
func (s *LoginService) PasswordLogin(ctx context.Context, sid, login, password string) (LoginResult, error) {
	user, err := s.Verifiers.Password.Authenticate(ctx, login, password)
	if err != nil {
		return LoginResult{}, err
	}
	return s.afterFirstFactor(ctx, sid, user, factor.Password)
}

// PGPChallenge issues the challenge for a PGP login, first or second
// factor alike.
func (s *LoginService) PGPChallenge(ctx context.Context, sid string) (string, error) {
	return s.Verifiers.PGP.Challenge(ctx, sid)
}

// PGPLogin runs PGP as a first factor: login name plus a detached
// signature over the issued challenge.
func (s *LoginService) PGPLogin(ctx context.Context, sid, login, signature string) (LoginResult, error) {
	user, err := s.Verifiers.PGP.AuthenticateFirst(ctx, sid, login, signature)
	if err != nil {
		return LoginResult{}, err
	}
	return s.afterFirstFactor(ctx, sid, user, factor.PGP)
}

// BeginPasswordlessLogin starts a WebAuthn discoverable-credential
// login; no login name is required.
func (s *LoginService) BeginPasswordlessLogin(ctx context.Context, sid string) (*protocol.CredentialAssertion, error) {
	return s.Verifiers.WebAuthn.BeginPasswordlessLogin(ctx, sid)
}

// FinishPasswordlessLogin completes a discoverable login. A hardware
// assertion is the strongest factor on offer, so it authenticates the
// session fully rather than dropping into the second-factor step.
func (s *LoginService) FinishPasswordlessLogin(ctx context.Context, sid string, body io.Reader) (LoginResult, error) {
	user, err := s.Verifiers.WebAuthn.FinishPasswordlessLogin(ctx, sid, body)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.Store.Users().SetRecentFirstFactor(ctx, user.ID, string(factor.WebAuthn)); err != nil {
		return LoginResult{}, fmt.Errorf("recording recent factor: %w", err)
	}
	if err := s.setState(ctx, sid, user.ID, domain.StateAuthenticated); err != nil {
		return LoginResult{}, err
	}

	slogx.FromContext(ctx).Info("login complete",
		slog.String("user_id", user.ID),
		slog.String("factor", string(factor.WebAuthn)),
	)
	return LoginResult{FullyAuthenticated: true}, nil
}

// TOTPLogin runs the TOTP second factor.
func (s *LoginService) TOTPLogin(ctx context.Context, sid, code string) (LoginResult, error) {
	user, err := s.requireBeforeTwoFactor(ctx, sid)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Verifiers.TOTP.Authenticate(ctx, user, code); err != nil {
		return LoginResult{}, err
	}
	return s.afterSecondFactor(ctx, sid, user, factor.TOTP)
}

// RecoveryCodeLogin burns a recovery code as the second factor.
func (s *LoginService) RecoveryCodeLogin(ctx context.Context, sid, code string) (LoginResult, error) {
	user, err := s.requireBeforeTwoFactor(ctx, sid)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Verifiers.Recovery.Authenticate(ctx, user, code); err != nil {
		return LoginResult{}, err
	}
	return s.afterSecondFactor(ctx, sid, user, factor.RecoveryCode)
}

// BeginWebAuthnLogin starts the WebAuthn second factor for the user the
// session identified with its first factor.
func (s *LoginService) BeginWebAuthnLogin(ctx context.Context, sid string) (*protocol.CredentialAssertion, error) {
	user, err := s.requireBeforeTwoFactor(ctx, sid)
	if err != nil {
		return nil, err
	}
	return s.Verifiers.WebAuthn.BeginLogin(ctx, sid, user)
}

// FinishWebAuthnLogin completes the WebAuthn second factor.
func (s *LoginService) FinishWebAuthnLogin(ctx context.Context, sid string, body io.Reader) (LoginResult, error) {
	user, err := s.requireBeforeTwoFactor(ctx, sid)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Verifiers.WebAuthn.FinishLogin(ctx, sid, user, body); err != nil {
		return LoginResult{}, err
	}
	return s.afterSecondFactor(ctx, sid, user, factor.WebAuthn)
}

// PGPSecondFactor completes PGP as the second factor.
func (s *LoginService) PGPSecondFactor(ctx context.Context, sid, signature string) (LoginResult, error) {
	user, err := s.requireBeforeTwoFactor(ctx, sid)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Verifiers.PGP.AuthenticateSecond(ctx, sid, user, signature); err != nil {
		return LoginResult{}, err
	}
	return s.afterSecondFactor(ctx, sid, user, factor.PGP)
}

// Logout drops the session back to anonymous.
func (s *LoginService) Logout(ctx context.Context, sid string) error {
	if err := s.Sessions.Remove(ctx, sid, keyAuthState); err != nil {
		return fmt.Errorf("clearing auth state: %w", err)
	}
	if err := s.Sessions.Remove(ctx, sid, keyUserID); err != nil {
		return fmt.Errorf("clearing session user: %w", err)
	}
	return nil
}

// afterFirstFactor decides where a successful first factor lands: fully
// authenticated when no second factor is enrolled, before_two_factor
// otherwise.
func (s *LoginService) afterFirstFactor(ctx context.Context, sid string, user domain.User, used factor.Name) (LoginResult, error) {
	if err := s.Store.Users().SetRecentFirstFactor(ctx, user.ID, string(used)); err != nil {
		return LoginResult{}, fmt.Errorf("recording recent factor: %w", err)
	}

	second := factor.SecondFactors(user.Factors)
	state := domain.StateAuthenticated
	if len(second) > 0 {
		state = domain.StateBeforeTwoFactor
	}
	if err := s.setState(ctx, sid, user.ID, state); err != nil {
		return LoginResult{}, err
	}

	slogx.FromContext(ctx).Info("first factor accepted",
		slog.String("user_id", user.ID),
		slog.String("factor", string(used)),
		slog.String("auth_state", string(state)),
	)

	if len(second) == 0 {
		return LoginResult{FullyAuthenticated: true}, nil
	}
	return LoginResult{
		Next:   second,
		Recent: factor.Name(user.Factors.Recent.Second),
	}, nil
}

func (s *LoginService) afterSecondFactor(ctx context.Context, sid string, user domain.User, used factor.Name) (LoginResult, error) {
	if err := s.Store.Users().SetRecentSecondFactor(ctx, user.ID, string(used)); err != nil {
		return LoginResult{}, fmt.Errorf("recording recent factor: %w", err)
	}
	if err := s.setState(ctx, sid, user.ID, domain.StateAuthenticated); err != nil {
		return LoginResult{}, err
	}

	slogx.FromContext(ctx).Info("login complete",
		slog.String("user_id", user.ID),
		slog.String("factor", string(used)),
	)
	return LoginResult{FullyAuthenticated: true}, nil
}

// requireBeforeTwoFactor gates every second-factor operation. Any
// session that is not mid-login gets the generic unauthorized error.
func (s *LoginService) requireBeforeTwoFactor(ctx context.Context, sid string) (domain.User, error) {
	state, userID, err := s.State(ctx, sid)
	if err != nil {
		return domain.User{}, err
	}
	if state != domain.StateBeforeTwoFactor || userID == "" {
		return domain.User{}, factor.ErrUnauthorized
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, factor.ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("loading user: %w", err)
	}
	return user, nil
}

func (s *LoginService) setState(ctx context.Context, sid, userID string, state domain.AuthState) error {
	ttl := s.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	if err := s.Sessions.Set(ctx, sid, keyUserID, []byte(userID), ttl); err != nil {
		return fmt.Errorf("storing session user: %w", err)
	}
	if err := s.Sessions.Set(ctx, sid, keyAuthState, []byte(state), ttl); err != nil {
		return fmt.Errorf("storing auth state: %w", err)
	}
	return nil
}
