package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/factor"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/idx"
	"github.com/latchwork/latch/pkg/slogx"
)

// SettingsService covers account creation and the enrollment lifecycle
// of every factor. All methods except Register operate on an already
// authenticated user.
type SettingsService struct {
	Store     store.Store
	Verifiers *Verifiers
}

// RegisterParams is the account-creation input. Password is mandatory:
// every account starts with at least one primary factor.
type RegisterParams struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
}

// Register creates a user with the password factor enabled.
func (s *SettingsService) Register(ctx context.Context, p RegisterParams) (domain.User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(p.Email)
	if p.Username == "" || p.Email == "" || p.Password == "" {
		return domain.User{}, factor.ErrBadRequest
	}

	user := domain.User{
		ID:          idx.New().String(),
		Username:    p.Username,
		Email:       p.Email,
		DisplayName: p.DisplayName,
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	if err := s.Verifiers.Password.Enable(ctx, user, p.Password); err != nil {
		return domain.User{}, err
	}

	slogx.FromContext(ctx).Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// FactorStatus is one row of the settings overview: catalog metadata
// plus this user's enrollment state. Secrets never appear here.
type FactorStatus struct {
	Name    factor.Name          `json:"name"`
	Flow    factor.FlowType      `json:"-"`
	Level   factor.SecurityLevel `json:"-"`
	Role    factor.Role          `json:"-"`
	Enabled bool                 `json:"enabled"`

	// Pending is true for a TOTP secret awaiting confirmation.
	Pending bool `json:"pending,omitempty"`

	// DisplayName is the user-chosen label, where the factor has one.
	DisplayName string `json:"display_name,omitempty"`

	// Remaining counts unused recovery codes.
	Remaining int `json:"remaining,omitempty"`

	// Fingerprint identifies the stored PGP key.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Credentials lists registered WebAuthn authenticators.
	Credentials []WebAuthnCredentialStatus `json:"credentials,omitempty"`
}

type WebAuthnCredentialStatus struct {
	CredentialID string `json:"credential_id"`
	DisplayName  string `json:"display_name"`
}

// Factors returns the settings overview, one entry per catalog factor
// in first-factor presentation order followed by the MFA-only factors.
func (s *SettingsService) Factors(ctx context.Context, userID string) ([]FactorStatus, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	f := user.Factors
	out := make([]FactorStatus, 0, len(factor.Catalog))
	for _, name := range []factor.Name{factor.Password, factor.WebAuthn, factor.PGP, factor.TOTP, factor.RecoveryCode} {
		st := FactorStatus{
			Name:    name,
			Flow:    factor.Catalog[name].Flow,
			Level:   factor.Catalog[name].Level,
			Role:    factor.Catalog[name].Role,
			Enabled: factor.Enabled(f, name),
		}

		switch name {
		case factor.TOTP:
			if f.TOTP != nil {
				st.Pending = !f.TOTP.FullyEnabled
				st.DisplayName = f.TOTP.DisplayName
			}
		case factor.RecoveryCode:
			for _, rc := range f.RecoveryCodes {
				if !rc.Used {
					st.Remaining++
				}
			}
		case factor.WebAuthn:
			for _, c := range f.WebAuthn {
				st.Credentials = append(st.Credentials, WebAuthnCredentialStatus{
					CredentialID: c.CredentialID,
					DisplayName:  c.DisplayName,
				})
			}
		case factor.PGP:
			if f.PGP != nil {
				st.DisplayName = f.PGP.DisplayName
				st.Fingerprint = f.PGP.Fingerprint
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// ChangePassword rotates the password. The current password is
// required while one is on file; without one this enables the factor.
func (s *SettingsService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}

	if factor.Enabled(user.Factors, factor.Password) {
		if _, err := s.Verifiers.Password.Authenticate(ctx, user.Username, current); err != nil {
			return err
		}
		user.Factors.PasswordHash = nil
	}
	return s.Verifiers.Password.Enable(ctx, user, next)
}

// DisablePassword removes the password factor, subject to the
// sole-primary rule.
func (s *SettingsService) DisablePassword(ctx context.Context, userID string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	return s.Verifiers.Password.Disable(ctx, user)
}

// EnableTOTP starts TOTP enrollment and returns the provisioning data.
func (s *SettingsService) EnableTOTP(ctx context.Context, userID, displayName string) (factor.Enrollment, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return factor.Enrollment{}, err
	}
	return s.Verifiers.TOTP.Enable(ctx, user, displayName)
}

// ConfirmTOTP completes TOTP enrollment with a code from the app.
func (s *SettingsService) ConfirmTOTP(ctx context.Context, userID, code string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	return s.Verifiers.TOTP.Confirm(ctx, user, code)
}

func (s *SettingsService) DisableTOTP(ctx context.Context, userID string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	return s.Verifiers.TOTP.Disable(ctx, user)
}

// RegenerateRecoveryCodes issues a fresh batch, invalidating any
// previous one. The plaintext codes are shown exactly once.
func (s *SettingsService) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	codes, err := s.Verifiers.Recovery.Enable(ctx, user)
	if err != nil {
		return nil, err
	}

	slogx.FromContext(ctx).Info("recovery codes regenerated",
		slog.String("user_id", user.ID),
	)
	return codes, nil
}

func (s *SettingsService) DisableRecoveryCodes(ctx context.Context, userID string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	return s.Verifiers.Recovery.Disable(ctx, user)
}

// BeginWebAuthnRegistration starts enrolling a new authenticator.
func (s *SettingsService) BeginWebAuthnRegistration(ctx context.Context, sid, userID, displayName string) (*protocol.CredentialCreation, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Verifiers.WebAuthn.BeginRegistration(ctx, sid, user, displayName)
}

// FinishWebAuthnRegistration stores the new authenticator credential.
func (s *SettingsService) FinishWebAuthnRegistration(ctx context.Context, sid, userID string, body io.Reader) (domain.WebAuthnCredential, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return domain.WebAuthnCredential{}, err
	}
	return s.Verifiers.WebAuthn.FinishRegistration(ctx, sid, user, body)
}

// DeleteWebAuthnCredential removes one authenticator, subject to the
// sole-primary rule when it is the last one.
func (s *SettingsService) DeleteWebAuthnCredential(ctx context.Context, userID, credentialID string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	return s.Verifiers.WebAuthn.Disable(ctx, user, credentialID)
}

// EnablePGP stores an armored public key as a login factor.
func (s *SettingsService) EnablePGP(ctx context.Context, userID, publicKey, displayName string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	return s.Verifiers.PGP.Enable(ctx, user, publicKey, displayName)
}

func (s *SettingsService) DisablePGP(ctx context.Context, userID string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	return s.Verifiers.PGP.Disable(ctx, user)
}

func (s *SettingsService) user(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, factor.ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("loading user: %w", err)
	}
	return user, nil
}
