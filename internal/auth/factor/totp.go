package factor

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/store"
)

// RFC 6238 parameters matched by every mainstream authenticator app.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPVerifier implements the authenticator-app factor: Simple flow,
// Possession level, MultiFactorOnly role.
//
// Enrollment is two-phase. Enable stores a pending secret that is
// invisible to login until Confirm proves the user's app produces
// valid codes for it.
type TOTPVerifier struct {
	Store  store.Store
	Issuer string
}

func (v *TOTPVerifier) Name() Name { return TOTP }
func (v *TOTPVerifier) Info() Info { return Catalog[TOTP] }

// Enrollment carries what the client needs to provision an
// authenticator app with the pending secret.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// Enable generates a fresh secret and stores it unconfirmed. Calling
// it again before Confirm replaces the pending secret, so an abandoned
// enrollment can simply be restarted.
func (v *TOTPVerifier) Enable(ctx context.Context, user domain.User, displayName string) (Enrollment, error) {
	if Enabled(user.Factors, TOTP) {
		return Enrollment{}, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.Issuer,
		AccountName: user.Username,
		Period:      totpOpts.Period,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generating totp secret: %w", err)
	}

	if err := v.Store.Users().SetPendingTOTP(ctx, user.ID, key.Secret(), displayName); err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Confirm validates a code against the pending secret and, on success,
// marks the factor fully enabled.
func (v *TOTPVerifier) Confirm(ctx context.Context, user domain.User, code string) error {
	f := user.Factors.TOTP
	if f == nil || f.FullyEnabled {
		return ErrBadRequest
	}
	if !v.validate(code, f.Secret) {
		return ErrUnauthorized
	}
	return v.Store.Users().ConfirmTOTP(ctx, user.ID)
}

// Disable discards the secret, confirmed or pending.
func (v *TOTPVerifier) Disable(ctx context.Context, user domain.User) error {
	if user.Factors.TOTP == nil {
		return ErrNotEnabled
	}
	return v.Store.Users().ClearTOTP(ctx, user.ID)
}

// Authenticate checks a code for an already-identified user. Only a
// confirmed secret counts; a pending one fails exactly like a missing
// one.
func (v *TOTPVerifier) Authenticate(ctx context.Context, user domain.User, code string) error {
	if !Enabled(user.Factors, TOTP) {
		return ErrUnauthorized
	}
	if !v.validate(code, user.Factors.TOTP.Secret) {
		return ErrUnauthorized
	}
	return nil
}

func (v *TOTPVerifier) validate(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totpOpts)
	return err == nil && ok
}
