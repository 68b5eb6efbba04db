package factor

import (
	"context"
	"errors"
	"fmt"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/cryptox"
)

// PasswordVerifier implements the password factor: Simple flow,
// Knowledge level, Primary role.
type PasswordVerifier struct {
	Store store.Store
}

func (v *PasswordVerifier) Name() Name { return Password }
func (v *PasswordVerifier) Info() Info { return Catalog[Password] }

// Enable hashes the password with Argon2id and stores it. No
// confirmation step is needed.
func (v *PasswordVerifier) Enable(ctx context.Context, user domain.User, password string) error {
	if Enabled(user.Factors, Password) {
		return ErrAlreadyEnabled
	}
	if password == "" {
		return ErrBadRequest
	}

	hash, err := cryptox.HashSecret(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return v.Store.Users().UpdatePasswordHash(ctx, user.ID, hash)
}

// Disable removes the password hash. Refused when that would leave the
// user without any Primary factor.
func (v *PasswordVerifier) Disable(ctx context.Context, user domain.User) error {
	if !Enabled(user.Factors, Password) {
		return ErrNotEnabled
	}
	if !CanDisable(user.Factors, Password) {
		return ErrCannotDisableOnlyPrimary
	}
	return v.Store.Users().ClearPasswordHash(ctx, user.ID)
}

// Authenticate resolves the login name and verifies the password.
//
// Every call performs exactly one Argon2id computation: when the user
// does not exist or has no password on file, a dummy hash over a fresh
// salt is burned before failing, so the timing of the generic
// unauthorized error does not reveal which precondition was missing.
func (v *PasswordVerifier) Authenticate(ctx context.Context, login, password string) (domain.User, error) {
	user, err := v.Store.Users().GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			cryptox.BurnHash(password)
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("loading user: %w", err)
	}

	if user.Factors.PasswordHash == nil {
		cryptox.BurnHash(password)
		return domain.User{}, ErrUnauthorized
	}

	if err := cryptox.VerifySecret(password, *user.Factors.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrHashMismatch) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("verifying password: %w", err)
	}

	return user, nil
}
