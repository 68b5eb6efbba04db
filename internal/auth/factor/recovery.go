package factor

import (
	"context"
	"errors"
	"fmt"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/cryptox"
)

const (
	recoveryCodeCount  = 10
	recoveryCodeLength = 12
)

// RecoveryCodeVerifier implements single-use backup codes: Simple
// flow, Possession level, MultiFactorOnly role.
//
// Plaintext codes exist only in the Enable response. Each stored code
// is an Argon2id hash and is burned atomically on first successful
// use, so replaying a code loses the race and fails.
type RecoveryCodeVerifier struct {
	Store store.Store
}

func (v *RecoveryCodeVerifier) Name() Name { return RecoveryCode }
func (v *RecoveryCodeVerifier) Info() Info { return Catalog[RecoveryCode] }

// Enable generates a fresh batch of codes, replacing any previous
// batch whether or not it still had unused codes. Returns the
// plaintext codes for one-time display.
func (v *RecoveryCodeVerifier) Enable(ctx context.Context, user domain.User) ([]string, error) {
	codes := make([]string, recoveryCodeCount)
	hashes := make([]string, recoveryCodeCount)
	for i := range codes {
		code, err := cryptox.GenerateAlphanumeric(recoveryCodeLength)
		if err != nil {
			return nil, fmt.Errorf("generating recovery code: %w", err)
		}
		hash, err := cryptox.HashSecret(code)
		if err != nil {
			return nil, fmt.Errorf("hashing recovery code: %w", err)
		}
		codes[i] = code
		hashes[i] = hash
	}

	if err := v.Store.Users().ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Disable deletes the whole batch, used and unused alike.
func (v *RecoveryCodeVerifier) Disable(ctx context.Context, user domain.User) error {
	if len(user.Factors.RecoveryCodes) == 0 {
		return ErrNotEnabled
	}
	return v.Store.Users().DeleteRecoveryCodes(ctx, user.ID)
}

// Authenticate matches the presented code against every unused hash
// and marks the matching one used. The compare-and-swap in the store
// guarantees that two concurrent redemptions of the same code cannot
// both succeed.
func (v *RecoveryCodeVerifier) Authenticate(ctx context.Context, user domain.User, code string) error {
	if !Enabled(user.Factors, RecoveryCode) {
		return ErrUnauthorized
	}

	for _, rc := range user.Factors.RecoveryCodes {
		if rc.Used {
			continue
		}
		if err := cryptox.VerifySecret(code, rc.CodeHash); err != nil {
			if errors.Is(err, cryptox.ErrHashMismatch) {
				continue
			}
			return fmt.Errorf("verifying recovery code: %w", err)
		}

		err := v.Store.Users().RedeemRecoveryCode(ctx, user.ID, rc.CodeHash)
		if errors.Is(err, store.ErrConflict) {
			return ErrUnauthorized
		}
		return err
	}
	return ErrUnauthorized
}
