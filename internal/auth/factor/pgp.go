package factor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/cryptox"
)

const (
	keyPGPLogin = "pgp:login"

	pgpChallengeLength = 64
	pgpChallengeTTL    = 5 * time.Minute
)

// PGPVerifier implements the PGP signature factor: RoundTrip flow,
// Possession level, Primary role. The server hands out a random
// challenge; the user proves key possession by returning an armored
// detached signature over it.
type PGPVerifier struct {
	Store    store.Store
	Sessions session.Store
}

func (v *PGPVerifier) Name() Name { return PGP }
func (v *PGPVerifier) Info() Info { return Catalog[PGP] }

// Enable validates and stores an armored public key. The key must
// contain exactly one entity so the fingerprint shown in settings is
// unambiguous.
func (v *PGPVerifier) Enable(ctx context.Context, user domain.User, publicKey, displayName string) error {
	if Enabled(user.Factors, PGP) {
		return ErrAlreadyEnabled
	}

	ring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(publicKey))
	if err != nil || len(ring) != 1 {
		return ErrBadRequest
	}

	f := domain.PGPFactor{
		PublicKey:   publicKey,
		Fingerprint: fmt.Sprintf("%X", ring[0].PrimaryKey.Fingerprint),
		DisplayName: displayName,
	}
	return v.Store.Users().SetPGP(ctx, user.ID, f)
}

// Disable removes the stored key. Refused when PGP is the user's only
// remaining Primary factor.
func (v *PGPVerifier) Disable(ctx context.Context, user domain.User) error {
	if !Enabled(user.Factors, PGP) {
		return ErrNotEnabled
	}
	if !CanDisable(user.Factors, PGP) {
		return ErrCannotDisableOnlyPrimary
	}
	return v.Store.Users().ClearPGP(ctx, user.ID)
}

// pgpChallenge is the ceremony state between Challenge and the
// signature check.
type pgpChallenge struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Challenge issues a fresh random challenge and parks it in the
// session. Issuing a new challenge invalidates the previous one.
func (v *PGPVerifier) Challenge(ctx context.Context, sid string) (string, error) {
	c, err := cryptox.GenerateAlphanumeric(pgpChallengeLength)
	if err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}

	state := pgpChallenge{Challenge: c, ExpiresAt: time.Now().UTC().Add(pgpChallengeTTL)}
	if err := session.SetJSON(ctx, v.Sessions, sid, keyPGPLogin, state, pgpChallengeTTL); err != nil {
		return "", fmt.Errorf("storing challenge: %w", err)
	}
	return c, nil
}

// AuthenticateFirst verifies a detached signature over the parked
// challenge as a first factor: the login name picks the user, the
// signature proves key possession. Whether the user exists or has a
// key on file is not distinguishable from a bad signature.
func (v *PGPVerifier) AuthenticateFirst(ctx context.Context, sid, login, signature string) (domain.User, error) {
	state, err := v.takeChallenge(ctx, sid)
	if err != nil {
		return domain.User{}, err
	}

	user, err := v.Store.Users().GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("loading user: %w", err)
	}

	if err := v.verify(user, state.Challenge, signature); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// AuthenticateSecond verifies a detached signature over the parked
// challenge for an already-identified user.
func (v *PGPVerifier) AuthenticateSecond(ctx context.Context, sid string, user domain.User, signature string) error {
	state, err := v.takeChallenge(ctx, sid)
	if err != nil {
		return err
	}
	return v.verify(user, state.Challenge, signature)
}

// takeChallenge consumes the parked challenge. Answering without ever
// asking for a challenge is a caller mistake; answering one that has
// lapsed fails like any other bad credential.
func (v *PGPVerifier) takeChallenge(ctx context.Context, sid string) (pgpChallenge, error) {
	state, err := session.TakeJSON[pgpChallenge](ctx, v.Sessions, sid, keyPGPLogin)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return pgpChallenge{}, ErrBadRequest
		}
		return pgpChallenge{}, fmt.Errorf("loading challenge: %w", err)
	}
	if time.Now().UTC().After(state.ExpiresAt) {
		return pgpChallenge{}, ErrUnauthorized
	}
	return state, nil
}

func (v *PGPVerifier) verify(user domain.User, challenge, signature string) error {
	if !Enabled(user.Factors, PGP) {
		return ErrUnauthorized
	}

	ring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(user.Factors.PGP.PublicKey))
	if err != nil {
		return fmt.Errorf("reading stored key: %w", err)
	}

	_, err = openpgp.CheckArmoredDetachedSignature(
		ring,
		strings.NewReader(challenge),
		strings.NewReader(signature),
		nil,
	)
	if err != nil {
		return ErrUnauthorized
	}
	return nil
}
