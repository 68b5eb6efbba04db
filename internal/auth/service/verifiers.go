// Package service composes the per-factor verifiers into the login
// state machine and the enrollment-settings surface the handlers call.
package service

import (
	"github.com/latchwork/latch/internal/auth/factor"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
)

// Verifiers bundles one verifier per factor in the catalog. Built once
// at startup and shared by the login and settings services.
type Verifiers struct {
	Password *factor.PasswordVerifier
	TOTP     *factor.TOTPVerifier
	Recovery *factor.RecoveryCodeVerifier
	WebAuthn *factor.WebAuthnVerifier
	PGP      *factor.PGPVerifier
}

// VerifierConfig is the per-deployment identity the round-trip factors
// present to clients.
type VerifierConfig struct {
	TOTPIssuer    string
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

func NewVerifiers(st store.Store, sessions session.Store, cfg VerifierConfig) (*Verifiers, error) {
	wa, err := factor.NewWebAuthnVerifier(st, sessions, factor.WebAuthnConfig{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, err
	}

	return &Verifiers{
		Password: &factor.PasswordVerifier{Store: st},
		TOTP:     &factor.TOTPVerifier{Store: st, Issuer: cfg.TOTPIssuer},
		Recovery: &factor.RecoveryCodeVerifier{Store: st},
		WebAuthn: wa,
		PGP:      &factor.PGPVerifier{Store: st, Sessions: sessions},
	}, nil
}
