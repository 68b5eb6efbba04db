package store

import (
	"context"
	"errors"

	"github.com/latchwork/latch/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a failed conditional update, e.g. redeeming a
	// recovery code that was concurrently marked used.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite for
// now) implement it. Sub-repositories keep concerns tidy and testable.
type Store interface {
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing when fn
	// returns nil and rolling back otherwise. Preferred over Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Users owns the user record and its credential aggregate. Reads always
// return the full aggregate; writes touch only the fields named.
type Users interface {
	// GetUserByID returns a user with the full AuthFactors aggregate.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByLogin resolves a username or email address.
	GetUserByLogin(ctx context.Context, login string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the argon2id password hash.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	// ClearPasswordHash disables the password factor.
	ClearPasswordHash(ctx context.Context, userID string) error

	// SetPendingTOTP stores a freshly generated secret with
	// fully_enabled=false, replacing any unconfirmed one.
	SetPendingTOTP(ctx context.Context, userID, secret, displayName string) error

	// ConfirmTOTP flips fully_enabled for the stored secret.
	ConfirmTOTP(ctx context.Context, userID string) error

	// ClearTOTP removes the secret and the enabled flag.
	ClearTOTP(ctx context.Context, userID string) error

	// ReplaceRecoveryCodes atomically swaps the whole code set. Previous
	// codes are gone for good.
	ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error

	// RedeemRecoveryCode marks the code with the given hash used, but
	// only if it is currently unused. Returns ErrConflict when the code
	// is already used or absent, so concurrent redemption of the same
	// code succeeds exactly once.
	RedeemRecoveryCode(ctx context.Context, userID, codeHash string) error

	// DeleteRecoveryCodes removes the whole set.
	DeleteRecoveryCodes(ctx context.Context, userID string) error

	// AddWebAuthnCredential appends a registered credential.
	AddWebAuthnCredential(ctx context.Context, userID string, cred domain.WebAuthnCredential) error

	// UpdateWebAuthnCredential rewrites the serialized authenticator
	// state (signature counter) after a successful assertion.
	UpdateWebAuthnCredential(ctx context.Context, userID, credentialID string, credential []byte) error

	// DeleteWebAuthnCredential removes one credential.
	DeleteWebAuthnCredential(ctx context.Context, userID, credentialID string) error

	// SetPGP stores the armored public key, fingerprint and display name.
	SetPGP(ctx context.Context, userID string, f domain.PGPFactor) error

	// ClearPGP disables the PGP factor.
	ClearPGP(ctx context.Context, userID string) error

	// SetRecentFirstFactor and SetRecentSecondFactor record the last
	// successfully used factor for UX hinting.
	SetRecentFirstFactor(ctx context.Context, userID, name string) error
	SetRecentSecondFactor(ctx context.Context, userID, name string) error

	// IsEmpty reports whether any users exist yet.
	IsEmpty(ctx context.Context) (bool, error)
}
