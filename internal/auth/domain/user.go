package domain

import "time"

// User is the identity record. The ID is a ULID assigned at registration
// and never changes; everything else is mutable profile state plus the
// AuthFactors aggregate.
type User struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	Factors     AuthFactors
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuthFactors is the per-user credential aggregate. A nil pointer or
// empty slice means the factor has never been enabled. Whether a factor
// is usable for login is a derived property (see the factor package),
// never a stored flag - the sharp edge being TOTP, where a secret exists
// before confirmation completes.
type AuthFactors struct {
	PasswordHash  *string // argon2id PHC string
	TOTP          *TOTPFactor
	RecoveryCodes []RecoveryCode
	WebAuthn      []WebAuthnCredential
	PGP           *PGPFactor
	Recent        RecentFactors
}

// TOTPFactor exists from the moment enabling starts. FullyEnabled stays
// false until the user proves possession by confirming a code; an
// unconfirmed secret must be invisible to login.
type TOTPFactor struct {
	Secret       string // base32, no padding
	DisplayName  string
	FullyEnabled bool
}

// RecoveryCode is a single-use credential. Only the argon2id hash is
// stored; the plaintext is shown exactly once at generation time.
type RecoveryCode struct {
	CodeHash string
	Used     bool
}

// WebAuthnCredential holds one registered authenticator. Credential is
// the JSON-serialized webauthn.Credential including the signature
// counter, which is rewritten after every successful assertion.
type WebAuthnCredential struct {
	CredentialID string // base64url credential id, unique per user
	DisplayName  string
	Credential   []byte
}

// PGPFactor is a possession factor proven by signature; only the public
// half is stored.
type PGPFactor struct {
	PublicKey   string // armored
	Fingerprint string
	DisplayName string
}

// RecentFactors records the last successfully used first and second
// factor. UX hinting only - never consulted for authorization.
type RecentFactors struct {
	First  string
	Second string
}
