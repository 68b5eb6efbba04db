// Package factor implements the credential factors a user can enroll
// and authenticate with, the static metadata describing each factor's
// strength, and the policy deriving which factors are usable for a
// given user.
package factor

import "errors"

// Name identifies one of the supported factors. The set is closed:
// every factor is a fixed, enumerable variant listed in Catalog.
type Name string

const (
	Password     Name = "password"
	TOTP         Name = "totp"
	RecoveryCode Name = "recovery_code"
	WebAuthn     Name = "webauthn"
	PGP          Name = "pgp"
)

// FlowType describes how many calls a factor needs to authenticate.
type FlowType int

const (
	// Simple factors complete authentication in a single call.
	Simple FlowType = iota
	// RoundTrip factors issue a challenge first and complete
	// authentication in a separate response call.
	RoundTrip
)

// SecurityLevel orders factors weakest to strongest. It is advisory
// metadata for policy decisions (e.g. future minimum-level enforcement);
// nothing in the current login flow branches on it.
type SecurityLevel int

const (
	// Knowledge factors (passwords) are vulnerable to phishing and guessing.
	Knowledge SecurityLevel = iota
	// OutOfBand factors (SMS/email codes) can be intercepted.
	OutOfBand
	// Possession factors are software-backed secrets (TOTP, PGP keys,
	// recovery codes); clonable but cryptographically sound.
	Possession
	// Hardware factors are hardware-backed and resist cloning.
	Hardware
)

// Role says whether a factor can stand alone as the first
// authentication step.
type Role int

const (
	// Primary factors may be the sole first factor and can fully
	// authenticate a session when no second factors are enrolled.
	Primary Role = iota
	// MultiFactorOnly factors are never sufficient alone.
	MultiFactorOnly
)

// Info is the static metadata every factor declares.
type Info struct {
	Flow  FlowType
	Level SecurityLevel
	Role  Role
}

// Catalog is the closed set of factors and their metadata. WebAuthn is
// listed Primary because it can carry a passwordless login; when used as
// a second factor the calling context, not the credential, decides the
// effective role.
var Catalog = map[Name]Info{
	Password:     {Flow: Simple, Level: Knowledge, Role: Primary},
	TOTP:         {Flow: Simple, Level: Possession, Role: MultiFactorOnly},
	RecoveryCode: {Flow: Simple, Level: Possession, Role: MultiFactorOnly},
	WebAuthn:     {Flow: RoundTrip, Level: Hardware, Role: Primary},
	PGP:          {Flow: RoundTrip, Level: Possession, Role: Primary},
}

// Error taxonomy shared by all verifiers. Unauthorized deliberately
// collapses every credential-path failure (unknown user, factor not on
// file, wrong code, expired challenge) into one indistinguishable error.
var (
	ErrNotEnabled               = errors.New("factor: not enabled")
	ErrAlreadyEnabled           = errors.New("factor: already enabled")
	ErrCannotDisableOnlyPrimary = errors.New("factor: cannot disable the only primary factor")
	ErrUnauthorized             = errors.New("factor: unauthorized")
	ErrBadRequest               = errors.New("factor: bad request")
)

func (f FlowType) String() string {
	switch f {
	case RoundTrip:
		return "round_trip"
	default:
		return "simple"
	}
}

func (l SecurityLevel) String() string {
	switch l {
	case Knowledge:
		return "knowledge"
	case OutOfBand:
		return "out_of_band"
	case Possession:
		return "possession"
	case Hardware:
		return "hardware"
	default:
		return "unknown"
	}
}

func (r Role) String() string {
	if r == MultiFactorOnly {
		return "multi_factor_only"
	}
	return "primary"
}
