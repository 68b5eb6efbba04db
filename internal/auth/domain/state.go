package domain

// AuthState tracks how far a browser session has progressed through
// login. It only ever moves forward within one login attempt; failed
// verifications leave it untouched.
type AuthState string

const (
	// StateAnonymous is the initial state. Only first-factor operations
	// are reachable.
	StateAnonymous AuthState = "anonymous"

	// StateBeforeTwoFactor means a first factor succeeded but the user
	// has second factors enrolled. Only second-factor operations are
	// reachable.
	StateBeforeTwoFactor AuthState = "before_two_factor"

	// StateAuthenticated is terminal for login purposes; general account
	// operations require it.
	StateAuthenticated AuthState = "authenticated"
)
