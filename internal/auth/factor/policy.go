package factor

import "github.com/latchwork/latch/internal/auth/domain"

// Enabled reports whether a factor is usable for login. This is the
// derived check: it looks at completed proof-of-possession, never at
// raw presence of a secret. In particular a TOTP secret that was
// generated but not confirmed is invisible here.
func Enabled(f domain.AuthFactors, name Name) bool {
	switch name {
	case Password:
		return f.PasswordHash != nil
	case TOTP:
		return f.TOTP != nil && f.TOTP.FullyEnabled
	case RecoveryCode:
		for _, rc := range f.RecoveryCodes {
			if !rc.Used {
				return true
			}
		}
		return false
	case WebAuthn:
		return len(f.WebAuthn) > 0
	case PGP:
		return f.PGP != nil
	default:
		return false
	}
}

// FirstFactors lists the factors usable as the sole first step for this
// user, in presentation order.
func FirstFactors(f domain.AuthFactors) []Name {
	var out []Name
	for _, n := range []Name{Password, WebAuthn, PGP} {
		if Enabled(f, n) {
			out = append(out, n)
		}
	}
	return out
}

// SecondFactors lists the factors usable after a successful first
// factor. An empty result means a first-factor success authenticates
// the session immediately.
func SecondFactors(f domain.AuthFactors) []Name {
	var out []Name
	for _, n := range []Name{WebAuthn, TOTP, PGP, RecoveryCode} {
		if Enabled(f, n) {
			out = append(out, n)
		}
	}
	return out
}

// DefaultFirstFactors is what login-option discovery returns for unknown
// usernames. Always exactly [password]: a fixed list that reveals
// nothing about whether the account exists or what it has enrolled.
func DefaultFirstFactors() []Name {
	return []Name{Password}
}

// CanDisable reports whether removing the named factor would still
// leave the user at least one enabled Primary-role factor. Enforced at
// disable time, not at login time.
func CanDisable(f domain.AuthFactors, name Name) bool {
	if Catalog[name].Role != Primary || !Enabled(f, name) {
		return true
	}

	for n, info := range Catalog {
		if n == name || info.Role != Primary {
			continue
		}
		if Enabled(f, n) {
			return true
		}
	}
	return false
}
