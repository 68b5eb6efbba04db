package factor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
)

func newTestWebAuthn(t *testing.T, s store.Store, sessions session.Store) *WebAuthnVerifier {
	t.Helper()

	v, err := NewWebAuthnVerifier(s, sessions, WebAuthnConfig{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)
	return v
}

// seedCredential stores a synthetic credential so enabled/disable logic
// can be exercised without a real authenticator ceremony.
func seedCredential(t *testing.T, s store.Store, userID, credentialID string) {
	t.Helper()

	raw, err := json.Marshal(webauthn.Credential{ID: []byte(credentialID)})
	require.NoError(t, err)
	err = s.Users().AddWebAuthnCredential(context.Background(), userID, domain.WebAuthnCredential{
		CredentialID: credentialID,
		DisplayName:  "test key",
		Credential:   raw,
	})
	require.NoError(t, err)
}

func TestWebAuthn_BeginRegistration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	sessions := newTestSessions(t)
	v := newTestWebAuthn(t, s, sessions)

	creation, err := v.BeginRegistration(ctx, "sid-1", u, "yubikey")
	require.NoError(t, err)
	require.NotEmpty(t, creation.Response.Challenge)
	require.Equal(t, "example.com", creation.Response.RelyingParty.ID)

	// Ceremony state is parked in the session.
	state, err := session.GetJSON[registrationState](ctx, sessions, "sid-1", keyWebAuthnRegister)
	require.NoError(t, err)
	require.Equal(t, "yubikey", state.DisplayName)
	require.NotEmpty(t, state.Session.Challenge)
}

func TestWebAuthn_FinishRegistrationWithoutStart(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s)
	v := newTestWebAuthn(t, s, newTestSessions(t))

	_, err := v.FinishRegistration(context.Background(), "sid-1", u, strings.NewReader("{}"))
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestWebAuthn_FinishRegistrationConsumesState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	sessions := newTestSessions(t)
	v := newTestWebAuthn(t, s, sessions)

	_, err := v.BeginRegistration(ctx, "sid-1", u, "yubikey")
	require.NoError(t, err)

	// A malformed response still burns the parked state.
	_, err = v.FinishRegistration(ctx, "sid-1", u, strings.NewReader("not json"))
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = sessions.Get(ctx, "sid-1", keyWebAuthnRegister)
	require.ErrorIs(t, err, session.ErrNoValue)
}

func TestWebAuthn_BeginLoginRequiresCredentials(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s)
	v := newTestWebAuthn(t, s, newTestSessions(t))

	_, err := v.BeginLogin(context.Background(), "sid-1", u)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestWebAuthn_BeginLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	seedCredential(t, s, u.ID, "cred-1")
	sessions := newTestSessions(t)
	v := newTestWebAuthn(t, s, sessions)

	u = reload(t, s, u.ID)
	assertion, err := v.BeginLogin(ctx, "sid-1", u)
	require.NoError(t, err)
	require.NotEmpty(t, assertion.Response.Challenge)
	require.Len(t, assertion.Response.AllowedCredentials, 1)
}

func TestWebAuthn_FinishLoginWithoutStart(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s)
	seedCredential(t, s, u.ID, "cred-1")
	v := newTestWebAuthn(t, s, newTestSessions(t))

	u = reload(t, s, u.ID)
	err := v.FinishLogin(context.Background(), "sid-1", u, strings.NewReader("{}"))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestWebAuthn_PasswordlessFinishWithoutStart(t *testing.T) {
	s := newTestStore(t)
	v := newTestWebAuthn(t, s, newTestSessions(t))

	_, err := v.FinishPasswordlessLogin(context.Background(), "sid-1", strings.NewReader("{}"))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestWebAuthn_Disable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := newTestWebAuthn(t, s, newTestSessions(t))

	require.ErrorIs(t, v.Disable(ctx, u, "cred-1"), ErrNotEnabled)

	seedCredential(t, s, u.ID, "cred-1")
	seedCredential(t, s, u.ID, "cred-2")
	u = reload(t, s, u.ID)

	require.ErrorIs(t, v.Disable(ctx, u, "no-such-cred"), ErrNotEnabled)

	// With two credentials, removing one never touches the primary
	// factor guard.
	require.NoError(t, v.Disable(ctx, u, "cred-1"))
	u = reload(t, s, u.ID)
	require.Len(t, u.Factors.WebAuthn, 1)

	// Removing the last credential disables the factor entirely, which
	// the sole-primary rule forbids.
	require.ErrorIs(t, v.Disable(ctx, u, "cred-2"), ErrCannotDisableOnlyPrimary)

	pw := &PasswordVerifier{Store: s}
	require.NoError(t, pw.Enable(ctx, u, "hunter2hunter2"))
	u = reload(t, s, u.ID)
	require.NoError(t, v.Disable(ctx, u, "cred-2"))
	require.Empty(t, reload(t, s, u.ID).Factors.WebAuthn)
}

func TestWebAuthn_ClonedAuthenticatorRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	seedCredential(t, s, u.ID, "cred-1")
	u = reload(t, s, u.ID)
	v := newTestWebAuthn(t, s, newTestSessions(t))

	// A sign counter that goes backwards marks the credential cloned.
	cred := webauthn.Credential{ID: []byte("cred-1")}
	cred.Authenticator.SignCount = 10
	cred.Authenticator.UpdateCounter(5)
	require.True(t, cred.Authenticator.CloneWarning)

	require.ErrorIs(t, v.acceptAssertion(ctx, u, &cred), ErrUnauthorized)
}

func TestWebAuthn_AssertionPersistsSignCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)

	rawID := []byte("cred-1")
	encID := base64.RawURLEncoding.EncodeToString(rawID)
	raw, err := json.Marshal(webauthn.Credential{ID: rawID})
	require.NoError(t, err)
	err = s.Users().AddWebAuthnCredential(ctx, u.ID, domain.WebAuthnCredential{
		CredentialID: encID,
		DisplayName:  "test key",
		Credential:   raw,
	})
	require.NoError(t, err)
	u = reload(t, s, u.ID)

	v := newTestWebAuthn(t, s, newTestSessions(t))

	cred := webauthn.Credential{ID: rawID}
	cred.Authenticator.SignCount = 4
	cred.Authenticator.UpdateCounter(9)
	require.False(t, cred.Authenticator.CloneWarning)
	require.NoError(t, v.acceptAssertion(ctx, u, &cred))

	u = reload(t, s, u.ID)
	var stored webauthn.Credential
	require.NoError(t, json.Unmarshal(u.Factors.WebAuthn[0].Credential, &stored))
	require.EqualValues(t, 9, stored.Authenticator.SignCount)
}
