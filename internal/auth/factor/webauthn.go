package factor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/idx"
)

// Session keys for in-flight WebAuthn ceremonies. Each value is written
// by the begin step and consumed exactly once by the finish step.
const (
	keyWebAuthnRegister     = "webauthn:register"
	keyWebAuthnLogin        = "webauthn:login"
	keyWebAuthnPasswordless = "webauthn:passwordless"
)

// ceremonyTTL bounds how long a begin response stays answerable.
const ceremonyTTL = 5 * time.Minute

// WebAuthnConfig identifies the relying party to authenticators.
type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

// WebAuthnVerifier implements the passkey factor: RoundTrip flow,
// Hardware level, Primary role. A user may hold several credentials;
// the factor counts as enabled while at least one exists.
type WebAuthnVerifier struct {
	Store    store.Store
	Sessions session.Store
	web      *webauthn.WebAuthn
}

func NewWebAuthnVerifier(st store.Store, sessions session.Store, cfg WebAuthnConfig) (*WebAuthnVerifier, error) {
	web, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	return &WebAuthnVerifier{Store: st, Sessions: sessions, web: web}, nil
}

func (v *WebAuthnVerifier) Name() Name { return WebAuthn }
func (v *WebAuthnVerifier) Info() Info { return Catalog[WebAuthn] }

// registrationState is the ceremony state parked between
// BeginRegistration and FinishRegistration.
type registrationState struct {
	Session     webauthn.SessionData `json:"session"`
	DisplayName string               `json:"display_name"`
}

// BeginRegistration starts enrollment of a new credential. Existing
// credentials are excluded so the authenticator refuses to register the
// same key twice.
func (v *WebAuthnVerifier) BeginRegistration(ctx context.Context, sid string, user domain.User, displayName string) (*protocol.CredentialCreation, error) {
	wu, err := newWebAuthnUser(user)
	if err != nil {
		return nil, err
	}

	creation, sd, err := v.web.BeginRegistration(wu,
		webauthn.WithExclusions(wu.descriptors()),
	)
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}

	state := registrationState{Session: *sd, DisplayName: displayName}
	if err := session.SetJSON(ctx, v.Sessions, sid, keyWebAuthnRegister, state, ceremonyTTL); err != nil {
		return nil, fmt.Errorf("storing registration state: %w", err)
	}
	return creation, nil
}

// FinishRegistration validates the authenticator's attestation response
// and persists the new credential. The parked ceremony state is
// consumed before validation, so a failed attempt cannot be retried
// against the same challenge.
func (v *WebAuthnVerifier) FinishRegistration(ctx context.Context, sid string, user domain.User, body io.Reader) (domain.WebAuthnCredential, error) {
	state, err := session.TakeJSON[registrationState](ctx, v.Sessions, sid, keyWebAuthnRegister)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return domain.WebAuthnCredential{}, ErrBadRequest
		}
		return domain.WebAuthnCredential{}, fmt.Errorf("loading registration state: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return domain.WebAuthnCredential{}, ErrBadRequest
	}

	wu, err := newWebAuthnUser(user)
	if err != nil {
		return domain.WebAuthnCredential{}, err
	}

	cred, err := v.web.CreateCredential(wu, state.Session, parsed)
	if err != nil {
		return domain.WebAuthnCredential{}, ErrBadRequest
	}

	raw, err := json.Marshal(cred)
	if err != nil {
		return domain.WebAuthnCredential{}, fmt.Errorf("serializing credential: %w", err)
	}

	dc := domain.WebAuthnCredential{
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		DisplayName:  state.DisplayName,
		Credential:   raw,
	}
	if err := v.Store.Users().AddWebAuthnCredential(ctx, user.ID, dc); err != nil {
		return domain.WebAuthnCredential{}, err
	}
	return dc, nil
}

// Disable removes one credential by id. Removing the last credential
// disables the factor, which is refused when no other Primary factor
// would remain.
func (v *WebAuthnVerifier) Disable(ctx context.Context, user domain.User, credentialID string) error {
	if !Enabled(user.Factors, WebAuthn) {
		return ErrNotEnabled
	}

	found := false
	for _, c := range user.Factors.WebAuthn {
		if c.CredentialID == credentialID {
			found = true
			break
		}
	}
	if !found {
		return ErrNotEnabled
	}

	if len(user.Factors.WebAuthn) == 1 && !CanDisable(user.Factors, WebAuthn) {
		return ErrCannotDisableOnlyPrimary
	}
	return v.Store.Users().DeleteWebAuthnCredential(ctx, user.ID, credentialID)
}

// BeginLogin starts a second-factor assertion for an already-identified
// user, restricted to that user's registered credentials.
func (v *WebAuthnVerifier) BeginLogin(ctx context.Context, sid string, user domain.User) (*protocol.CredentialAssertion, error) {
	if !Enabled(user.Factors, WebAuthn) {
		return nil, ErrUnauthorized
	}

	wu, err := newWebAuthnUser(user)
	if err != nil {
		return nil, err
	}

	assertion, sd, err := v.web.BeginLogin(wu)
	if err != nil {
		return nil, fmt.Errorf("beginning login: %w", err)
	}

	if err := session.SetJSON(ctx, v.Sessions, sid, keyWebAuthnLogin, sd, ceremonyTTL); err != nil {
		return nil, fmt.Errorf("storing login state: %w", err)
	}
	return assertion, nil
}

// FinishLogin validates the assertion response. On success the matched
// credential's sign counter is persisted so clone detection keeps
// working across logins.
func (v *WebAuthnVerifier) FinishLogin(ctx context.Context, sid string, user domain.User, body io.Reader) error {
	sd, err := session.TakeJSON[webauthn.SessionData](ctx, v.Sessions, sid, keyWebAuthnLogin)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return ErrUnauthorized
		}
		return fmt.Errorf("loading login state: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return ErrBadRequest
	}

	wu, err := newWebAuthnUser(user)
	if err != nil {
		return err
	}

	cred, err := v.web.ValidateLogin(wu, sd, parsed)
	if err != nil {
		return ErrUnauthorized
	}
	return v.acceptAssertion(ctx, user, cred)
}

// BeginPasswordlessLogin starts a discoverable-credential assertion.
// No user is named up front; the authenticator supplies the user handle
// with its response.
func (v *WebAuthnVerifier) BeginPasswordlessLogin(ctx context.Context, sid string) (*protocol.CredentialAssertion, error) {
	assertion, sd, err := v.web.BeginDiscoverableLogin()
	if err != nil {
		return nil, fmt.Errorf("beginning passwordless login: %w", err)
	}

	if err := session.SetJSON(ctx, v.Sessions, sid, keyWebAuthnPasswordless, sd, ceremonyTTL); err != nil {
		return nil, fmt.Errorf("storing passwordless state: %w", err)
	}
	return assertion, nil
}

// FinishPasswordlessLogin validates a discoverable assertion and
// returns the user identified by the authenticator's user handle.
func (v *WebAuthnVerifier) FinishPasswordlessLogin(ctx context.Context, sid string, body io.Reader) (domain.User, error) {
	sd, err := session.TakeJSON[webauthn.SessionData](ctx, v.Sessions, sid, keyWebAuthnPasswordless)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("loading passwordless state: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return domain.User{}, ErrBadRequest
	}

	var user domain.User
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		id, err := idx.Parse(string(userHandle))
		if err != nil {
			return nil, ErrUnauthorized
		}

		user, err = v.Store.Users().GetUserByID(ctx, id.String())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrUnauthorized
			}
			return nil, err
		}
		return newWebAuthnUser(user)
	}

	cred, err := v.web.ValidateDiscoverableLogin(handler, sd, parsed)
	if err != nil {
		return domain.User{}, ErrUnauthorized
	}

	if err := v.acceptAssertion(ctx, user, cred); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// acceptAssertion is the last gate after signature validation. A sign
// counter regression marks the credential cloned and the login is
// rejected; otherwise the updated counter is persisted.
func (v *WebAuthnVerifier) acceptAssertion(ctx context.Context, user domain.User, cred *webauthn.Credential) error {
	if cred.Authenticator.CloneWarning {
		return ErrUnauthorized
	}
	return v.persistCounter(ctx, user, cred)
}

// persistCounter writes back the updated sign counter of the credential
// that satisfied the assertion.
func (v *WebAuthnVerifier) persistCounter(ctx context.Context, user domain.User, cred *webauthn.Credential) error {
	id := base64.RawURLEncoding.EncodeToString(cred.ID)
	for _, c := range user.Factors.WebAuthn {
		if c.CredentialID != id {
			continue
		}

		raw, err := json.Marshal(cred)
		if err != nil {
			return fmt.Errorf("serializing credential: %w", err)
		}
		return v.Store.Users().UpdateWebAuthnCredential(ctx, user.ID, c.CredentialID, raw)
	}
	return nil
}

// webAuthnUser adapts a domain user to the shape the webauthn library
// expects, with stored credentials deserialized.
type webAuthnUser struct {
	user  domain.User
	creds []webauthn.Credential
}

func newWebAuthnUser(user domain.User) (*webAuthnUser, error) {
	creds := make([]webauthn.Credential, 0, len(user.Factors.WebAuthn))
	for _, c := range user.Factors.WebAuthn {
		var cred webauthn.Credential
		if err := json.Unmarshal(c.Credential, &cred); err != nil {
			return nil, fmt.Errorf("deserializing credential %s: %w", c.CredentialID, err)
		}
		creds = append(creds, cred)
	}
	return &webAuthnUser{user: user, creds: creds}, nil
}

func (u *webAuthnUser) WebAuthnID() []byte { return []byte(u.user.ID) }

func (u *webAuthnUser) WebAuthnName() string { return u.user.Username }

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Username
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (u *webAuthnUser) descriptors() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(u.creds))
	for _, c := range u.creds {
		out = append(out, c.Descriptor())
	}
	return out
}
