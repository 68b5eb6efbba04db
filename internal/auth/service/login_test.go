package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/factor"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/internal/auth/store/drivers/sqlite"
	"github.com/latchwork/latch/pkg/cryptox"
)

func TestMain(m *testing.M) {
	pepperPath := filepath.Join(os.TempDir(), "latch-service-test-pepper")
	cryptox.SetPepperPath(pepperPath)

	os.Remove(pepperPath)
	defer os.Remove(pepperPath)

	os.Exit(m.Run())
}

type fixture struct {
	store    store.Store
	sessions session.Store
	login    *LoginService
	settings *SettingsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	verifiers, err := NewVerifiers(st, sessions, VerifierConfig{
		TOTPIssuer:    "latch",
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)

	return &fixture{
		store:    st,
		sessions: sessions,
		login:    &LoginService{Store: st, Sessions: sessions, Verifiers: verifiers},
		settings: &SettingsService{Store: st, Verifiers: verifiers},
	}
}

func (f *fixture) register(t *testing.T) domain.User {
	t.Helper()

	u, err := f.settings.Register(context.Background(), RegisterParams{
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "hunter2hunter2",
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) enrollTOTP(t *testing.T, userID string) string {
	t.Helper()

	ctx := context.Background()
	enr, err := f.settings.EnableTOTP(ctx, userID, "phone")
	require.NoError(t, err)

	code, err := totp.GenerateCodeCustom(enr.Secret, time.Now().UTC(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	require.NoError(t, f.settings.ConfirmTOTP(ctx, userID, code))
	return enr.Secret
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func (f *fixture) requireState(t *testing.T, sid string, want domain.AuthState) {
	t.Helper()

	state, _, err := f.login.State(context.Background(), sid)
	require.NoError(t, err)
	require.Equal(t, want, state)
}

func TestLogin_PasswordOnlyFullyAuthenticates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)

	res, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)
	require.True(t, res.FullyAuthenticated)
	require.Empty(t, res.Next)

	state, userID, err := f.login.State(ctx, "sid-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateAuthenticated, state)
	require.Equal(t, u.ID, userID)
}

func TestLogin_SecondFactorRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	secret := f.enrollTOTP(t, u.ID)
	_, err := f.settings.RegenerateRecoveryCodes(ctx, u.ID)
	require.NoError(t, err)

	res, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)
	require.False(t, res.FullyAuthenticated)
	require.Equal(t, []factor.Name{factor.TOTP, factor.RecoveryCode}, res.Next)
	f.requireState(t, "sid-1", domain.StateBeforeTwoFactor)

	// A wrong code leaves the state machine where it was.
	_, err = f.login.TOTPLogin(ctx, "sid-1", "000000")
	require.ErrorIs(t, err, factor.ErrUnauthorized)
	f.requireState(t, "sid-1", domain.StateBeforeTwoFactor)

	res, err = f.login.TOTPLogin(ctx, "sid-1", totpCode(t, secret))
	require.NoError(t, err)
	require.True(t, res.FullyAuthenticated)
	f.requireState(t, "sid-1", domain.StateAuthenticated)
}

func TestLogin_SecondFactorBeforeFirstRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	secret := f.enrollTOTP(t, u.ID)

	_, err := f.login.TOTPLogin(ctx, "sid-1", totpCode(t, secret))
	require.ErrorIs(t, err, factor.ErrUnauthorized)
	f.requireState(t, "sid-1", domain.StateAnonymous)
}

func TestLogin_WrongPasswordLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t)

	_, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "wrong")
	require.ErrorIs(t, err, factor.ErrUnauthorized)
	f.requireState(t, "sid-1", domain.StateAnonymous)
}

func TestLogin_UnconfirmedTOTPInvisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)

	// Enrollment started but never confirmed.
	_, err := f.settings.EnableTOTP(ctx, u.ID, "phone")
	require.NoError(t, err)

	res, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)
	require.True(t, res.FullyAuthenticated)
}

func TestLogin_RecoveryCodeSecondFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	f.enrollTOTP(t, u.ID)
	codes, err := f.settings.RegenerateRecoveryCodes(ctx, u.ID)
	require.NoError(t, err)

	_, err = f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)

	res, err := f.login.RecoveryCodeLogin(ctx, "sid-1", codes[0])
	require.NoError(t, err)
	require.True(t, res.FullyAuthenticated)

	// The burned code cannot complete a second login.
	_, err = f.login.PasswordLogin(ctx, "sid-2", "alice", "hunter2hunter2")
	require.NoError(t, err)
	_, err = f.login.RecoveryCodeLogin(ctx, "sid-2", codes[0])
	require.ErrorIs(t, err, factor.ErrUnauthorized)
	f.requireState(t, "sid-2", domain.StateBeforeTwoFactor)
}

func TestLogin_RecentSecondFactorHint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	secret := f.enrollTOTP(t, u.ID)

	_, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)
	_, err = f.login.TOTPLogin(ctx, "sid-1", totpCode(t, secret))
	require.NoError(t, err)

	// The next login is told what completed the previous one.
	res, err := f.login.PasswordLogin(ctx, "sid-2", "alice", "hunter2hunter2")
	require.NoError(t, err)
	require.Equal(t, factor.TOTP, res.Recent)
}

func TestLogin_Options(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)

	opts, err := f.login.Options(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []factor.Name{factor.Password}, opts)

	// Unknown users get the same shape of answer.
	opts, err = f.login.Options(ctx, "nobody")
	require.NoError(t, err)
	require.Equal(t, []factor.Name{factor.Password}, opts)

	entity := testPGPEntity(t)
	require.NoError(t, f.settings.EnablePGP(ctx, u.ID, armorPublicKey(t, entity), "key"))

	opts, err = f.login.Options(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []factor.Name{factor.Password, factor.PGP}, opts)
}

func TestLogin_PGPFirstFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)

	entity := testPGPEntity(t)
	require.NoError(t, f.settings.EnablePGP(ctx, u.ID, armorPublicKey(t, entity), "key"))

	challenge, err := f.login.PGPChallenge(ctx, "sid-1")
	require.NoError(t, err)

	res, err := f.login.PGPLogin(ctx, "sid-1", "alice", signChallenge(t, entity, challenge))
	require.NoError(t, err)
	require.True(t, res.FullyAuthenticated)
	f.requireState(t, "sid-1", domain.StateAuthenticated)
}

func TestLogin_PGPSecondFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	f.enrollTOTP(t, u.ID)

	entity := testPGPEntity(t)
	require.NoError(t, f.settings.EnablePGP(ctx, u.ID, armorPublicKey(t, entity), "key"))

	res, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)
	require.Contains(t, res.Next, factor.PGP)

	challenge, err := f.login.PGPChallenge(ctx, "sid-1")
	require.NoError(t, err)
	res, err = f.login.PGPSecondFactor(ctx, "sid-1", signChallenge(t, entity, challenge))
	require.NoError(t, err)
	require.True(t, res.FullyAuthenticated)
}

func TestLogin_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t)

	_, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)
	f.requireState(t, "sid-1", domain.StateAuthenticated)

	require.NoError(t, f.login.Logout(ctx, "sid-1"))
	f.requireState(t, "sid-1", domain.StateAnonymous)

	// Logging out an anonymous session is a no-op.
	require.NoError(t, f.login.Logout(ctx, "sid-1"))
}

func TestLogin_SessionsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	f.enrollTOTP(t, u.ID)

	_, err := f.login.PasswordLogin(ctx, "sid-1", "alice", "hunter2hunter2")
	require.NoError(t, err)

	// The half-finished login on sid-1 grants nothing to sid-2.
	f.requireState(t, "sid-1", domain.StateBeforeTwoFactor)
	f.requireState(t, "sid-2", domain.StateAnonymous)
}

func testPGPEntity(t *testing.T) *openpgp.Entity {
	t.Helper()

	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity("Alice", "", "alice@example.com", cfg)
	require.NoError(t, err)
	return entity
}

func armorPublicKey(t *testing.T, entity *openpgp.Entity) string {
	t.Helper()

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())
	return buf.String()
}

func signChallenge(t *testing.T, entity *openpgp.Entity, challenge string) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&buf, entity, strings.NewReader(challenge), nil))
	return buf.String()
}
