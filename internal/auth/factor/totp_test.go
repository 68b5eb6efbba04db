package factor

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func totpCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totpOpts)
	require.NoError(t, err)
	return code
}

func TestTOTP_EnrollmentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &TOTPVerifier{Store: s, Issuer: "latch"}

	enr, err := v.Enable(ctx, u, "phone")
	require.NoError(t, err)
	require.NotEmpty(t, enr.Secret)
	require.Contains(t, enr.URL, "otpauth://totp/")
	require.Contains(t, enr.URL, "issuer=latch")

	// Pending secret: stored but invisible to login.
	u = reload(t, s, u.ID)
	require.NotNil(t, u.Factors.TOTP)
	require.False(t, u.Factors.TOTP.FullyEnabled)
	require.False(t, Enabled(u.Factors, TOTP))
	require.ErrorIs(t, v.Authenticate(ctx, u, totpCode(t, enr.Secret)), ErrUnauthorized)

	// Confirming with a valid code completes enrollment.
	require.NoError(t, v.Confirm(ctx, u, totpCode(t, enr.Secret)))
	u = reload(t, s, u.ID)
	require.True(t, Enabled(u.Factors, TOTP))
	require.NoError(t, v.Authenticate(ctx, u, totpCode(t, enr.Secret)))
}

func TestTOTP_RestartReplacesPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &TOTPVerifier{Store: s, Issuer: "latch"}

	first, err := v.Enable(ctx, u, "phone")
	require.NoError(t, err)

	u = reload(t, s, u.ID)
	second, err := v.Enable(ctx, u, "phone")
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only the replacement secret can confirm.
	u = reload(t, s, u.ID)
	require.ErrorIs(t, v.Confirm(ctx, u, totpCode(t, first.Secret)), ErrUnauthorized)
	require.NoError(t, v.Confirm(ctx, u, totpCode(t, second.Secret)))
}

func TestTOTP_EnableWhenConfirmed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &TOTPVerifier{Store: s, Issuer: "latch"}

	enr, err := v.Enable(ctx, u, "phone")
	require.NoError(t, err)
	require.NoError(t, v.Confirm(ctx, reload(t, s, u.ID), totpCode(t, enr.Secret)))

	_, err = v.Enable(ctx, reload(t, s, u.ID), "phone")
	require.ErrorIs(t, err, ErrAlreadyEnabled)
}

func TestTOTP_ConfirmWithoutPending(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s)
	v := &TOTPVerifier{Store: s, Issuer: "latch"}

	require.ErrorIs(t, v.Confirm(context.Background(), u, "123456"), ErrBadRequest)
}

func TestTOTP_WrongCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &TOTPVerifier{Store: s, Issuer: "latch"}

	enr, err := v.Enable(ctx, u, "phone")
	require.NoError(t, err)
	require.NoError(t, v.Confirm(ctx, reload(t, s, u.ID), totpCode(t, enr.Secret)))

	u = reload(t, s, u.ID)
	require.ErrorIs(t, v.Authenticate(ctx, u, "000000"), ErrUnauthorized)
	require.ErrorIs(t, v.Authenticate(ctx, u, "garbage"), ErrUnauthorized)
	require.ErrorIs(t, v.Authenticate(ctx, u, ""), ErrUnauthorized)
}

func TestTOTP_Disable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &TOTPVerifier{Store: s, Issuer: "latch"}

	require.ErrorIs(t, v.Disable(ctx, u), ErrNotEnabled)

	// Pending enrollment can be abandoned via disable.
	_, err := v.Enable(ctx, u, "phone")
	require.NoError(t, err)
	u = reload(t, s, u.ID)
	require.NoError(t, v.Disable(ctx, u))

	u = reload(t, s, u.ID)
	require.Nil(t, u.Factors.TOTP)
}
