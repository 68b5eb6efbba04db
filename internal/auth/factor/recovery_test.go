package factor

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecovery_EnableGeneratesBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &RecoveryCodeVerifier{Store: s}

	codes, err := v.Enable(ctx, u)
	require.NoError(t, err)
	require.Len(t, codes, recoveryCodeCount)

	alnum := regexp.MustCompile(`^[a-zA-Z0-9]{12}$`)
	seen := map[string]bool{}
	for _, c := range codes {
		require.Regexp(t, alnum, c)
		require.False(t, seen[c])
		seen[c] = true
	}

	// Only hashes hit the store.
	u = reload(t, s, u.ID)
	require.Len(t, u.Factors.RecoveryCodes, recoveryCodeCount)
	for _, rc := range u.Factors.RecoveryCodes {
		require.False(t, seen[rc.CodeHash])
		require.False(t, rc.Used)
	}
}

func TestRecovery_RedeemOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &RecoveryCodeVerifier{Store: s}

	codes, err := v.Enable(ctx, u)
	require.NoError(t, err)

	u = reload(t, s, u.ID)
	require.NoError(t, v.Authenticate(ctx, u, codes[0]))

	// The same code is burned, the rest still work.
	u = reload(t, s, u.ID)
	require.ErrorIs(t, v.Authenticate(ctx, u, codes[0]), ErrUnauthorized)
	require.NoError(t, v.Authenticate(ctx, u, codes[1]))
}

func TestRecovery_WrongCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &RecoveryCodeVerifier{Store: s}

	_, err := v.Enable(ctx, u)
	require.NoError(t, err)

	u = reload(t, s, u.ID)
	require.ErrorIs(t, v.Authenticate(ctx, u, "notarealcode"), ErrUnauthorized)
}

func TestRecovery_NoneEnrolled(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s)
	v := &RecoveryCodeVerifier{Store: s}

	require.ErrorIs(t, v.Authenticate(context.Background(), u, "whatever"), ErrUnauthorized)
}

func TestRecovery_RegenerateInvalidatesOldBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &RecoveryCodeVerifier{Store: s}

	old, err := v.Enable(ctx, u)
	require.NoError(t, err)

	fresh, err := v.Enable(ctx, reload(t, s, u.ID))
	require.NoError(t, err)

	u = reload(t, s, u.ID)
	require.ErrorIs(t, v.Authenticate(ctx, u, old[0]), ErrUnauthorized)
	require.NoError(t, v.Authenticate(ctx, u, fresh[0]))
}

func TestRecovery_AllUsedCountsAsDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &RecoveryCodeVerifier{Store: s}

	codes, err := v.Enable(ctx, u)
	require.NoError(t, err)

	for _, c := range codes {
		require.NoError(t, v.Authenticate(ctx, reload(t, s, u.ID), c))
	}

	u = reload(t, s, u.ID)
	require.False(t, Enabled(u.Factors, RecoveryCode))
	require.NotContains(t, SecondFactors(u.Factors), RecoveryCode)
}

func TestRecovery_Disable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	v := &RecoveryCodeVerifier{Store: s}

	require.ErrorIs(t, v.Disable(ctx, u), ErrNotEnabled)

	_, err := v.Enable(ctx, u)
	require.NoError(t, err)

	u = reload(t, s, u.ID)
	require.NoError(t, v.Disable(ctx, u))
	require.Empty(t, reload(t, s, u.ID).Factors.RecoveryCodes)
}
