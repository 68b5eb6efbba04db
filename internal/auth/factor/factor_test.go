package factor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/internal/auth/store/drivers/sqlite"
	"github.com/latchwork/latch/pkg/cryptox"
	"github.com/latchwork/latch/pkg/idx"
)

func TestMain(m *testing.M) {
	pepperPath := filepath.Join(os.TempDir(), "latch-factor-test-pepper")
	cryptox.SetPepperPath(pepperPath)

	os.Remove(pepperPath)
	defer os.Remove(pepperPath)

	os.Exit(m.Run())
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSessions(t *testing.T) session.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := session.NewRedisStore(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s store.Store) domain.User {
	t.Helper()

	u := domain.User{
		ID:          idx.New().String(),
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

// reload pulls the current aggregate so assertions see what the next
// login would see.
func reload(t *testing.T, s store.Store, id string) domain.User {
	t.Helper()

	u, err := s.Users().GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestCatalog_Complete(t *testing.T) {
	require.Len(t, Catalog, 5)
	for _, n := range []Name{Password, TOTP, RecoveryCode, WebAuthn, PGP} {
		require.Contains(t, Catalog, n)
	}
}

func TestCatalog_Metadata(t *testing.T) {
	require.Equal(t, Simple, Catalog[Password].Flow)
	require.Equal(t, Knowledge, Catalog[Password].Level)
	require.Equal(t, Primary, Catalog[Password].Role)

	require.Equal(t, MultiFactorOnly, Catalog[TOTP].Role)
	require.Equal(t, MultiFactorOnly, Catalog[RecoveryCode].Role)

	require.Equal(t, RoundTrip, Catalog[WebAuthn].Flow)
	require.Equal(t, Hardware, Catalog[WebAuthn].Level)

	require.Equal(t, RoundTrip, Catalog[PGP].Flow)
	require.Equal(t, Possession, Catalog[PGP].Level)
	require.Equal(t, Primary, Catalog[PGP].Role)
}

func TestSecurityLevel_Ordering(t *testing.T) {
	require.True(t, Knowledge < OutOfBand)
	require.True(t, OutOfBand < Possession)
	require.True(t, Possession < Hardware)
}
