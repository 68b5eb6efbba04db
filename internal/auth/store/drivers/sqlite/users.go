package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `
	id, username, email, display_name,
	password_hash,
	totp_secret, totp_display_name, totp_fully_enabled,
	pgp_public_key, pgp_fingerprint, pgp_display_name,
	recent_first_factor, recent_second_factor,
	created_at, updated_at`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) GetUserByLogin(ctx context.Context, login string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ?`, login, login)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) scanUser(ctx context.Context, row *sql.Row) (domain.User, error) {
	var (
		u domain.User

		passwordHash   sql.NullString
		totpSecret     sql.NullString
		totpName       sql.NullString
		totpConfirmed  bool
		pgpKey         sql.NullString
		pgpFingerprint sql.NullString
		pgpName        sql.NullString
	)

	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.DisplayName,
		&passwordHash,
		&totpSecret, &totpName, &totpConfirmed,
		&pgpKey, &pgpFingerprint, &pgpName,
		&u.Factors.Recent.First, &u.Factors.Recent.Second,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	if passwordHash.Valid {
		u.Factors.PasswordHash = &passwordHash.String
	}
	if totpSecret.Valid {
		u.Factors.TOTP = &domain.TOTPFactor{
			Secret:       totpSecret.String,
			DisplayName:  totpName.String,
			FullyEnabled: totpConfirmed,
		}
	}
	if pgpKey.Valid {
		u.Factors.PGP = &domain.PGPFactor{
			PublicKey:   pgpKey.String,
			Fingerprint: pgpFingerprint.String,
			DisplayName: pgpName.String,
		}
	}

	if err := r.loadRecoveryCodes(ctx, &u); err != nil {
		return domain.User{}, err
	}
	if err := r.loadWebAuthnCredentials(ctx, &u); err != nil {
		return domain.User{}, err
	}

	return u, nil
}

func (r *usersRepo) loadRecoveryCodes(ctx context.Context, u *domain.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code_hash, used FROM recovery_codes WHERE user_id = ? ORDER BY rowid`, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rc domain.RecoveryCode
		if err := rows.Scan(&rc.CodeHash, &rc.Used); err != nil {
			return err
		}
		u.Factors.RecoveryCodes = append(u.Factors.RecoveryCodes, rc)
	}
	return rows.Err()
}

func (r *usersRepo) loadWebAuthnCredentials(ctx context.Context, u *domain.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT credential_id, display_name, credential
		 FROM webauthn_credentials WHERE user_id = ? ORDER BY created_at`, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.WebAuthnCredential
		if err := rows.Scan(&c.CredentialID, &c.DisplayName, &c.Credential); err != nil {
			return err
		}
		u.Factors.WebAuthn = append(u.Factors.WebAuthn, c)
	}
	return rows.Err()
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	var passwordHash any
	if u.Factors.PasswordHash != nil {
		passwordHash = *u.Factors.PasswordHash
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, display_name, password_hash)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.DisplayName, passwordHash)
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return r.mustUpdate(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), userID)
}

func (r *usersRepo) ClearPasswordHash(ctx context.Context, userID string) error {
	return r.mustUpdate(ctx,
		`UPDATE users SET password_hash = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), userID)
}

func (r *usersRepo) SetPendingTOTP(ctx context.Context, userID, secret, displayName string) error {
	return r.mustUpdate(ctx,
		`UPDATE users
		 SET totp_secret = ?, totp_display_name = ?, totp_fully_enabled = 0, updated_at = ?
		 WHERE id = ?`,
		secret, displayName, time.Now().UTC(), userID)
}

func (r *usersRepo) ConfirmTOTP(ctx context.Context, userID string) error {
	return r.mustUpdate(ctx,
		`UPDATE users SET totp_fully_enabled = 1, updated_at = ?
		 WHERE id = ? AND totp_secret IS NOT NULL`,
		time.Now().UTC(), userID)
}

func (r *usersRepo) ClearTOTP(ctx context.Context, userID string) error {
	return r.mustUpdate(ctx,
		`UPDATE users
		 SET totp_secret = NULL, totp_display_name = NULL, totp_fully_enabled = 0, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), userID)
}

func (r *usersRepo) ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM recovery_codes WHERE user_id = ?`, userID); err != nil {
		return err
	}

	for _, hash := range codeHashes {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO recovery_codes (user_id, code_hash, used) VALUES (?, ?, 0)`,
			userID, hash); err != nil {
			return err
		}
	}
	return nil
}

func (r *usersRepo) RedeemRecoveryCode(ctx context.Context, userID, codeHash string) error {
	// Compare-and-set on the used flag. Exactly one of two concurrent
	// redemptions sees an affected row.
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_codes SET used = 1
		 WHERE user_id = ? AND code_hash = ? AND used = 0`,
		userID, codeHash)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *usersRepo) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM recovery_codes WHERE user_id = ?`, userID)
	return err
}

func (r *usersRepo) AddWebAuthnCredential(ctx context.Context, userID string, cred domain.WebAuthnCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webauthn_credentials (user_id, credential_id, display_name, credential)
		 VALUES (?, ?, ?, ?)`,
		userID, cred.CredentialID, cred.DisplayName, cred.Credential)
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdateWebAuthnCredential(ctx context.Context, userID, credentialID string, credential []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webauthn_credentials SET credential = ?
		 WHERE user_id = ? AND credential_id = ?`,
		credential, userID, credentialID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *usersRepo) DeleteWebAuthnCredential(ctx context.Context, userID, credentialID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webauthn_credentials WHERE user_id = ? AND credential_id = ?`,
		userID, credentialID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *usersRepo) SetPGP(ctx context.Context, userID string, f domain.PGPFactor) error {
	return r.mustUpdate(ctx,
		`UPDATE users
		 SET pgp_public_key = ?, pgp_fingerprint = ?, pgp_display_name = ?, updated_at = ?
		 WHERE id = ?`,
		f.PublicKey, f.Fingerprint, f.DisplayName, time.Now().UTC(), userID)
}

func (r *usersRepo) ClearPGP(ctx context.Context, userID string) error {
	return r.mustUpdate(ctx,
		`UPDATE users
		 SET pgp_public_key = NULL, pgp_fingerprint = NULL, pgp_display_name = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), userID)
}

func (r *usersRepo) SetRecentFirstFactor(ctx context.Context, userID, name string) error {
	return r.mustUpdate(ctx,
		`UPDATE users SET recent_first_factor = ? WHERE id = ?`, name, userID)
}

func (r *usersRepo) SetRecentSecondFactor(ctx context.Context, userID, name string) error {
	return r.mustUpdate(ctx,
		`UPDATE users SET recent_second_factor = ? WHERE id = ?`, name, userID)
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// mustUpdate runs an UPDATE that must affect exactly one row.
func (r *usersRepo) mustUpdate(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
