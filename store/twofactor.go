package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MethodTOTP is the only second-factor method stored today.
const MethodTOTP = "totp"

const twoFactorColumns = `user_id, method, secret, backup_codes, enabled, enabled_at,
	last_used_step, version, created_at`

// TwoFactorByUser loads the user's credential, pending or enabled.
func (q *Queries) TwoFactorByUser(ctx context.Context, userID string) (*TwoFactor, error) {
	var row twoFactorRow
	if err := q.get(ctx, &row, `SELECT `+twoFactorColumns+` FROM two_factor_credentials WHERE user_id = ?`, userID); err != nil {
		return nil, wrapLookup("two factor by user", err)
	}
	var codes []string
	if row.BackupCodes != "" {
		if err := json.Unmarshal([]byte(row.BackupCodes), &codes); err != nil {
			return nil, fmt.Errorf("store: decode backup codes: %w", err)
		}
	}
	return &TwoFactor{
		UserID:       row.UserID,
		Method:       row.Method,
		Secret:       row.Secret,
		BackupCodes:  codes,
		Enabled:      row.Enabled,
		EnabledAt:    fromNullMillis(row.EnabledAt),
		LastUsedStep: row.LastUsedStep,
		Version:      row.Version,
		CreatedAt:    fromMillis(row.CreatedAt),
	}, nil
}

// UpsertPendingTwoFactor stores a fresh, not yet enabled credential,
// replacing any earlier pending one. It fails with ErrConflict when an
// enabled credential already exists.
func (q *Queries) UpsertPendingTwoFactor(ctx context.Context, userID, secret string, hashes []string, now time.Time) error {
	encoded, err := encodeCodes(hashes)
	if err != nil {
		return err
	}
	res, err := q.exec(ctx, `INSERT INTO two_factor_credentials
			(user_id, method, secret, backup_codes, enabled, enabled_at, last_used_step, version, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, 0, 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			method = excluded.method,
			secret = excluded.secret,
			backup_codes = excluded.backup_codes,
			last_used_step = 0,
			version = two_factor_credentials.version + 1,
			created_at = excluded.created_at
		WHERE two_factor_credentials.enabled = ?`,
		userID, MethodTOTP, secret, encoded, false, toMillis(now), false)
	if err != nil {
		return fmt.Errorf("store: upsert two factor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: upsert two factor: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// EnableTwoFactor flips a pending credential to enabled and records the
// TOTP step that proved possession.
func (q *Queries) EnableTwoFactor(ctx context.Context, userID string, step int64, now time.Time) (bool, error) {
	ok, err := q.execOne(ctx, `UPDATE two_factor_credentials
		SET enabled = ?, enabled_at = ?, last_used_step = ?
		WHERE user_id = ? AND enabled = ?`, true, toMillis(now), step, userID, false)
	if err != nil {
		return false, fmt.Errorf("store: enable two factor: %w", err)
	}
	return ok, nil
}

// AdvanceTOTPStep records step as used. It returns false when step is not
// newer than the last accepted one.
func (q *Queries) AdvanceTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	ok, err := q.execOne(ctx, `UPDATE two_factor_credentials SET last_used_step = ?
		WHERE user_id = ? AND last_used_step < ?`, step, userID, step)
	if err != nil {
		return false, fmt.Errorf("store: advance totp step: %w", err)
	}
	return ok, nil
}

// ReplaceBackupCodes swaps the whole hash set if the credential is still at
// expectedVersion. It returns false when another writer got there first.
func (q *Queries) ReplaceBackupCodes(ctx context.Context, userID string, expectedVersion int64, hashes []string) (bool, error) {
	encoded, err := encodeCodes(hashes)
	if err != nil {
		return false, err
	}
	ok, err := q.execOne(ctx, `UPDATE two_factor_credentials
		SET backup_codes = ?, version = version + 1
		WHERE user_id = ? AND version = ?`, encoded, userID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("store: replace backup codes: %w", err)
	}
	return ok, nil
}

// DeleteTwoFactor removes the credential. It reports whether one existed.
func (q *Queries) DeleteTwoFactor(ctx context.Context, userID string) (bool, error) {
	ok, err := q.execOne(ctx, `DELETE FROM two_factor_credentials WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("store: delete two factor: %w", err)
	}
	return ok, nil
}

func encodeCodes(hashes []string) (string, error) {
	if hashes == nil {
		hashes = []string{}
	}
	b, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("store: encode backup codes: %w", err)
	}
	return string(b), nil
}
