package store

import (
	"context"
	"fmt"
	"time"
)

const verificationColumns = `id, user_id, type, token_hash, expires_at, used_at, created_at`

// CreateVerificationToken stores the digest of an emailed token.
func (q *Queries) CreateVerificationToken(ctx context.Context, t *VerificationToken) error {
	_, err := q.exec(ctx, `INSERT INTO verification_tokens (`+verificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Type, t.TokenHash, toMillis(t.ExpiresAt), nullMillis(t.UsedAt), toMillis(t.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create verification token: %w", err)
	}
	return nil
}

// VerificationTokenByHash finds a token of the given type by digest.
func (q *Queries) VerificationTokenByHash(ctx context.Context, tokenType, hash string) (*VerificationToken, error) {
	var row verificationRow
	err := q.get(ctx, &row, `SELECT `+verificationColumns+` FROM verification_tokens
		WHERE type = ? AND token_hash = ?`, tokenType, hash)
	if err != nil {
		return nil, wrapLookup("verification token", err)
	}
	return &VerificationToken{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Type,
		TokenHash: row.TokenHash,
		ExpiresAt: fromMillis(row.ExpiresAt),
		UsedAt:    fromNullMillis(row.UsedAt),
		CreatedAt: fromMillis(row.CreatedAt),
	}, nil
}

// ConsumeVerificationToken marks the token used. Only one caller can win;
// the rest get false.
func (q *Queries) ConsumeVerificationToken(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := q.execOne(ctx, `UPDATE verification_tokens SET used_at = ?
		WHERE id = ? AND used_at IS NULL`, toMillis(now), id)
	if err != nil {
		return false, fmt.Errorf("store: consume verification token: %w", err)
	}
	return ok, nil
}

// InvalidateVerificationTokens burns every outstanding token of tokenType
// for userID.
func (q *Queries) InvalidateVerificationTokens(ctx context.Context, userID, tokenType string, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE verification_tokens SET used_at = ?
		WHERE user_id = ? AND type = ? AND used_at IS NULL`, toMillis(now), userID, tokenType)
	if err != nil {
		return fmt.Errorf("store: invalidate verification tokens: %w", err)
	}
	return nil
}
