package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrTokenInvalid = errors.New("refresh token invalid")

// Refresh tokens are stored hashed: the plaintext only ever lives in the
// client's hands, so a leaked table cannot be replayed.
func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// IssueRefreshToken creates and stores a new token for the user,
// returning the plaintext to hand to the client.
func (p *Postgres) IssueRefreshToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	plain := hex.EncodeToString(buf)

	_, err := p.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, hashToken(plain), time.Now().Add(ttl))
	if err != nil {
		return "", err
	}
	return plain, nil
}

// VerifyRefreshToken resolves a plaintext token to its owner. Expired or
// revoked tokens fail with ErrTokenInvalid.
func (p *Postgres) VerifyRefreshToken(ctx context.Context, plain string) (string, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT user_id
		FROM refresh_tokens
		WHERE token_hash = $1 AND NOT revoked AND expires_at > NOW()
	`, hashToken(plain))

	var userID string
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrTokenInvalid
		}
		return "", err
	}
	return userID, nil
}

// RotateRefreshToken revokes the presented token and issues a fresh one
// for the same user in a single transaction.
func (p *Postgres) RotateRefreshToken(ctx context.Context, plain string, ttl time.Duration) (string, string, error) {
	userID, err := p.VerifyRefreshToken(ctx, plain)
	if err != nil {
		return "", "", err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1
	`, hashToken(plain)); err != nil {
		return "", "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	next := hex.EncodeToString(buf)

	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, hashToken(next), time.Now().Add(ttl)); err != nil {
		return "", "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", err
	}
	return userID, next, nil
}

// RevokeRefreshToken invalidates a token on logout. Unknown tokens are a
// no-op so logout never fails.
func (p *Postgres) RevokeRefreshToken(ctx context.Context, plain string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1
	`, hashToken(plain))
	return err
}
