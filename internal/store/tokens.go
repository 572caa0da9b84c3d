package store

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/shramba/internal/db"
)

// RevokeToken records a token id as revoked until expiresAt. Revoking twice
// is a no-op.
func RevokeToken(ctx context.Context, q db.Querier, jti string, expiresAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoking token %s: %w", jti, err)
	}
	return nil
}

// PruneRevocations drops revocations of tokens that expired before now and
// reports how many it dropped.
func PruneRevocations(ctx context.Context, q db.Querier, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning token revocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning token revocations: %w", err)
	}
	return n, nil
}

// IsTokenRevoked reports whether a token id is on the revocation list.
func IsTokenRevoked(ctx context.Context, q db.Querier, jti string) (bool, error) {
	var revoked bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ?)`, jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("checking revocation of %s: %w", jti, err)
	}
	return revoked, nil
}
