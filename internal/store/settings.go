package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/erazemk/shramba/internal/db"
)

// Setting keys.
const (
	SettingTokenSecret = "token_secret"
	// SettingLastReindex holds the RFC 3339 time of the last full embedding
	// backfill.
	SettingLastReindex = "last_reindex_at"
)

// Setting returns the value stored under key and whether the key is set.
func Setting(ctx context.Context, q db.Querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// PutSetting stores value under key, replacing what was there.
func PutSetting(ctx context.Context, q db.Querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// ensureSetting stores value under key unless the key is already set and
// returns the stored value. Two callers racing on an unset key both get the
// winner's value.
func ensureSetting(ctx context.Context, q db.Querier, key, value string) (string, error) {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return "", fmt.Errorf("writing setting %s: %w", key, err)
	}
	stored, ok, err := Setting(ctx, q, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("setting %s vanished after insert", key)
	}
	return stored, nil
}

// GetTokenSecret returns the hex secret that signs service tokens, creating a
// random 256-bit one on first use.
func GetTokenSecret(ctx context.Context, q db.Querier) (string, error) {
	secret, ok, err := Setting(ctx, q, SettingTokenSecret)
	if err != nil || ok {
		return secret, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token secret: %w", err)
	}
	return ensureSetting(ctx, q, SettingTokenSecret, hex.EncodeToString(buf))
}
