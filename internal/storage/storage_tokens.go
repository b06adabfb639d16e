package storage

import (
	"context"
	"fmt"
	"time"
)

func (s *Storage) SaveUserToken(ctx context.Context, t UserToken) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		exists, err := s.exists(ctx, "SELECT 1 FROM bnet_tokens WHERE region = ? AND bnet_id = ?", t.Region, t.BnetID)
		if err != nil {
			return err
		}
		if exists {
			_, err = s.q(ctx).ExecContext(ctx,
				"UPDATE bnet_tokens SET access_token = ?, token_type = ?, expiry = ?, scope = ? WHERE region = ? AND bnet_id = ?",
				t.AccessToken, t.TokenType, unix(t.Expiry), t.Scope, t.Region, t.BnetID)
		} else {
			_, err = s.q(ctx).ExecContext(ctx,
				"INSERT INTO bnet_tokens (region, bnet_id, access_token, token_type, expiry, scope) VALUES (?, ?, ?, ?, ?, ?)",
				t.Region, t.BnetID, t.AccessToken, t.TokenType, unix(t.Expiry), t.Scope)
		}
		if err != nil {
			return fmt.Errorf("failed to save token for %s-%d: %w", t.Region, t.BnetID, err)
		}
		return nil
	})
}

func (s *Storage) UserTokens(ctx context.Context, region string) ([]UserToken, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT region, bnet_id, access_token, token_type, expiry, scope FROM bnet_tokens WHERE region = ? ORDER BY bnet_id", region)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var out []UserToken
	for rows.Next() {
		var t UserToken
		var expiry int64
		if err := rows.Scan(&t.Region, &t.BnetID, &t.AccessToken, &t.TokenType, &expiry, &t.Scope); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		t.Expiry = fromUnix(expiry)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Storage) DeleteExpiredUserTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q(ctx).ExecContext(ctx, "DELETE FROM bnet_tokens WHERE expiry <= ?", unix(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return rowsAffected(res), nil
}
