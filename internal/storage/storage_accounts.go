package storage

import (
	"context"
	"fmt"
	"time"
)

const accountColumns = "id, bnet_id, bnet_tag, added, last_update"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (Account, error) {
	var a Account
	var added, lastUpdate int64
	if err := r.Scan(&a.ID, &a.BnetID, &a.BnetTag, &added, &lastUpdate); err != nil {
		return Account{}, err
	}
	a.Added = fromUnix(added)
	a.LastUpdate = fromUnix(lastUpdate)
	return a, nil
}

// AccountByBnetID returns a NotFound error when no account has the id.
func (s *Storage) AccountByBnetID(ctx context.Context, bnetID int64) (*Account, error) {
	row := s.q(ctx).QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE bnet_id = ?", bnetID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account with bnet id %d", bnetID)
	}
	return &a, nil
}

// SaveAccount inserts a new account (ID 0) or updates tag and last update.
func (s *Storage) SaveAccount(ctx context.Context, a *Account) error {
	if a.ID == 0 {
		res, err := s.q(ctx).ExecContext(ctx,
			"INSERT INTO accounts (bnet_id, bnet_tag, added, last_update) VALUES (?, ?, ?, ?)",
			a.BnetID, a.BnetTag, unix(a.Added), unix(a.LastUpdate))
		if err != nil {
			return fmt.Errorf("failed to insert account %d: %w", a.BnetID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read account id: %w", err)
		}
		a.ID = id
		return nil
	}

	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE accounts SET bnet_tag = ?, last_update = ? WHERE id = ?",
		a.BnetTag, unix(a.LastUpdate), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update account %d: %w", a.ID, err)
	}
	return nil
}

// AccountsWithoutGuildCharacterAddedBefore lists accounts added before t
// that own no character in any guild.
func (s *Storage) AccountsWithoutGuildCharacterAddedBefore(ctx context.Context, t time.Time) ([]Account, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE added < ? AND id NOT IN "+
			"(SELECT c.account_id FROM characters c WHERE c.guild_id IS NOT NULL AND c.account_id IS NOT NULL)",
		unix(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query unused accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAccounts removes the accounts, their remote ids and their stored tokens.
// Characters must be removed first.
func (s *Storage) DeleteAccounts(ctx context.Context, accounts []Account) (int64, error) {
	if len(accounts) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(accounts))
	bnetIDs := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
		bnetIDs[i] = a.BnetID
	}

	var deleted int64
	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx,
			"DELETE FROM account_remote_ids WHERE account_id IN "+placeholders(len(ids)), int64Args(ids)...); err != nil {
			return fmt.Errorf("failed to delete remote ids: %w", err)
		}
		if _, err := s.q(ctx).ExecContext(ctx,
			"DELETE FROM bnet_tokens WHERE bnet_id IN "+placeholders(len(bnetIDs)), int64Args(bnetIDs)...); err != nil {
			return fmt.Errorf("failed to delete tokens: %w", err)
		}
		res, err := s.q(ctx).ExecContext(ctx,
			"DELETE FROM accounts WHERE id IN "+placeholders(len(ids)), int64Args(ids)...)
		if err != nil {
			return fmt.Errorf("failed to delete accounts: %w", err)
		}
		deleted = rowsAffected(res)
		return nil
	})
	return deleted, err
}
