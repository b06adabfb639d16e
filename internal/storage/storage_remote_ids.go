package storage

import (
	"context"
	"fmt"
)

func (s *Storage) AccountRemoteID(ctx context.Context, accountID, remoteSystemID int64) (*AccountRemoteID, error) {
	var ari AccountRemoteID
	err := s.q(ctx).QueryRowContext(ctx,
		"SELECT account_id, remote_system_id, remote_id FROM account_remote_ids WHERE account_id = ? AND remote_system_id = ?",
		accountID, remoteSystemID).Scan(&ari.AccountID, &ari.RemoteSystemID, &ari.RemoteID)
	if err != nil {
		return nil, notFound(err, "remote id of account %d on remote system %d", accountID, remoteSystemID)
	}
	return &ari, nil
}

// SaveAccountRemoteID links the remote user to the account. A remote user
// previously linked to another account of the same remote system is moved.
func (s *Storage) SaveAccountRemoteID(ctx context.Context, ari AccountRemoteID) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx,
			"DELETE FROM account_remote_ids WHERE remote_system_id = ? AND remote_id = ? AND account_id <> ?",
			ari.RemoteSystemID, ari.RemoteID, ari.AccountID); err != nil {
			return fmt.Errorf("failed to release remote id %d: %w", ari.RemoteID, err)
		}

		exists, err := s.exists(ctx,
			"SELECT 1 FROM account_remote_ids WHERE account_id = ? AND remote_system_id = ?", ari.AccountID, ari.RemoteSystemID)
		if err != nil {
			return err
		}
		if exists {
			_, err = s.q(ctx).ExecContext(ctx,
				"UPDATE account_remote_ids SET remote_id = ? WHERE account_id = ? AND remote_system_id = ?",
				ari.RemoteID, ari.AccountID, ari.RemoteSystemID)
		} else {
			_, err = s.q(ctx).ExecContext(ctx,
				"INSERT INTO account_remote_ids (account_id, remote_system_id, remote_id) VALUES (?, ?, ?)",
				ari.AccountID, ari.RemoteSystemID, ari.RemoteID)
		}
		if err != nil {
			return fmt.Errorf("failed to save remote id %d for account %d: %w", ari.RemoteID, ari.AccountID, err)
		}
		return nil
	})
}

// RemoteIDsWithCharacters maps every linked remote user of the remote system
// to its characters in the guild.
func (s *Storage) RemoteIDsWithCharacters(ctx context.Context, guildID, remoteSystemID int64) (map[int64][]Character, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT "+characterColumns+", ari.remote_id FROM characters c "+
			"JOIN account_remote_ids ari ON ari.account_id = c.account_id "+
			"WHERE c.guild_id = ? AND ari.remote_system_id = ? ORDER BY c.id",
		guildID, remoteSystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote ids: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Character)
	for rows.Next() {
		var remoteID int64
		c, err := scanCharacter(rows, &remoteID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote id character: %w", err)
		}
		out[remoteID] = append(out[remoteID], c)
	}
	return out, rows.Err()
}
