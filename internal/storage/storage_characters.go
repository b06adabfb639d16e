package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const characterColumns = "c.id, c.bnet_id, c.region, c.server, c.name, c.guild_rank, c.account_id, c.guild_id, c.last_update"

func scanCharacter(r rowScanner, extra ...any) (Character, error) {
	var c Character
	var accountID, guildID sql.NullInt64
	var lastUpdate int64
	dest := append([]any{&c.ID, &c.BnetID, &c.Region, &c.Server, &c.Name, &c.Rank, &accountID, &guildID, &lastUpdate}, extra...)
	if err := r.Scan(dest...); err != nil {
		return Character{}, err
	}
	if accountID.Valid {
		c.AccountID = &accountID.Int64
	}
	if guildID.Valid {
		c.GuildID = &guildID.Int64
	}
	c.LastUpdate = fromUnix(lastUpdate)
	return c, nil
}

func (s *Storage) queryCharacters(ctx context.Context, query string, args ...any) ([]Character, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (s *Storage) CharacterByID(ctx context.Context, id int64) (*Character, error) {
	row := s.q(ctx).QueryRowContext(ctx, "SELECT "+characterColumns+" FROM characters c WHERE c.id = ?", id)
	c, err := scanCharacter(row)
	if err != nil {
		return nil, notFound(err, "character %d", id)
	}
	return &c, nil
}

func (s *Storage) CharactersByBnetIDs(ctx context.Context, region string, bnetIDs []int64) ([]Character, error) {
	if len(bnetIDs) == 0 {
		return nil, nil
	}
	args := append([]any{region}, int64Args(bnetIDs)...)
	return s.queryCharacters(ctx,
		"SELECT "+characterColumns+" FROM characters c WHERE c.region = ? AND c.bnet_id IN "+placeholders(len(bnetIDs)),
		args...)
}

func (s *Storage) CharactersByAccountAndGuild(ctx context.Context, accountID, guildID int64) ([]Character, error) {
	return s.queryCharacters(ctx,
		"SELECT "+characterColumns+" FROM characters c WHERE c.account_id = ? AND c.guild_id = ? ORDER BY c.id",
		accountID, guildID)
}

// CharactersByGuildAndRemoteID returns the guild characters of the account
// linked to remoteID on the remote system.
func (s *Storage) CharactersByGuildAndRemoteID(ctx context.Context, guildID, remoteSystemID, remoteID int64) ([]Character, error) {
	return s.queryCharacters(ctx,
		"SELECT "+characterColumns+" FROM characters c "+
			"JOIN account_remote_ids ari ON ari.account_id = c.account_id "+
			"WHERE c.guild_id = ? AND ari.remote_system_id = ? AND ari.remote_id = ? ORDER BY c.id",
		guildID, remoteSystemID, remoteID)
}

// SaveCharacter inserts a new character (ID 0) or updates an existing one.
func (s *Storage) SaveCharacter(ctx context.Context, c *Character) error {
	if c.ID == 0 {
		res, err := s.q(ctx).ExecContext(ctx,
			"INSERT INTO characters (bnet_id, region, server, name, guild_rank, account_id, guild_id, last_update) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			c.BnetID, c.Region, c.Server, c.Name, c.Rank, nullable(c.AccountID), nullable(c.GuildID), unix(c.LastUpdate))
		if err != nil {
			return fmt.Errorf("failed to insert character %s-%d: %w", c.Region, c.BnetID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read character id: %w", err)
		}
		c.ID = id
		return nil
	}

	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE characters SET server = ?, name = ?, guild_rank = ?, account_id = ?, guild_id = ?, last_update = ? WHERE id = ?",
		c.Server, c.Name, c.Rank, nullable(c.AccountID), nullable(c.GuildID), unix(c.LastUpdate), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update character %d: %w", c.ID, err)
	}
	return nil
}

// TouchCharacters sets last_update for the given characters of a region.
func (s *Storage) TouchCharacters(ctx context.Context, region string, bnetIDs []int64, now time.Time) error {
	if len(bnetIDs) == 0 {
		return nil
	}
	args := append([]any{unix(now), region}, int64Args(bnetIDs)...)
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE characters SET last_update = ? WHERE region = ? AND bnet_id IN "+placeholders(len(bnetIDs)), args...)
	if err != nil {
		return fmt.Errorf("failed to touch characters: %w", err)
	}
	return nil
}

// RemoveGuildReferenceWhereBnetIDNotIn detaches guild members that are no
// longer in keep. An empty keep detaches all of them.
func (s *Storage) RemoveGuildReferenceWhereBnetIDNotIn(ctx context.Context, region string, guildID int64, keep []int64) (int64, error) {
	query := "UPDATE characters SET guild_id = NULL WHERE region = ? AND guild_id = ?"
	args := []any{region, guildID}
	if len(keep) > 0 {
		query += " AND bnet_id NOT IN " + placeholders(len(keep))
		args = append(args, int64Args(keep)...)
	}
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to remove guild reference: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *Storage) DeleteCharactersByAccounts(ctx context.Context, accounts []Account) (int64, error) {
	if len(accounts) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	res, err := s.q(ctx).ExecContext(ctx,
		"DELETE FROM characters WHERE account_id IN "+placeholders(len(ids)), int64Args(ids)...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete characters by account: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *Storage) DeleteCharactersWithoutGuildAndAccount(ctx context.Context) (int64, error) {
	res, err := s.q(ctx).ExecContext(ctx, "DELETE FROM characters WHERE guild_id IS NULL AND account_id IS NULL")
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned characters: %w", err)
	}
	return rowsAffected(res), nil
}

// DeleteCharactersWithAccountWithoutGuildLastUpdateBefore removes characters
// that left their guild and were not seen on their account since t.
func (s *Storage) DeleteCharactersWithAccountWithoutGuildLastUpdateBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		"DELETE FROM characters WHERE guild_id IS NULL AND account_id IS NOT NULL AND last_update < ?", unix(t))
	if err != nil {
		return 0, fmt.Errorf("failed to delete characters without guild: %w", err)
	}
	return rowsAffected(res), nil
}
