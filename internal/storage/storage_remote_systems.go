package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const remoteSystemColumns = "rs.id, rs.type, rs.system_id, rs.name_link, rs.member_group, rs.former_member_group, rs.hmac_key, " + guildColumns

const remoteSystemFrom = " FROM remote_systems rs JOIN guilds g ON g.id = rs.guild_id"

func scanRemoteSystem(r rowScanner) (RemoteSystem, error) {
	var rs RemoteSystem
	var former sql.NullString
	err := r.Scan(&rs.ID, &rs.Type, &rs.SystemID, &rs.NameOrLink, &rs.MemberGroup, &former, &rs.HMACKey,
		&rs.Guild.ID, &rs.Guild.Region, &rs.Guild.Server, &rs.Guild.Name)
	if err != nil {
		return RemoteSystem{}, err
	}
	if former.Valid {
		rs.FormerMemberGroup = &former.String
	}
	return rs, nil
}

func (s *Storage) queryRemoteSystems(ctx context.Context, where string, args ...any) ([]RemoteSystem, error) {
	rows, err := s.q(ctx).QueryContext(ctx, "SELECT "+remoteSystemColumns+remoteSystemFrom+where+" ORDER BY rs.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote systems: %w", err)
	}
	defer rows.Close()

	var out []RemoteSystem
	for rows.Next() {
		rs, err := scanRemoteSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote system: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (s *Storage) RemoteSystems(ctx context.Context) ([]RemoteSystem, error) {
	return s.queryRemoteSystems(ctx, "")
}

func (s *Storage) RemoteSystemsByGuild(ctx context.Context, guildID int64) ([]RemoteSystem, error) {
	return s.queryRemoteSystems(ctx, " WHERE rs.guild_id = ?", guildID)
}

func (s *Storage) RemoteSystemByID(ctx context.Context, id int64) (*RemoteSystem, error) {
	rs, err := scanRemoteSystem(s.q(ctx).QueryRowContext(ctx,
		"SELECT "+remoteSystemColumns+remoteSystemFrom+" WHERE rs.id = ?", id))
	if err != nil {
		return nil, notFound(err, "remote system %d", id)
	}
	return &rs, nil
}

// RemoteSystemByTypeAndSystemID finds e.g. the Discord remote system of a Discord guild id.
func (s *Storage) RemoteSystemByTypeAndSystemID(ctx context.Context, typ RemoteSystemType, systemID int64) (*RemoteSystem, error) {
	rs, err := scanRemoteSystem(s.q(ctx).QueryRowContext(ctx,
		"SELECT "+remoteSystemColumns+remoteSystemFrom+" WHERE rs.type = ? AND rs.system_id = ? ORDER BY rs.id LIMIT 1",
		typ, systemID))
	if err != nil {
		return nil, notFound(err, "%s remote system %d", typ, systemID)
	}
	return &rs, nil
}

func (s *Storage) HMACKeyByID(ctx context.Context, id int64) (string, error) {
	var key string
	if err := s.q(ctx).QueryRowContext(ctx, "SELECT hmac_key FROM remote_systems WHERE id = ?", id).Scan(&key); err != nil {
		return "", notFound(err, "remote system %d", id)
	}
	return key, nil
}

func (s *Storage) SaveRemoteSystem(ctx context.Context, rs *RemoteSystem) error {
	var former any
	if rs.FormerMemberGroup != nil {
		former = *rs.FormerMemberGroup
	}
	if rs.ID == 0 {
		res, err := s.q(ctx).ExecContext(ctx,
			"INSERT INTO remote_systems (guild_id, type, system_id, name_link, member_group, former_member_group, hmac_key) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?)",
			rs.Guild.ID, rs.Type, rs.SystemID, rs.NameOrLink, rs.MemberGroup, former, rs.HMACKey)
		if err != nil {
			return fmt.Errorf("failed to insert remote system %s#%d: %w", rs.Type, rs.SystemID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read remote system id: %w", err)
		}
		rs.ID = id
		return nil
	}
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE remote_systems SET guild_id = ?, type = ?, system_id = ?, name_link = ?, member_group = ?, "+
			"former_member_group = ?, hmac_key = ? WHERE id = ?",
		rs.Guild.ID, rs.Type, rs.SystemID, rs.NameOrLink, rs.MemberGroup, former, rs.HMACKey, rs.ID)
	if err != nil {
		return fmt.Errorf("failed to update remote system %d: %w", rs.ID, err)
	}
	return nil
}

func (s *Storage) RankToGroups(ctx context.Context, remoteSystemID int64) ([]RankToGroup, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT remote_system_id, guild_rank_from, guild_rank_to, group_name FROM remote_system_rank_to_group "+
			"WHERE remote_system_id = ? ORDER BY guild_rank_from, guild_rank_to, group_name", remoteSystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank mapping: %w", err)
	}
	defer rows.Close()

	var out []RankToGroup
	for rows.Next() {
		var r RankToGroup
		if err := rows.Scan(&r.RemoteSystemID, &r.From, &r.To, &r.Group); err != nil {
			return nil, fmt.Errorf("failed to scan rank mapping: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceRankToGroups swaps the whole rank mapping of a remote system.
func (s *Storage) ReplaceRankToGroups(ctx context.Context, remoteSystemID int64, mapping []RankToGroup) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx,
			"DELETE FROM remote_system_rank_to_group WHERE remote_system_id = ?", remoteSystemID); err != nil {
			return fmt.Errorf("failed to clear rank mapping: %w", err)
		}
		for _, r := range mapping {
			if _, err := s.q(ctx).ExecContext(ctx,
				"INSERT INTO remote_system_rank_to_group (remote_system_id, guild_rank_from, guild_rank_to, group_name) VALUES (?, ?, ?, ?)",
				remoteSystemID, r.From, r.To, r.Group); err != nil {
				return fmt.Errorf("failed to insert rank mapping %d-%d %s: %w", r.From, r.To, r.Group, err)
			}
		}
		return nil
	})
}

func (s *Storage) DiscordSettings(ctx context.Context, remoteSystemID int64) (*DiscordSettings, error) {
	var ds DiscordSettings
	var reaction sql.NullInt64
	err := s.q(ctx).QueryRowContext(ctx,
		"SELECT remote_system_id, reaction_message_id, delete_user_after_inactive_days FROM discord_settings WHERE remote_system_id = ?",
		remoteSystemID).Scan(&ds.RemoteSystemID, &reaction, &ds.DeleteUserAfterInactiveDays)
	if err != nil {
		return nil, notFound(err, "discord settings for remote system %d", remoteSystemID)
	}
	if reaction.Valid {
		ds.ReactionMessageID = &reaction.Int64
	}
	return &ds, nil
}

func (s *Storage) SaveDiscordSettings(ctx context.Context, ds *DiscordSettings) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		res, err := s.q(ctx).ExecContext(ctx,
			"UPDATE discord_settings SET reaction_message_id = ?, delete_user_after_inactive_days = ? WHERE remote_system_id = ?",
			nullable(ds.ReactionMessageID), ds.DeleteUserAfterInactiveDays, ds.RemoteSystemID)
		if err != nil {
			return fmt.Errorf("failed to update discord settings: %w", err)
		}
		if rowsAffected(res) > 0 {
			return nil
		}
		exists, err := s.exists(ctx, "SELECT 1 FROM discord_settings WHERE remote_system_id = ?", ds.RemoteSystemID)
		if err != nil || exists {
			return err
		}
		if _, err := s.q(ctx).ExecContext(ctx,
			"INSERT INTO discord_settings (remote_system_id, reaction_message_id, delete_user_after_inactive_days) VALUES (?, ?, ?)",
			ds.RemoteSystemID, nullable(ds.ReactionMessageID), ds.DeleteUserAfterInactiveDays); err != nil {
			return fmt.Errorf("failed to insert discord settings: %w", err)
		}
		return nil
	})
}

// exists is needed because MySQL reports zero affected rows for unchanged updates.
func (s *Storage) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.q(ctx).QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}
