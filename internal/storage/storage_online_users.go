package storage

import (
	"context"
	"fmt"
	"time"
)

// UpdateLastOnline records now as the last online time of the members.
func (s *Storage) UpdateLastOnline(ctx context.Context, guildID int64, memberIDs []int64, now time.Time) error {
	if len(memberIDs) == 0 {
		return nil
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		args := append([]any{guildID}, int64Args(memberIDs)...)
		rows, err := s.q(ctx).QueryContext(ctx,
			"SELECT member_id FROM discord_online_users WHERE guild_id = ? AND member_id IN "+placeholders(len(memberIDs)),
			args...)
		if err != nil {
			return fmt.Errorf("failed to query online users: %w", err)
		}
		existing := make(map[int64]bool)
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan online user: %w", err)
			}
			existing[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if len(existing) > 0 {
			args := append([]any{unix(now), guildID}, int64Args(memberIDs)...)
			if _, err := s.q(ctx).ExecContext(ctx,
				"UPDATE discord_online_users SET last_online = ? WHERE guild_id = ? AND member_id IN "+placeholders(len(memberIDs)),
				args...); err != nil {
				return fmt.Errorf("failed to update online users: %w", err)
			}
		}

		for _, id := range memberIDs {
			if existing[id] {
				continue
			}
			existing[id] = true
			if _, err := s.q(ctx).ExecContext(ctx,
				"INSERT INTO discord_online_users (guild_id, member_id, last_online) VALUES (?, ?, ?)",
				guildID, id, unix(now)); err != nil {
				return fmt.Errorf("failed to insert online user %d: %w", id, err)
			}
		}
		return nil
	})
}

// OnlineUsersLastOnlineBefore returns members last seen at or before t.
func (s *Storage) OnlineUsersLastOnlineBefore(ctx context.Context, guildID int64, t time.Time) ([]OnlineUser, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT guild_id, member_id, last_online FROM discord_online_users WHERE guild_id = ? AND last_online <= ? ORDER BY member_id",
		guildID, unix(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query online users: %w", err)
	}
	defer rows.Close()

	var out []OnlineUser
	for rows.Next() {
		var u OnlineUser
		var last int64
		if err := rows.Scan(&u.GuildID, &u.MemberID, &last); err != nil {
			return nil, fmt.Errorf("failed to scan online user: %w", err)
		}
		u.LastOnline = fromUnix(last)
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteOnlineUsers forgets kicked members.
func (s *Storage) DeleteOnlineUsers(ctx context.Context, guildID int64, memberIDs []int64) error {
	if len(memberIDs) == 0 {
		return nil
	}
	args := append([]any{guildID}, int64Args(memberIDs)...)
	if _, err := s.q(ctx).ExecContext(ctx,
		"DELETE FROM discord_online_users WHERE guild_id = ? AND member_id IN "+placeholders(len(memberIDs)), args...); err != nil {
		return fmt.Errorf("failed to delete online users: %w", err)
	}
	return nil
}
