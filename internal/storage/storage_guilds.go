package storage

import (
	"context"
	"fmt"
)

const guildColumns = "g.id, g.region, g.server, g.name"

func scanGuild(r rowScanner) (Guild, error) {
	var g Guild
	err := r.Scan(&g.ID, &g.Region, &g.Server, &g.Name)
	return g, err
}

func (s *Storage) GuildByID(ctx context.Context, id int64) (*Guild, error) {
	g, err := scanGuild(s.q(ctx).QueryRowContext(ctx, "SELECT "+guildColumns+" FROM guilds g WHERE g.id = ?", id))
	if err != nil {
		return nil, notFound(err, "guild %d", id)
	}
	return &g, nil
}

func (s *Storage) GuildByName(ctx context.Context, region, server, name string) (*Guild, error) {
	g, err := scanGuild(s.q(ctx).QueryRowContext(ctx,
		"SELECT "+guildColumns+" FROM guilds g WHERE g.region = ? AND g.server = ? AND g.name = ?", region, server, name))
	if err != nil {
		return nil, notFound(err, "guild %s/%s/%s", region, server, name)
	}
	return &g, nil
}

func (s *Storage) GuildByRemoteSystem(ctx context.Context, remoteSystemID int64) (*Guild, error) {
	g, err := scanGuild(s.q(ctx).QueryRowContext(ctx,
		"SELECT "+guildColumns+" FROM guilds g JOIN remote_systems rs ON rs.guild_id = g.id WHERE rs.id = ?", remoteSystemID))
	if err != nil {
		return nil, notFound(err, "guild of remote system %d", remoteSystemID)
	}
	return &g, nil
}

func (s *Storage) GuildsByRegion(ctx context.Context, region string) ([]Guild, error) {
	rows, err := s.q(ctx).QueryContext(ctx, "SELECT "+guildColumns+" FROM guilds g WHERE g.region = ? ORDER BY g.id", region)
	if err != nil {
		return nil, fmt.Errorf("failed to query guilds: %w", err)
	}
	defer rows.Close()

	var out []Guild
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guild: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Storage) SaveGuild(ctx context.Context, g *Guild) error {
	if g.ID == 0 {
		res, err := s.q(ctx).ExecContext(ctx,
			"INSERT INTO guilds (region, server, name) VALUES (?, ?, ?)", g.Region, g.Server, g.Name)
		if err != nil {
			return fmt.Errorf("failed to insert guild %s/%s/%s: %w", g.Region, g.Server, g.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read guild id: %w", err)
		}
		g.ID = id
		return nil
	}
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE guilds SET region = ?, server = ?, name = ? WHERE id = ?", g.Region, g.Server, g.Name, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update guild %d: %w", g.ID, err)
	}
	return nil
}
