package bnet

import (
	"context"
	"net/url"

	"golang.org/x/oauth2"
)

type Profile struct {
	ID        int64  `json:"id"`
	BattleTag string `json:"battletag"`
}

// WowCharacter is a character from a profile or a guild roster. GuildRank
// is only set for roster entries.
type WowCharacter struct {
	ID        int64
	Name      string
	RealmSlug string
	GuildRank *int
}

type characterJSON struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Realm struct {
		Slug string `json:"slug"`
	} `json:"realm"`
}

func (c characterJSON) toCharacter(rank *int) WowCharacter {
	return WowCharacter{ID: c.ID, Name: c.Name, RealmSlug: c.Realm.Slug, GuildRank: rank}
}

func profileQuery(region Region) url.Values {
	return url.Values{
		"namespace": {region.profileNamespace()},
		"locale":    {region.Locale()},
	}
}

// GuildMembers fetches the roster of a guild with the application token.
func (c *Clients) GuildMembers(ctx context.Context, region Region, realm, guild string) ([]WowCharacter, error) {
	var roster struct {
		Members []struct {
			Character characterJSON `json:"character"`
			Rank      int           `json:"rank"`
		} `json:"members"`
	}
	path := "/data/wow/guild/" + url.PathEscape(Slug(realm)) + "/" + url.PathEscape(Slug(guild)) + "/roster"
	if err := c.get(ctx, "guild_roster", c.app, c.apiURL(region, path), profileQuery(region), &roster); err != nil {
		return nil, err
	}

	out := make([]WowCharacter, 0, len(roster.Members))
	for _, m := range roster.Members {
		rank := m.Rank
		out = append(out, m.Character.toCharacter(&rank))
	}
	return out, nil
}

// ProfileInfo returns the account id and battletag of the token owner.
func (c *Clients) ProfileInfo(ctx context.Context, user *UserClient) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "userinfo", oauth2.StaticTokenSource(user.Token), c.opts.OAuthURL+"/userinfo", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WowCharacters returns every character of every WoW license of the user.
func (c *Clients) WowCharacters(ctx context.Context, user *UserClient) ([]WowCharacter, error) {
	var profile struct {
		WowAccounts []struct {
			Characters []characterJSON `json:"characters"`
		} `json:"wow_accounts"`
	}
	if err := c.get(ctx, "wow_profile", oauth2.StaticTokenSource(user.Token), c.apiURL(user.Region, "/profile/user/wow"), profileQuery(user.Region), &profile); err != nil {
		return nil, err
	}

	var out []WowCharacter
	for _, acc := range profile.WowAccounts {
		for _, ch := range acc.Characters {
			out = append(out, ch.toCharacter(nil))
		}
	}
	return out, nil
}
