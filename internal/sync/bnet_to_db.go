// Package sync moves guild data from Battle.net into the database and
// from the database into the roles of the remote systems.
package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/oauth2"

	"wowsync/internal/bnet"
	"wowsync/internal/storage"
	"wowsync/pkg/util"
)

// BattleNet is the part of the Battle.net client the sync needs.
type BattleNet interface {
	GuildMembers(ctx context.Context, region bnet.Region, realm, guild string) ([]bnet.WowCharacter, error)
	ProfileInfo(ctx context.Context, user *bnet.UserClient) (*bnet.Profile, error)
	WowCharacters(ctx context.Context, user *bnet.UserClient) ([]bnet.WowCharacter, error)
}

type BnetToDBConfig struct {
	KeepNewAccounts time.Duration
	KeepCharacters  time.Duration
	// Workers bounds the roster requests running at the same time.
	Workers int
	Clock   clock.Clock
}

// BnetToDB writes accounts and characters fetched from Battle.net.
type BnetToDB struct {
	store *storage.Storage
	bnet  BattleNet
	cfg   BnetToDBConfig
}

func NewBnetToDB(store *storage.Storage, bn BattleNet, cfg BnetToDBConfig) *BnetToDB {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &BnetToDB{store: store, bnet: bn, cfg: cfg}
}

type userData struct {
	region  bnet.Region
	profile *bnet.Profile
	chars   []bnet.WowCharacter
}

type rosterJob struct {
	guild   storage.Guild
	members []bnet.WowCharacter
	err     error
}

// UpdateAndDeleteAccounts refreshes accounts from the stored user tokens
// and from the guild rosters, then removes what is no longer needed. All
// writes happen in one transaction.
func (b *BnetToDB) UpdateAndDeleteAccounts(ctx context.Context) error {
	users := b.fetchUsers(ctx)
	rosters, err := b.fetchRosters(ctx)
	if err != nil {
		return err
	}

	return b.store.InTx(ctx, func(ctx context.Context) error {
		for _, u := range users {
			account, err := b.InsertOrUpdateAccount(ctx, u.profile)
			if err != nil {
				return err
			}
			if _, err := b.UpdateCharacters(ctx, u.region, account, nil, u.chars); err != nil {
				return err
			}
		}

		for _, job := range rosters {
			if job.err != nil {
				continue
			}
			g := job.guild
			ids, err := b.UpdateCharacters(ctx, bnet.Region(g.Region), nil, &g, job.members)
			if err != nil {
				return err
			}
			removed, err := b.store.RemoveGuildReferenceWhereBnetIDNotIn(ctx, g.Region, g.ID, ids)
			if err != nil {
				return err
			}
			log.Printf("[DEBUG] Removed %d characters from guild %s-%s-%s", removed, g.Region, g.Server, g.Name)
		}

		if err := b.RemoveUnusedAccounts(ctx); err != nil {
			return err
		}
		return b.RemoveUnusedCharacters(ctx)
	})
}

// fetchUsers loads profile and characters for every valid stored token.
// Failures are logged per token.
func (b *BnetToDB) fetchUsers(ctx context.Context) []userData {
	now := b.cfg.Clock.Now()
	var out []userData
	for _, region := range bnet.Regions {
		tokens, err := b.store.UserTokens(ctx, string(region))
		if err != nil {
			log.Printf("[ERR] Failed to load tokens for region %s: %v", region, err)
			continue
		}
		log.Printf("[DEBUG] Update accounts region %s: %d tokens", region, len(tokens))

		for _, t := range tokens {
			if !t.Expiry.After(now) {
				continue
			}
			user := &bnet.UserClient{
				Region: region,
				Token:  &oauth2.Token{AccessToken: t.AccessToken, TokenType: t.TokenType, Expiry: t.Expiry},
			}
			profile, err := b.bnet.ProfileInfo(ctx, user)
			if err != nil {
				log.Printf("[ERR] Failed to fetch profile in region %s for account %d: %v", region, t.BnetID, err)
				continue
			}
			chars, err := b.bnet.WowCharacters(ctx, user)
			if err != nil {
				log.Printf("[ERR] Failed to fetch characters in region %s for account %d: %v", region, t.BnetID, err)
				continue
			}
			out = append(out, userData{region: region, profile: profile, chars: chars})
		}
	}
	return out
}

// fetchRosters requests all guild rosters. A failing guild is logged and
// marked, the others are still returned.
func (b *BnetToDB) fetchRosters(ctx context.Context) ([]*rosterJob, error) {
	var jobs []*rosterJob
	for _, region := range bnet.Regions {
		guilds, err := b.store.GuildsByRegion(ctx, string(region))
		if err != nil {
			return nil, err
		}
		for _, g := range guilds {
			jobs = append(jobs, &rosterJob{guild: g})
		}
	}

	err := util.Parallel(ctx, jobs, b.cfg.Workers, func(ctx context.Context, job *rosterJob) error {
		g := job.guild
		log.Printf("[DEBUG] Request members for %s %s %s", g.Region, g.Server, g.Name)
		job.members, job.err = b.bnet.GuildMembers(ctx, bnet.Region(g.Region), g.Server, g.Name)
		if job.err != nil {
			log.Printf("[ERR] Cant fetch members for %s %s %s: %v", g.Region, g.Server, g.Name, job.err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateCharacters stores the characters of exactly one account or one
// guild and returns their sorted Battle.net ids.
func (b *BnetToDB) UpdateCharacters(ctx context.Context, region bnet.Region, account *storage.Account, guild *storage.Guild, chars []bnet.WowCharacter) ([]int64, error) {
	if (account == nil) == (guild == nil) {
		return nil, errors.NotValidf("character source with account %v and guild %v", account, guild)
	}

	byID := make(map[int64]bnet.WowCharacter, len(chars))
	ids := make([]int64, 0, len(chars))
	for _, c := range chars {
		if _, dup := byID[c.ID]; !dup {
			ids = append(ids, c.ID)
		}
		byID[c.ID] = c
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := b.cfg.Clock.Now()
	err := b.store.InTx(ctx, func(ctx context.Context) error {
		existing, err := b.store.CharactersByBnetIDs(ctx, string(region), ids)
		if err != nil {
			return err
		}

		seen := make(map[int64]bool, len(existing))
		var unchanged []int64
		for i := range existing {
			c := &existing[i]
			seen[c.BnetID] = true
			src := byID[c.BnetID]

			changed := false
			if characterChanged(c, src) {
				c.Server = src.RealmSlug
				c.Name = src.Name
				if src.GuildRank != nil {
					c.Rank = *src.GuildRank
				}
				changed = true
			}
			if account != nil && (c.AccountID == nil || *c.AccountID != account.ID) {
				c.AccountID = &account.ID
				changed = true
			}
			if guild != nil && (c.GuildID == nil || *c.GuildID != guild.ID) {
				c.GuildID = &guild.ID
				changed = true
			}

			if !changed {
				unchanged = append(unchanged, c.BnetID)
				continue
			}
			c.LastUpdate = now
			if err := b.store.SaveCharacter(ctx, c); err != nil {
				return err
			}
		}

		for _, id := range ids {
			if seen[id] {
				continue
			}
			src := byID[id]
			c := storage.Character{
				BnetID:     src.ID,
				Region:     string(region),
				Server:     src.RealmSlug,
				Name:       src.Name,
				LastUpdate: now,
			}
			if src.GuildRank != nil {
				c.Rank = *src.GuildRank
			}
			if account != nil {
				c.AccountID = &account.ID
			}
			if guild != nil {
				c.GuildID = &guild.ID
			}
			if err := b.store.SaveCharacter(ctx, &c); err != nil {
				return err
			}
		}

		return b.store.TouchCharacters(ctx, string(region), unchanged, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update characters: %w", err)
	}
	return ids, nil
}

func characterChanged(c *storage.Character, src bnet.WowCharacter) bool {
	if src.GuildRank != nil && c.Rank != *src.GuildRank {
		return true
	}
	return c.Server != src.RealmSlug || c.Name != src.Name
}

// RemoveUnusedAccounts deletes accounts older than the keep period that
// have no character in any guild, then characters without guild and
// account.
func (b *BnetToDB) RemoveUnusedAccounts(ctx context.Context) error {
	cutoff := b.cfg.Clock.Now().Add(-b.cfg.KeepNewAccounts)
	return b.store.InTx(ctx, func(ctx context.Context) error {
		accounts, err := b.store.AccountsWithoutGuildCharacterAddedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		deletedChars, err := b.store.DeleteCharactersByAccounts(ctx, accounts)
		if err != nil {
			return err
		}
		deletedAccounts, err := b.store.DeleteAccounts(ctx, accounts)
		if err != nil {
			return err
		}
		orphans, err := b.store.DeleteCharactersWithoutGuildAndAccount(ctx)
		if err != nil {
			return err
		}
		log.Printf("[DEBUG] Removed %d accounts with %d characters and %d characters without guild and account",
			deletedAccounts, deletedChars, orphans)
		return nil
	})
}

// RemoveUnusedCharacters deletes characters with an account but without
// guild that were not updated within the keep period.
func (b *BnetToDB) RemoveUnusedCharacters(ctx context.Context) error {
	cutoff := b.cfg.Clock.Now().Add(-b.cfg.KeepCharacters)
	deleted, err := b.store.DeleteCharactersWithAccountWithoutGuildLastUpdateBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	log.Printf("[DEBUG] Removed %d characters with account but without guild", deleted)
	return nil
}

// InsertOrUpdateAccount creates the account of a profile or refreshes
// its battletag.
func (b *BnetToDB) InsertOrUpdateAccount(ctx context.Context, profile *bnet.Profile) (*storage.Account, error) {
	now := b.cfg.Clock.Now()
	account, err := b.store.AccountByBnetID(ctx, profile.ID)
	switch {
	case errors.Is(err, errors.NotFound):
		account = &storage.Account{BnetID: profile.ID, Added: now}
	case err != nil:
		return nil, err
	}
	account.BnetTag = profile.BattleTag
	account.LastUpdate = now
	if err := b.store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// InsertOrUpdateAccountRemoteID links the remote user to the account.
func (b *BnetToDB) InsertOrUpdateAccountRemoteID(ctx context.Context, account *storage.Account, rs storage.RemoteSystem, remoteUserID int64) error {
	current, err := b.store.AccountRemoteID(ctx, account.ID, rs.ID)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return err
	}
	if current != nil && current.RemoteID == remoteUserID {
		return nil
	}
	return b.store.SaveAccountRemoteID(ctx, storage.AccountRemoteID{
		AccountID:      account.ID,
		RemoteSystemID: rs.ID,
		RemoteID:       remoteUserID,
	})
}

// AuthFinished stores the account behind a fresh user token and links it
// to the remote user. Forum systems return the link to redirect to.
func (b *BnetToDB) AuthFinished(ctx context.Context, rs storage.RemoteSystem, remoteUserID int64, user *bnet.UserClient) (string, error) {
	if !user.Valid() {
		log.Printf("[ERR] Just requested access token is invalid. Remote system %d for remote user %d", rs.ID, remoteUserID)
		return "", fmt.Errorf("just requested access token is invalid")
	}
	if string(user.Region) != rs.Guild.Region {
		log.Printf("[ERR] Invalid region %s for guild %d in region %s, cant finish auth for user %d to remote system %d",
			user.Region, rs.Guild.ID, rs.Guild.Region, remoteUserID, rs.ID)
		return "", errors.BadRequestf("got access for region %s but guild is in region %s", user.Region, rs.Guild.Region)
	}

	profile, err := b.bnet.ProfileInfo(ctx, user)
	if err != nil {
		return "", fmt.Errorf("failed to fetch profile: %w", err)
	}
	chars, err := b.bnet.WowCharacters(ctx, user)
	if err != nil {
		return "", fmt.Errorf("failed to fetch characters: %w", err)
	}

	err = b.store.InTx(ctx, func(ctx context.Context) error {
		account, err := b.InsertOrUpdateAccount(ctx, profile)
		if err != nil {
			return err
		}
		if err := b.InsertOrUpdateAccountRemoteID(ctx, account, rs, remoteUserID); err != nil {
			return err
		}
		if err := b.store.SaveUserToken(ctx, storage.UserToken{
			Region:      string(user.Region),
			BnetID:      profile.ID,
			AccessToken: user.Token.AccessToken,
			TokenType:   user.Token.TokenType,
			Expiry:      user.Token.Expiry,
			Scope:       user.Scope(),
		}); err != nil {
			return err
		}
		_, err = b.UpdateCharacters(ctx, user.Region, account, nil, chars)
		return err
	})
	if err != nil {
		return "", err
	}

	if rs.Type == storage.RemoteSystemForum {
		return rs.NameOrLink, nil
	}
	return "", nil
}
