// Package provision creates and updates guilds and their remote systems
// from a YAML file.
//
//	guilds:
//	  - region: eu
//	    server: Die Aldor
//	    name: Example Guild
//	    remoteSystems:
//	      - type: Discord
//	        systemId: 123456789012345678
//	        name: https://discord.gg/example
//	        memberGroup: Member
//	        formerMemberGroup: Former Member
//	        ranks:
//	          - {from: 0, to: 2, group: Officer}
//	        discord:
//	          reactionMessageId: 223456789012345678
//	          deleteUserAfterInactiveDays: 60
package provision

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"wowsync/internal/bnet"
	"wowsync/internal/storage"
	"wowsync/pkg/mac"
)

type File struct {
	Guilds []Guild `yaml:"guilds"`
}

type Guild struct {
	Region        string         `yaml:"region"`
	Server        string         `yaml:"server"`
	Name          string         `yaml:"name"`
	RemoteSystems []RemoteSystem `yaml:"remoteSystems"`
}

type RemoteSystem struct {
	Type              storage.RemoteSystemType `yaml:"type"`
	SystemID          int64                    `yaml:"systemId"`
	NameOrLink        string                   `yaml:"name"`
	MemberGroup       string                   `yaml:"memberGroup"`
	FormerMemberGroup *string                  `yaml:"formerMemberGroup"`
	Ranks             []Rank                   `yaml:"ranks"`
	Discord           *Discord                 `yaml:"discord"`
}

type Rank struct {
	From  int    `yaml:"from"`
	To    int    `yaml:"to"`
	Group string `yaml:"group"`
}

type Discord struct {
	ReactionMessageID           *int64 `yaml:"reactionMessageId"`
	DeleteUserAfterInactiveDays int    `yaml:"deleteUserAfterInactiveDays"`
}

// Load reads and validates a provisioning file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewNotValid(err, "provisioning yaml")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the file without touching the database.
func (f *File) Validate() error {
	for i, g := range f.Guilds {
		if _, err := bnet.ParseRegion(g.Region); err != nil {
			return errors.Annotatef(err, "guild %d", i+1)
		}
		if g.Server == "" || g.Name == "" {
			return errors.NotValidf("guild %d without server or name", i+1)
		}
		for j, rs := range g.RemoteSystems {
			where := fmt.Sprintf("guild %s remote system %d", g.Name, j+1)
			if !rs.Type.Valid() {
				return errors.NotValidf("%s: type %q", where, rs.Type)
			}
			if rs.SystemID == 0 {
				return errors.NotValidf("%s: missing systemId", where)
			}
			if rs.MemberGroup == "" {
				return errors.NotValidf("%s: missing memberGroup", where)
			}
			if rs.Discord != nil && rs.Type != storage.RemoteSystemDiscord {
				return errors.NotValidf("%s: discord settings on a %s system", where, rs.Type)
			}
			for _, r := range rs.Ranks {
				if r.From < 0 || r.To < r.From || r.Group == "" {
					return errors.NotValidf("%s: rank mapping %d-%d %q", where, r.From, r.To, r.Group)
				}
			}
		}
	}
	return nil
}

// Result is a provisioned remote system.
type Result struct {
	RemoteSystem storage.RemoteSystem
	Created      bool
}

// Apply upserts everything in f in one transaction. Remote systems are
// matched by type and system id; new ones get a fresh HMAC key, existing
// ones keep theirs.
func Apply(ctx context.Context, store *storage.Storage, f *File) ([]Result, error) {
	var out []Result
	err := store.InTx(ctx, func(ctx context.Context) error {
		out = out[:0]
		for _, g := range f.Guilds {
			guild, err := upsertGuild(ctx, store, g)
			if err != nil {
				return err
			}
			for _, rs := range g.RemoteSystems {
				res, err := upsertRemoteSystem(ctx, store, *guild, rs)
				if err != nil {
					return err
				}
				out = append(out, *res)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func upsertGuild(ctx context.Context, store *storage.Storage, g Guild) (*storage.Guild, error) {
	region, _ := bnet.ParseRegion(g.Region)
	guild, err := store.GuildByName(ctx, region.String(), g.Server, g.Name)
	if err == nil {
		return guild, nil
	}
	if !errors.Is(err, errors.NotFound) {
		return nil, err
	}
	guild = &storage.Guild{Region: region.String(), Server: g.Server, Name: g.Name}
	if err := store.SaveGuild(ctx, guild); err != nil {
		return nil, err
	}
	log.Printf("[INFO] Guild %s/%s/%s created with id %d", guild.Region, guild.Server, guild.Name, guild.ID)
	return guild, nil
}

func upsertRemoteSystem(ctx context.Context, store *storage.Storage, guild storage.Guild, in RemoteSystem) (*Result, error) {
	res := &Result{}
	existing, err := store.RemoteSystemByTypeAndSystemID(ctx, in.Type, in.SystemID)
	switch {
	case err == nil:
		res.RemoteSystem = *existing
	case errors.Is(err, errors.NotFound):
		key, err := mac.GenerateKey()
		if err != nil {
			return nil, err
		}
		res.RemoteSystem.HMACKey = key.String()
		res.Created = true
	default:
		return nil, err
	}

	rs := &res.RemoteSystem
	rs.Guild = guild
	rs.Type = in.Type
	rs.SystemID = in.SystemID
	rs.NameOrLink = in.NameOrLink
	rs.MemberGroup = in.MemberGroup
	rs.FormerMemberGroup = in.FormerMemberGroup
	if err := store.SaveRemoteSystem(ctx, rs); err != nil {
		return nil, err
	}

	mapping := make([]storage.RankToGroup, 0, len(in.Ranks))
	for _, r := range in.Ranks {
		mapping = append(mapping, storage.RankToGroup{RemoteSystemID: rs.ID, From: r.From, To: r.To, Group: r.Group})
	}
	if err := store.ReplaceRankToGroups(ctx, rs.ID, mapping); err != nil {
		return nil, err
	}

	if in.Discord != nil {
		if err := store.SaveDiscordSettings(ctx, &storage.DiscordSettings{
			RemoteSystemID:              rs.ID,
			ReactionMessageID:           in.Discord.ReactionMessageID,
			DeleteUserAfterInactiveDays: in.Discord.DeleteUserAfterInactiveDays,
		}); err != nil {
			return nil, err
		}
	}

	action := "updated"
	if res.Created {
		action = "created"
	}
	log.Printf("[INFO] Remote system %s#%d %s with id %d for guild %d (%d rank mappings)",
		rs.Type, rs.SystemID, action, rs.ID, guild.ID, len(mapping))
	return res, nil
}
