package discord

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/errors"

	"wowsync/internal/command"
	"wowsync/internal/storage"
)

// AuthLinks creates the signed link that starts the Battle.net auth.
type AuthLinks interface {
	CreateAuthURI(ctx context.Context, remoteSystemID, remoteUserID int64) (string, error)
}

// Syncer grants the roles of one remote user right away.
type Syncer interface {
	SyncForUser(ctx context.Context, rs storage.RemoteSystem, remoteUserID int64) (bool, error)
}

// RemoteSystems finds the remote system of a Discord server.
type RemoteSystems interface {
	RemoteSystemByTypeAndSystemID(ctx context.Context, typ storage.RemoteSystemType, systemID int64) (*storage.RemoteSystem, error)
}

const notConfigured = "This server is not linked to a guild."

func remoteSystemForGuild(ctx context.Context, systems RemoteSystems, guildID string) (*storage.RemoteSystem, error) {
	id, err := strconv.ParseInt(guildID, 10, 64)
	if err != nil {
		return nil, errors.NotValidf("guild id %q", guildID)
	}
	return systems.RemoteSystemByTypeAndSystemID(ctx, storage.RemoteSystemDiscord, id)
}

func authText(ctx context.Context, systems RemoteSystems, links AuthLinks, guildID, userID string) (string, error) {
	rs, err := remoteSystemForGuild(ctx, systems, guildID)
	if err != nil {
		return "", err
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", errors.NotValidf("user id %q", userID)
	}
	link, err := links.CreateAuthURI(ctx, rs.ID, uid)
	if err != nil {
		return "", err
	}
	return "To authenticate follow this link: " + link, nil
}

// BnetAuthCommand answers with the personal auth link.
type BnetAuthCommand struct {
	Systems RemoteSystems
	Links   AuthLinks
}

func (c *BnetAuthCommand) Name() string { return "bnet-auth" }
func (c *BnetAuthCommand) Description() string {
	return "Link your Battle.net account to get your guild roles"
}
func (c *BnetAuthCommand) RequireAdmin() bool { return false }

func (c *BnetAuthCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Type:        discordgo.ChatApplicationCommand,
	}
}

func (c *BnetAuthCommand) Run(ctx *command.Context) error {
	text, err := authText(ctx, c.Systems, c.Links, ctx.GuildID, ctx.UserID)
	if errors.Is(err, errors.NotFound) {
		return ctx.Reply(notConfigured)
	} else if err != nil {
		return err
	}
	return ctx.Reply(text)
}

// SyncCommand grants the roles of a user without waiting for the next
// sync run.
type SyncCommand struct {
	Systems RemoteSystems
	Syncer  Syncer
}

func (c *SyncCommand) Name() string        { return "wowsync-sync" }
func (c *SyncCommand) Description() string { return "Grant the guild roles of a linked user now" }
func (c *SyncCommand) RequireAdmin() bool  { return true }

func (c *SyncCommand) SlashDefinition() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionAdministrator)
	return &discordgo.ApplicationCommand{
		Name:                     c.Name(),
		Description:              c.Description(),
		Type:                     discordgo.ChatApplicationCommand,
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "User to sync, yourself when empty",
			},
		},
	}
}

func (c *SyncCommand) Run(ctx *command.Context) error {
	rs, err := remoteSystemForGuild(ctx, c.Systems, ctx.GuildID)
	if errors.Is(err, errors.NotFound) {
		return ctx.Reply(notConfigured)
	} else if err != nil {
		return err
	}

	target := ctx.UserID
	if v, ok := ctx.StringOption("user"); ok && v != "" {
		target = v
	}
	uid, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return errors.NotValidf("user id %q", target)
	}

	if err := ctx.Defer(); err != nil {
		return err
	}
	added, err := c.Syncer.SyncForUser(ctx, *rs, uid)
	switch {
	case errors.Is(err, errors.NotFound):
		return ctx.Reply("The sync is not running for this server.")
	case err != nil:
		return err
	case added:
		return ctx.Reply(fmt.Sprintf("Roles updated for <@%s>.", target))
	default:
		return ctx.Reply(fmt.Sprintf("Nothing to change for <@%s>. Is the Battle.net account linked?", target))
	}
}

// Commands returns the slash commands of the bot with their middlewares.
func Commands(systems RemoteSystems, links AuthLinks, syncer Syncer) *command.Registry {
	r := command.NewRegistry()
	r.Register(command.ApplyMiddlewares(
		&BnetAuthCommand{Systems: systems, Links: links},
		command.WithGuildOnly(),
		command.WithCommandLogger(),
	))
	r.Register(command.ApplyMiddlewares(
		&SyncCommand{Systems: systems, Syncer: syncer},
		command.WithAdminCheck(),
		command.WithGuildOnly(),
		command.WithCommandLogger(),
	))
	return r
}
