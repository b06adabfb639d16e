// Package command is the slash command core of the bot: the Command
// interface, the context handed to a running command, middlewares and the
// registry.
package command

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

type Command interface {
	Name() string
	Description() string
	RequireAdmin() bool
	SlashDefinition() *discordgo.ApplicationCommand
	Run(ctx *Context) error
}

// Responder answers the interaction that started a command. Discord
// expects an answer within three seconds, so slow commands defer first
// and edit the deferred answer later.
type Responder interface {
	RespondEphemeral(content string) error
	DeferEphemeral() error
	EditResponse(content string) error
}

// Context is what a command gets when it runs.
type Context struct {
	context.Context
	Session *discordgo.Session
	Event   *discordgo.InteractionCreate
	GuildID string
	UserID  string
	// Admin is resolved by the bot before the command runs.
	Admin     bool
	Options   []*discordgo.ApplicationCommandInteractionDataOption
	Responder Responder

	deferred bool
}

// Defer acknowledges the interaction. Later replies edit the
// acknowledgement.
func (c *Context) Defer() error {
	if c.deferred {
		return nil
	}
	if err := c.Responder.DeferEphemeral(); err != nil {
		return err
	}
	c.deferred = true
	return nil
}

// Reply sends an ephemeral answer.
func (c *Context) Reply(content string) error {
	if c.deferred {
		return c.Responder.EditResponse(content)
	}
	return c.Responder.RespondEphemeral(content)
}

// StringOption returns the raw value of a string, user or channel option.
func (c *Context) StringOption(name string) (string, bool) {
	for _, o := range c.Options {
		if o.Name != name {
			continue
		}
		v, ok := o.Value.(string)
		return v, ok
	}
	return "", false
}

// InteractionResponder answers through the Discord session.
type InteractionResponder struct {
	Session *discordgo.Session
	Event   *discordgo.InteractionCreate
}

func (r InteractionResponder) RespondEphemeral(content string) error {
	return r.Session.InteractionRespond(r.Event.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (r InteractionResponder) DeferEphemeral() error {
	return r.Session.InteractionRespond(r.Event.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

func (r InteractionResponder) EditResponse(content string) error {
	_, err := r.Session.InteractionResponseEdit(r.Event.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	return err
}
