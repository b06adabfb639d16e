package command

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	replies []string
	calls   []string
}

func (r *recorder) RespondEphemeral(content string) error {
	r.calls = append(r.calls, "respond")
	r.replies = append(r.replies, content)
	return nil
}

func (r *recorder) DeferEphemeral() error {
	r.calls = append(r.calls, "defer")
	return nil
}

func (r *recorder) EditResponse(content string) error {
	r.calls = append(r.calls, "edit")
	r.replies = append(r.replies, content)
	return nil
}

type stubCommand struct {
	name  string
	admin bool
	runs  int
	err   error
}

func (c *stubCommand) Name() string        { return c.name }
func (c *stubCommand) Description() string { return "stub" }
func (c *stubCommand) RequireAdmin() bool  { return c.admin }
func (c *stubCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{Name: c.name, Description: c.Description()}
}
func (c *stubCommand) Run(ctx *Context) error {
	c.runs++
	return c.err
}

func newContext(guildID string, admin bool) (*Context, *recorder) {
	r := &recorder{}
	return &Context{
		Context:   context.Background(),
		GuildID:   guildID,
		UserID:    "42",
		Admin:     admin,
		Responder: r,
	}, r
}

func TestWithGuildOnly(t *testing.T) {
	stub := &stubCommand{name: "x"}
	cmd := ApplyMiddlewares(stub, WithGuildOnly())

	ctx, rec := newContext("", false)
	require.NoError(t, cmd.Run(ctx))
	assert.Zero(t, stub.runs)
	assert.Equal(t, []string{"You must be in a guild to use this command."}, rec.replies)

	ctx, _ = newContext("1", false)
	require.NoError(t, cmd.Run(ctx))
	assert.Equal(t, 1, stub.runs)
}

func TestWithAdminCheck(t *testing.T) {
	stub := &stubCommand{name: "x", admin: true}
	cmd := ApplyMiddlewares(stub, WithAdminCheck(), WithGuildOnly())

	ctx, rec := newContext("1", false)
	require.NoError(t, cmd.Run(ctx))
	assert.Zero(t, stub.runs)
	assert.Len(t, rec.replies, 1)

	ctx, _ = newContext("1", true)
	require.NoError(t, cmd.Run(ctx))
	assert.Equal(t, 1, stub.runs)

	open := &stubCommand{name: "y"}
	ctx, _ = newContext("1", false)
	require.NoError(t, ApplyMiddlewares(open, WithAdminCheck()).Run(ctx))
	assert.Equal(t, 1, open.runs)
}

func TestWithCommandLoggerPassesErrors(t *testing.T) {
	boom := errors.New("boom")
	cmd := ApplyMiddlewares(&stubCommand{name: "x", err: boom}, WithCommandLogger())
	ctx, _ := newContext("1", false)
	assert.ErrorIs(t, cmd.Run(ctx), boom)
	assert.Equal(t, "x", cmd.Name(), "wrapping keeps the name")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubCommand{name: "b"})
	r.Register(&stubCommand{name: "a"})
	r.Register(&stubCommand{name: "b", admin: true})

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name())
	assert.Equal(t, "b", all[1].Name())

	b, ok := r.Get("b")
	require.True(t, ok)
	assert.True(t, b.RequireAdmin())
	_, ok = r.Get("c")
	assert.False(t, ok)
}

func TestStringOption(t *testing.T) {
	ctx := &Context{Options: []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "123"},
		{Name: "count", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
	}}

	v, ok := ctx.StringOption("user")
	assert.True(t, ok)
	assert.Equal(t, "123", v)

	_, ok = ctx.StringOption("count")
	assert.False(t, ok)
	_, ok = ctx.StringOption("missing")
	assert.False(t, ok)
}

func TestReplyAfterDeferEdits(t *testing.T) {
	ctx, rec := newContext("1", false)
	require.NoError(t, ctx.Reply("first"))
	assert.Equal(t, []string{"respond"}, rec.calls)

	ctx, rec = newContext("1", false)
	require.NoError(t, ctx.Defer())
	require.NoError(t, ctx.Defer())
	require.NoError(t, ctx.Reply("done"))
	assert.Equal(t, []string{"defer", "edit"}, rec.calls)
	assert.Equal(t, []string{"done"}, rec.replies)
}
