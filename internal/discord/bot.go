// Package discord runs the Discord bot and implements the role module of
// Discord remote systems.
package discord

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/clock"

	"wowsync/internal/command"
	"wowsync/internal/storage"
)

// Store is the part of the storage the bot writes to.
type Store interface {
	RemoteSystems
	UpdateLastOnline(ctx context.Context, guildID int64, memberIDs []int64, now time.Time) error
}

// commandAPI registers slash commands. *discordgo.Session implements it.
type commandAPI interface {
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID string, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
}

// Bot is a Discord bot
type Bot struct {
	dg       *discordgo.Session
	api      API
	cmdAPI   commandAPI
	store    Store
	clock    clock.Clock
	cache    commandCache
	ctx      context.Context
	links    AuthLinks
	registry *command.Registry

	mu        sync.RWMutex
	appID     string
	pending   []string // guilds seen before the application id was known
	reactions map[int64]storage.RemoteSystem
}

// NewBot creates the session. The gateway is opened by Run.
func NewBot(token string, store Store, commandCacheDir string, clk clock.Clock) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	b := newBot(dg, dg, store, commandCacheDir, clk)
	b.dg = dg
	return b, nil
}

func newBot(api API, cmdAPI commandAPI, store Store, commandCacheDir string, clk clock.Clock) *Bot {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Bot{
		api:       api,
		cmdAPI:    cmdAPI,
		store:     store,
		clock:     clk,
		cache:     commandCache{dir: commandCacheDir},
		ctx:       context.Background(),
		registry:  command.NewRegistry(),
		reactions: make(map[int64]storage.RemoteSystem),
	}
}

// API is the REST side of the session, used by the modules.
func (b *Bot) API() API {
	return b.api
}

// Run opens the gateway and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context, links AuthLinks, registry *command.Registry) error {
	b.ctx = ctx
	b.links = links
	b.registry = registry

	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsGuildMessageReactions
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onPresenceUpdate)
	b.dg.AddHandler(b.onMessageReactionAdd)
	b.dg.AddHandler(b.onInteractionCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	log.Println("[INFO] Shutdown signal received, closing Discord session")
	return nil
}

// WatchReactions makes reactions on the message send the auth link.
func (b *Bot) WatchReactions(messageID int64, rs storage.RemoteSystem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reactions[messageID] = rs
}

func (b *Bot) UnwatchReactions(messageID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.reactions, messageID)
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	b.mu.Lock()
	b.appID = r.User.ID
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	log.Printf("[INFO] Discord bot %s is running in %d guilds", r.User.Username, len(r.Guilds))

	for _, guildID := range pending {
		if err := b.registerCommands(guildID); err != nil {
			log.Printf("[ERR] Failed to register commands for guild %s: %v", guildID, err)
		}
	}
}

// onGuildCreate fires for every guild after connecting and when the bot
// joins a guild. Handlers run concurrently, so it may arrive before Ready.
func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log.Printf("[INFO] Guild available: %s (%s)", g.ID, g.Name)
	b.recordOnline(g.ID, g.Presences)

	b.mu.Lock()
	if b.appID == "" && s != nil && s.State != nil && s.State.User != nil {
		b.appID = s.State.User.ID
	}
	if b.appID == "" {
		b.pending = append(b.pending, g.ID)
		b.mu.Unlock()
		log.Printf("[DEBUG] [%s] Command registration waits for ready", g.ID)
		return
	}
	b.mu.Unlock()

	if err := b.registerCommands(g.ID); err != nil {
		log.Printf("[ERR] Failed to register commands for guild %s: %v", g.ID, err)
	}
}

func (b *Bot) onPresenceUpdate(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
	b.recordOnline(p.GuildID, []*discordgo.Presence{&p.Presence})
}

func isOnline(s discordgo.Status) bool {
	switch s {
	case discordgo.StatusOnline, discordgo.StatusIdle, discordgo.StatusDoNotDisturb:
		return true
	}
	return false
}

// recordOnline updates the last online time of every present member.
func (b *Bot) recordOnline(guildID string, presences []*discordgo.Presence) {
	gid, err := strconv.ParseInt(guildID, 10, 64)
	if err != nil {
		return
	}
	var ids []int64
	for _, p := range presences {
		if p == nil || p.User == nil || !isOnline(p.Status) {
			continue
		}
		id, err := strconv.ParseInt(p.User.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	if err := b.store.UpdateLastOnline(b.ctx, gid, ids, b.clock.Now()); err != nil {
		log.Printf("[ERR] Failed to update last online of %d members in guild %s: %v", len(ids), guildID, err)
	}
}

func (b *Bot) onMessageReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	b.handleReaction(r.MessageReaction)
}

// handleReaction sends the auth link as direct message when someone
// reacts to a watched message.
func (b *Bot) handleReaction(r *discordgo.MessageReaction) {
	messageID, err := strconv.ParseInt(r.MessageID, 10, 64)
	if err != nil {
		return
	}
	b.mu.RLock()
	rs, ok := b.reactions[messageID]
	self := b.appID
	b.mu.RUnlock()
	if !ok || r.UserID == self || strconv.FormatInt(rs.SystemID, 10) != r.GuildID {
		return
	}

	text, err := authText(b.ctx, b.store, b.links, r.GuildID, r.UserID)
	if err != nil {
		log.Printf("[ERR] Failed to create auth link for %s in guild %s: %v", r.UserID, r.GuildID, err)
		return
	}
	ch, err := b.api.UserChannelCreate(r.UserID)
	if err != nil {
		log.Printf("[ERR] Can't open direct message to %s: %v", r.UserID, err)
		return
	}
	if _, err := b.api.ChannelMessageSend(ch.ID, text); err != nil {
		log.Printf("[ERR] Can't send auth link to %s: %v", r.UserID, err)
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	responder := command.InteractionResponder{Session: s, Event: i}
	b.handleCommand(s, i, responder, isAdministrator(i.Member))
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate, r command.Responder, admin bool) {
	data := i.ApplicationCommandData()
	cmd, ok := b.registry.Get(data.Name)
	if !ok {
		log.Printf("[WARN] Unknown command: %s", data.Name)
		return
	}

	userID := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	ctx := &command.Context{
		Context:   b.ctx,
		Session:   s,
		Event:     i,
		GuildID:   i.GuildID,
		UserID:    userID,
		Admin:     admin,
		Options:   data.Options,
		Responder: r,
	}
	if err := cmd.Run(ctx); err != nil {
		if rerr := ctx.Reply("Something went wrong, please try again later."); rerr != nil {
			log.Printf("[ERR] Failed to answer /%s: %v", data.Name, rerr)
		}
	}
}

// registerCommands syncs the slash commands of a guild. Only commands
// whose definition changed since the last registration are sent.
func (b *Bot) registerCommands(guildID string) error {
	b.mu.RLock()
	appID := b.appID
	b.mu.RUnlock()
	if appID == "" {
		return fmt.Errorf("application id unknown before ready")
	}

	existing, err := b.cmdAPI.ApplicationCommands(appID, guildID)
	if err != nil {
		return fmt.Errorf("failed to list commands: %w", err)
	}
	hashes := b.cache.load(guildID)

	wanted := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range b.registry.All() {
		if def := cmd.SlashDefinition(); def != nil {
			wanted[def.Name] = def
		}
	}

	registered := make(map[string]bool, len(existing))
	for _, old := range existing {
		if _, ok := wanted[old.Name]; ok {
			registered[old.Name] = true
			continue
		}
		log.Printf("[INFO] [%s] Deleting obsolete command: %s", guildID, old.Name)
		if err := b.cmdAPI.ApplicationCommandDelete(appID, guildID, old.ID); err != nil {
			log.Printf("[ERR] [%s] Failed to delete %s: %v", guildID, old.Name, err)
		}
		delete(hashes, old.Name)
	}

	for name, def := range wanted {
		hash := hashCommand(def)
		if registered[name] && hashes[name] == hash {
			continue
		}
		if _, err := b.cmdAPI.ApplicationCommandCreate(appID, guildID, def); err != nil {
			log.Printf("[ERR] [%s] Can't create command %s: %v", guildID, name, err)
			continue
		}
		log.Printf("[INFO] [%s] Command registered: %s", guildID, name)
		hashes[name] = hash
	}

	b.cache.save(guildID, hashes)
	return nil
}
