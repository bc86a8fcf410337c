// Package client binds a discordgo session to the event loop: gateway events
// are re-emitted on the loop and commands are dispatched through it.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/soerbot/pkg/bot"
	"github.com/small-frappuccino/soerbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/soerbot/pkg/discord/session"
	"github.com/small-frappuccino/soerbot/pkg/errutil"
	"github.com/small-frappuccino/soerbot/pkg/eventloop"
	"github.com/small-frappuccino/soerbot/pkg/log"
	"github.com/small-frappuccino/soerbot/pkg/metrics"
	"github.com/small-frappuccino/soerbot/pkg/storage"
)

var ErrAlreadyLoggedIn = errors.New("client already logged in")

var openGateway = session.NewDiscordSession

// readyTimeout bounds how long ready waits for guilds that stay unavailable.
var readyTimeout = 15 * time.Second

// discordgo keeps its logger in a package variable.
var dgLoggerMu sync.Mutex

// Options configures a Client.
type Options struct {
	Owners                 []string
	CommandPrefix          string
	UnknownCommandResponse bool
	Catalog                core.Catalog
	Store                  *storage.Store
	Logger                 *slog.Logger
	Metrics                *metrics.Metrics
}

// Client is a Discord bot client whose callbacks run on the loop.
type Client struct {
	*eventloop.Emitter

	sched    eventloop.Scheduler
	registry *core.Registry
	logger   *slog.Logger

	mu         sync.RWMutex
	session    *discordgo.Session
	user       *bot.User
	loggingIn  bool
	pending    map[string]struct{}
	readyGen   uint64
	readyTimer *time.Timer
}

var _ bot.Client = (*Client)(nil)

// New creates a client bound to sched. Nothing touches the network until
// Login.
func New(sched eventloop.Scheduler, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.DiscordLogger()
	}
	return &Client{
		Emitter: eventloop.NewEmitter(sched, opts.Metrics),
		sched:   sched,
		logger:  logger,
		registry: core.NewRegistry(core.Options{
			Prefix:                 opts.CommandPrefix,
			Owners:                 opts.Owners,
			UnknownCommandResponse: opts.UnknownCommandResponse,
			Catalog:                opts.Catalog,
			Store:                  opts.Store,
			Scheduler:              sched,
			Metrics:                opts.Metrics,
		}),
	}
}

// Registry returns the command registry in its bot.Registry form.
func (c *Client) Registry() bot.Registry {
	return c.registry
}

// Commands returns the concrete command registry.
func (c *Client) Commands() *core.Registry {
	return c.registry
}

// Login opens the gateway with key on a separate goroutine. Event handlers,
// the command router and, when someone listens to debug events, discordgo's
// logger are installed before the connection opens. The session is visible to
// Channels from then on since discordgo delivers READY before Open returns.
func (c *Client) Login(key string) *eventloop.Future {
	c.mu.Lock()
	if c.session != nil || c.loggingIn {
		c.mu.Unlock()
		return eventloop.Rejected(c.sched, ErrAlreadyLoggedIn)
	}
	c.loggingIn = true
	c.mu.Unlock()

	debug := c.ListenerCount(bot.EventDebug) > 0
	return eventloop.Async(c.sched, func() error {
		defer func() {
			c.mu.Lock()
			c.loggingIn = false
			c.mu.Unlock()
		}()
		c.debugf("Logging in to Discord")
		s, err := openGateway(key, func(s *discordgo.Session) {
			if debug {
				c.hookDebug(s)
			}
			s.AddHandler(c.onReady)
			s.AddHandler(c.onGuildCreate)
			s.AddHandler(c.onGuildDelete)
			s.AddHandler(c.onDisconnect)
			s.AddHandler(c.onResumed)
			c.registry.Attach(s)
			c.mu.Lock()
			c.session = s
			c.mu.Unlock()
		})
		if err != nil {
			c.mu.Lock()
			c.session = nil
			c.finishReadyLocked()
			c.mu.Unlock()
			c.debugf("Login failed: %v", err)
			return fmt.Errorf("login: %w", err)
		}
		c.mu.Lock()
		c.session = s
		c.mu.Unlock()
		c.debugf("Gateway connection open")
		return nil
	})
}

func (c *Client) hookDebug(s *discordgo.Session) {
	dgLoggerMu.Lock()
	discordgo.Logger = func(msgL, caller int, format string, a ...interface{}) {
		c.Emit(bot.EventDebug, fmt.Sprintf("[DG%d] %s", msgL, fmt.Sprintf(format, a...)))
	}
	dgLoggerMu.Unlock()
	s.LogLevel = discordgo.LogDebug
}

func (c *Client) debugf(format string, args ...any) {
	if c.ListenerCount(bot.EventDebug) == 0 {
		return
	}
	c.Emit(bot.EventDebug, fmt.Sprintf(format, args...))
}

// onReady records the user and waits for every guild listed in READY to
// arrive through GUILD_CREATE before emitting ready, so listeners see the
// guild channels. Guilds that stay unavailable past readyTimeout are skipped.
func (c *Client) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	u := &bot.User{
		ID:            r.User.ID,
		Username:      r.User.Username,
		Discriminator: r.User.Discriminator,
	}
	if ts, err := discordgo.SnowflakeTimestamp(r.User.ID); err == nil {
		u.CreatedAt = ts
	} else {
		c.logger.Warn("Invalid user snowflake", "userID", r.User.ID, "error", err)
	}

	c.mu.Lock()
	c.user = u
	c.finishReadyLocked()
	c.readyGen++
	gen := c.readyGen
	pending := make(map[string]struct{})
	for _, g := range r.Guilds {
		if g != nil && !guildAvailable(s, g) {
			pending[g.ID] = struct{}{}
		}
	}
	if len(pending) > 0 {
		c.pending = pending
		c.readyTimer = time.AfterFunc(readyTimeout, func() { c.expireReady(gen) })
	}
	c.mu.Unlock()

	c.logger.Info("Discord session ready", "user", u.Tag(), "guilds", len(r.Guilds), "pending", len(pending))
	if len(pending) == 0 {
		c.Emit(bot.EventReady, c)
	}
}

// guildAvailable reports whether g already arrived. discordgo updates its
// state before running handlers, so the state is checked first.
func guildAvailable(s *discordgo.Session, g *discordgo.Guild) bool {
	if s != nil && s.State != nil {
		if sg, err := s.State.Guild(g.ID); err == nil {
			return !sg.Unavailable
		}
	}
	return !g.Unavailable
}

func (c *Client) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g == nil || g.Guild == nil {
		return
	}
	c.guildSettled(g.ID)
}

// A guild removed while pending will never arrive. An outage keeps it pending.
func (c *Client) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g == nil || g.Guild == nil || g.Unavailable {
		return
	}
	c.guildSettled(g.ID)
}

func (c *Client) guildSettled(id string) {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	if len(c.pending) > 0 {
		c.mu.Unlock()
		return
	}
	c.finishReadyLocked()
	c.mu.Unlock()
	c.Emit(bot.EventReady, c)
}

func (c *Client) expireReady(gen uint64) {
	c.mu.Lock()
	if gen != c.readyGen || c.pending == nil {
		c.mu.Unlock()
		return
	}
	missing := len(c.pending)
	c.finishReadyLocked()
	c.mu.Unlock()
	c.logger.Warn("Guilds still unavailable; emitting ready without them", "missing", missing)
	c.Emit(bot.EventReady, c)
}

func (c *Client) finishReadyLocked() {
	c.pending = nil
	if c.readyTimer != nil {
		c.readyTimer.Stop()
		c.readyTimer = nil
	}
}

func (c *Client) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.logger.Warn("Discord gateway disconnected")
	c.Emit(bot.EventDisconnect)
}

func (c *Client) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	c.logger.Info("Discord gateway resumed")
	c.Emit(bot.EventReconnect)
}

// User returns the logged in user, or nil before the first ready event.
func (c *Client) User() *bot.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Channels returns the text channels of every guild in the session state.
func (c *Client) Channels() bot.Channels {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s == nil || s.State == nil {
		return nil
	}

	s.State.RLock()
	defer s.State.RUnlock()
	var out bot.Channels
	for _, g := range s.State.Guilds {
		for _, ch := range g.Channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			out = append(out, &channel{client: c, id: ch.ID, name: ch.Name})
		}
	}
	return out
}

// Destroy closes the gateway connection. Debug listeners are dropped since
// discordgo's logger hook outlives the session.
func (c *Client) Destroy() error {
	c.RemoveAllListeners(bot.EventDebug)
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.finishReadyLocked()
	c.mu.Unlock()
	return session.Close(s)
}

type channel struct {
	client *Client
	id     string
	name   string
}

func (ch *channel) ID() string   { return ch.id }
func (ch *channel) Name() string { return ch.name }

// Send posts content to the channel on a separate goroutine.
func (ch *channel) Send(content string) *eventloop.Future {
	ch.client.mu.RLock()
	s := ch.client.session
	ch.client.mu.RUnlock()
	if s == nil {
		return eventloop.Rejected(ch.client.sched, errors.New("client is not logged in"))
	}
	return eventloop.Async(ch.client.sched, func() error {
		return errutil.HandleDiscordError("send_message", func() error {
			_, err := s.ChannelMessageSend(ch.id, content)
			return err
		})
	})
}
