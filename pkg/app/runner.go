// Package app wires configuration, the event loop and the Discord client into
// the bot's startup sequence.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/soerbot/pkg/bot"
	"github.com/small-frappuccino/soerbot/pkg/config"
	"github.com/small-frappuccino/soerbot/pkg/discord/client"
	"github.com/small-frappuccino/soerbot/pkg/discord/commands/builtin"
	"github.com/small-frappuccino/soerbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/soerbot/pkg/discovery"
	"github.com/small-frappuccino/soerbot/pkg/errutil"
	"github.com/small-frappuccino/soerbot/pkg/eventloop"
	"github.com/small-frappuccino/soerbot/pkg/log"
	"github.com/small-frappuccino/soerbot/pkg/metrics"
	"github.com/small-frappuccino/soerbot/pkg/storage"
)

const (
	// MainChannel receives the development greeting.
	MainChannel     = "основной"
	GreetingMessage = "SoerBot started in development mode."

	readyTimeLayout = "02.01.2006 15:04:05"
)

// Loop is the event loop the runner blocks on.
type Loop interface {
	eventloop.Scheduler
	Run(ctx context.Context) error
	Stop()
}

// State is the lifecycle phase of a Runner.
type State int32

const (
	StateCreated State = iota
	StateConfigured
	StateRegisteringCommands
	StateAwaitingLogin
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConfigured:
		return "CONFIGURED"
	case StateRegisteringCommands:
		return "REGISTERING_COMMANDS"
	case StateAwaitingLogin:
		return "AWAITING_LOGIN"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type options struct {
	loop        Loop
	client      bot.Client
	discoverer  discovery.Discoverer
	out         io.Writer
	commandsDir string
	logger      *slog.Logger
	store       *storage.Store
	metrics     *metrics.Metrics
}

// Option customizes a Runner.
type Option func(*options)

// WithLoop makes the runner use loop instead of a new event loop.
func WithLoop(loop Loop) Option { return func(o *options) { o.loop = loop } }

// WithClient makes the runner use c instead of a Discord client.
func WithClient(c bot.Client) Option { return func(o *options) { o.client = c } }

// WithDiscoverer replaces the manifest discoverer.
func WithDiscoverer(d discovery.Discoverer) Option { return func(o *options) { o.discoverer = d } }

// WithOutput redirects the console lines the runner prints (default os.Stdout).
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// WithCommandsDir overrides the commands-dir configuration key.
func WithCommandsDir(dir string) Option { return func(o *options) { o.commandsDir = dir } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithStore gives commands a place to persist per-guild state.
func WithStore(s *storage.Store) Option { return func(o *options) { o.store = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// Runner drives the bot from configuration to a running loop.
type Runner struct {
	settings   config.Settings
	loop       Loop
	client     bot.Client
	discoverer discovery.Discoverer
	out        io.Writer
	logger     *slog.Logger

	state atomic.Int32
}

// NewRunner resolves the settings in cfg and builds the collaborators that
// were not supplied. Invalid settings fail here, before a client exists.
func NewRunner(cfg config.Provider, opts ...Option) (*Runner, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	settings, err := config.ResolveSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve settings: %w", err)
	}
	if o.commandsDir != "" {
		settings.CommandsDir = o.commandsDir
	}
	if o.logger == nil {
		o.logger = log.ApplicationLogger()
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	if o.loop == nil {
		o.loop = eventloop.New(o.metrics)
	}
	if o.discoverer == nil {
		o.discoverer = discovery.NewFileDiscoverer(nil)
	}
	if o.client == nil {
		o.client = client.New(o.loop, client.Options{
			Owners:                 settings.Owners,
			CommandPrefix:          settings.CommandPrefix,
			UnknownCommandResponse: false,
			Catalog:                builtin.Catalog(),
			Store:                  o.store,
			Metrics:                o.metrics,
		})
	}

	r := &Runner{
		settings:   settings,
		loop:       o.loop,
		client:     o.client,
		discoverer: o.discoverer,
		out:        o.out,
		logger:     o.logger,
	}
	r.setState(StateConfigured)
	return r, nil
}

// Execute runs the startup sequence and blocks until the loop ends.
func (r *Runner) Execute(ctx context.Context) error {
	if r.settings.Debug {
		r.client.On(bot.EventDebug, func(args ...any) {
			fmt.Fprintln(r.out, args...)
		})
	}
	if err := r.Settings(); err != nil {
		r.setState(StateTerminated)
		return err
	}
	r.LogReadyState()
	r.Login()
	r.Greeting()
	r.RegisterExitEvent()
	return r.RunningLoop(ctx)
}

// Settings registers argument types, groups and the discovered commands.
// Commands that cannot be registered are logged and skipped.
func (r *Runner) Settings() error {
	r.setState(StateRegisteringCommands)
	reg := r.client.Registry()
	reg.RegisterDefaultTypes()
	reg.RegisterDefaultGroups()
	for _, g := range []core.Group{
		{ID: "games", Name: "Games", Guarded: true},
		{ID: "moderation", Name: "Moderation"},
	} {
		if err := reg.RegisterGroup(g); err != nil {
			return fmt.Errorf("register group %s: %w", g.ID, err)
		}
	}

	descriptors, err := r.discoverer.Discover(r.settings.CommandsDir, discovery.DefaultPattern)
	if err != nil {
		return fmt.Errorf("discover commands: %w", err)
	}
	if err := reg.RegisterCommand(descriptors...); err != nil {
		r.logger.Warn("Some commands were not registered", "error", err)
	}
	r.logger.Info("Commands registered", "discovered", len(descriptors), "dir", r.settings.CommandsDir)
	return nil
}

// LogReadyState prints the bot identity every time the client is ready.
func (r *Runner) LogReadyState() {
	r.client.On(bot.EventReady, func(...any) {
		u := r.client.User()
		if u == nil {
			r.logger.Warn("Ready event without a user")
			return
		}
		fmt.Fprintf(r.out, "Logged in as %s created on %s\n", u.Tag(), FormatTimestamp(u.CreatedAt))
	})
}

// Login starts authentication. A failed login terminates the loop.
func (r *Runner) Login() {
	r.setState(StateAwaitingLogin)
	r.client.Login(r.settings.Key).Done(nil, nil)
}

// Greeting announces a development instance in the main channel once, on
// the first ready event. Failures are logged and ignored.
func (r *Runner) Greeting() {
	r.client.Once(bot.EventReady, func(...any) {
		if !r.settings.Development {
			return
		}
		errutil.BestEffort(r.logger, "greeting", func() error {
			ch := r.client.Channels().ByName(MainChannel)
			if ch == nil {
				r.logger.Debug("Main channel not found; skipping greeting", "channel", MainChannel)
				return nil
			}
			ch.Send(GreetingMessage).Done(nil, errutil.Discard(r.logger, "greeting send"))
			return nil
		})
	})
}

// RegisterExitEvent stops the loop on the first stop event.
func (r *Runner) RegisterExitEvent() {
	r.client.Once(bot.EventStop, func(...any) {
		fmt.Fprintln(r.out, "stop")
		r.setState(StateStopping)
		r.loop.Stop()
	})
}

// RunningLoop blocks on the event loop.
func (r *Runner) RunningLoop(ctx context.Context) error {
	r.setState(StateRunning)
	err := r.loop.Run(ctx)
	r.setState(StateTerminated)
	if err != nil {
		return fmt.Errorf("event loop: %w", err)
	}
	return nil
}

// Stop asks the runner to shut down by emitting the stop event.
func (r *Runner) Stop() {
	r.client.Emit(bot.EventStop)
}

// Close releases the client connection when the client supports it.
func (r *Runner) Close() error {
	if d, ok := r.client.(interface{ Destroy() error }); ok {
		return d.Destroy()
	}
	return nil
}

// State reports the current lifecycle phase.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev != s {
		r.logger.Debug("Runner state changed", "from", prev.String(), "to", s.String())
	}
}

// FormatTimestamp renders t as dd.mm.yyyy HH:MM:SS.
func FormatTimestamp(t time.Time) string {
	return t.Format(readyTimeLayout)
}

func (r *Runner) health() (string, bool) {
	s := r.State()
	return s.String(), s == StateAwaitingLogin || s == StateRunning
}
