package core

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/Kintar/dgc"
	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/soerbot/pkg/discord/perf"
	"github.com/small-frappuccino/soerbot/pkg/eventloop"
	"github.com/small-frappuccino/soerbot/pkg/log"
	"github.com/small-frappuccino/soerbot/pkg/metrics"
	"github.com/small-frappuccino/soerbot/pkg/storage"
)

var (
	ErrDuplicateType    = errors.New("argument type already registered")
	ErrDuplicateGroup   = errors.New("command group already registered")
	ErrDuplicateCommand = errors.New("command name already registered")
	ErrUnknownGroup     = errors.New("unknown command group")
	ErrUnknownHandler   = errors.New("unknown command handler")
	ErrUnknownType      = errors.New("unknown argument type")
	ErrInvalidCommand   = errors.New("invalid command descriptor")
)

// Options configures a Registry.
type Options struct {
	Prefix string
	Owners []string
	// UnknownCommandResponse makes the bot answer prefixed messages naming no
	// registered command. Off means unknown commands are ignored silently.
	UnknownCommandResponse bool
	Catalog                Catalog
	Store                  *storage.Store
	// Scheduler runs invocations. Nil runs them on the gateway goroutine.
	Scheduler eventloop.Scheduler
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Registry holds argument types, groups and commands and dispatches prefixed
// messages to them through a dgc router.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	types      map[string]ArgumentType
	typeOrder  []string
	groups     map[string]*Group
	groupOrder []string
	commands   map[string]*Command
	aliases    map[string]string
	order      []string
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = log.CommandLogger()
	}
	if opts.Catalog == nil {
		opts.Catalog = Catalog{}
	}
	return &Registry{
		opts:     opts,
		logger:   logger,
		types:    make(map[string]ArgumentType),
		groups:   make(map[string]*Group),
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}
}

// Prefix returns the command prefix.
func (r *Registry) Prefix() string {
	return r.opts.Prefix
}

// IsOwner reports whether userID is one of the configured owners.
func (r *Registry) IsOwner(userID string) bool {
	return userID != "" && slices.Contains(r.opts.Owners, userID)
}

// RegisterType adds an argument type.
func (r *Registry) RegisterType(t ArgumentType) error {
	id := normalizeName(t.ID())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, id)
	}
	r.types[id] = t
	r.typeOrder = append(r.typeOrder, id)
	return nil
}

// RegisterDefaultTypes adds the built-in argument types. Types already present
// are kept.
func (r *Registry) RegisterDefaultTypes() {
	for _, t := range DefaultTypes() {
		if err := r.RegisterType(t); err != nil {
			r.logger.Debug("Skipping default argument type", "type", t.ID(), "error", err)
		}
	}
}

// RegisterGroup adds a command group.
func (r *Registry) RegisterGroup(g Group) error {
	g.ID = normalizeName(g.ID)
	if g.ID == "" {
		return fmt.Errorf("%w: group id is empty", ErrInvalidCommand)
	}
	if g.Name == "" {
		g.Name = g.ID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, g.ID)
	}
	r.groups[g.ID] = &g
	r.groupOrder = append(r.groupOrder, g.ID)
	return nil
}

// RegisterDefaultGroups adds the built-in "commands" and "util" groups.
// Groups already present are kept.
func (r *Registry) RegisterDefaultGroups() {
	for _, g := range []Group{
		{ID: "commands", Name: "Commands", Guarded: true},
		{ID: "util", Name: "Utility"},
	} {
		if err := r.RegisterGroup(g); err != nil {
			r.logger.Debug("Skipping default group", "group", g.ID, "error", err)
		}
	}
}

// RegisterCommand resolves and registers each descriptor. Invalid descriptors
// are skipped; their errors are joined into the returned error while the
// valid ones stay registered.
func (r *Registry) RegisterCommand(descriptors ...Descriptor) error {
	var errs []error
	for _, d := range descriptors {
		if err := r.registerOne(d); err != nil {
			errs = append(errs, fmt.Errorf("register command %s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) registerOne(d Descriptor) error {
	d.Name = normalizeName(d.Name)
	d.Group = normalizeName(d.Group)
	if d.Name == "" || strings.ContainsAny(d.Name, " \t\n") {
		return fmt.Errorf("%w: name %q", ErrInvalidCommand, d.Name)
	}
	handler, ok := r.opts.Catalog[d.Handler]
	if !ok || handler == nil {
		return fmt.Errorf("%w: %q", ErrUnknownHandler, d.Handler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[d.Group]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, d.Group)
	}
	types := make([]ArgumentType, len(d.Args))
	for i, a := range d.Args {
		t, ok := r.types[normalizeName(a.Type)]
		if !ok {
			return fmt.Errorf("%w: %q for argument %q", ErrUnknownType, a.Type, a.Key)
		}
		if a.Key == "" {
			return fmt.Errorf("%w: argument %d has no key", ErrInvalidCommand, i)
		}
		if i > 0 && d.Args[i-1].Optional && !a.Optional {
			return fmt.Errorf("%w: required argument %q follows an optional one", ErrInvalidCommand, a.Key)
		}
		types[i] = t
	}

	names := append([]string{d.Name}, d.Aliases...)
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		n = normalizeName(n)
		names[i] = n
		if seen[n] || r.taken(n) {
			return fmt.Errorf("%w: %q", ErrDuplicateCommand, n)
		}
		seen[n] = true
	}
	d.Aliases = names[1:]

	r.commands[d.Name] = &Command{Descriptor: d, Group: group, Handler: handler, argTypes: types}
	for _, a := range d.Aliases {
		r.aliases[a] = d.Name
	}
	r.order = append(r.order, d.Name)
	return nil
}

func (r *Registry) taken(name string) bool {
	if _, ok := r.commands[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

// Command resolves a name or alias.
func (r *Registry) Command(name string) (*Command, bool) {
	name = normalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	c, ok := r.commands[name]
	return c, ok
}

// Commands returns the registered commands in registration order.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.commands[n])
	}
	return out
}

// Groups returns the registered groups in registration order.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Group, 0, len(r.groupOrder))
	for _, id := range r.groupOrder {
		out = append(out, *r.groups[id])
	}
	return out
}

// Types returns the registered argument type ids in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.typeOrder)
}

// Attach wires the registry to a session: prefixed messages are routed to the
// registered commands.
func (r *Registry) Attach(s *discordgo.Session) {
	router := dgc.Create(&dgc.Router{
		Prefixes:         []string{r.opts.Prefix},
		IgnorePrefixCase: true,
		BotsAllowed:      false,
		Commands:         []*dgc.Command{},
	})

	router.RegisterMiddleware(func(next dgc.ExecutionHandler) dgc.ExecutionHandler {
		return func(ctx *dgc.Ctx) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Command dispatch panicked", "panic", rec)
				}
			}()
			next(ctx)
		}
	})

	for _, cmd := range r.Commands() {
		cmd := cmd
		router.RegisterCmd(&dgc.Command{
			Name:        cmd.Name,
			Aliases:     cmd.Aliases,
			Description: cmd.Description,
			Usage:       cmd.usage(),
			IgnoreCase:  true,
			Handler: func(ctx *dgc.Ctx) {
				r.dispatch(cmd, ctx)
			},
		})
	}
	router.Initialize(s)

	if r.opts.UnknownCommandResponse {
		s.AddHandler(r.onUnknownCommand)
	}
	r.logger.Info("Command router attached", "prefix", r.opts.Prefix, "commands", len(r.order))
}

func (r *Registry) dispatch(cmd *Command, dctx *dgc.Ctx) {
	ev := dctx.Event
	if ev == nil || ev.Author == nil {
		return
	}
	raw := make([]string, 0, dctx.Arguments.Amount())
	for i := 0; i < dctx.Arguments.Amount(); i++ {
		raw = append(raw, dctx.Arguments.Get(i).Raw())
	}
	ctx := &Context{
		Session:   dctx.Session,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		AuthorID:  ev.Author.ID,
		reply:     dctx.RespondText,
	}
	run := func() {
		if err := r.Run(cmd, ctx, raw); err != nil {
			r.logger.Debug("Command not completed", "command", cmd.Name, "error", err)
		}
	}
	if r.opts.Scheduler == nil {
		run()
		return
	}
	r.opts.Scheduler.Post(run)
}

func (r *Registry) onUnknownCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || r.opts.Prefix == "" {
		return
	}
	content := m.Content
	if len(content) < len(r.opts.Prefix) || !strings.EqualFold(content[:len(r.opts.Prefix)], r.opts.Prefix) {
		return
	}
	fields := strings.Fields(content[len(r.opts.Prefix):])
	if len(fields) == 0 {
		return
	}
	if _, ok := r.Command(fields[0]); ok {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Unknown command. Use %shelp to list commands.", r.opts.Prefix)); err != nil {
		r.logger.Warn("Failed to answer unknown command", "channelID", m.ChannelID, "error", err)
	}
}

// Run checks permissions and arguments for one invocation and executes the
// handler. Refusals are answered to the user and returned as *CommandError.
func (r *Registry) Run(cmd *Command, ctx *Context, raw []string) error {
	ctx.Command = cmd
	ctx.Registry = r
	ctx.Store = r.opts.Store
	ctx.Logger = r.logger.With("command", cmd.Name, "guildID", ctx.GuildID, "userID", ctx.AuthorID)
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}

	if reason, msg := r.refusal(cmd, ctx); reason != "" {
		r.observeRejected(reason)
		return r.refuse(ctx, msg)
	}

	args, err := cmd.parseArgs(raw)
	if err != nil {
		r.observeRejected("arguments")
		return r.refuse(ctx, fmt.Sprintf("%v. Usage: `%s%s`", err, r.opts.Prefix, cmd.usage()))
	}
	for k, v := range args {
		ctx.Args[k] = v
	}

	if r.opts.Metrics != nil {
		metrics.Inc(r.opts.Metrics.CommandsExecuted, cmd.Name)
	}
	ctx.Logger.Info("Executing command")
	done := perf.Track(ctx.Logger, "command", slog.String("command", cmd.Name))
	err = r.call(cmd, ctx)
	done()
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			_ = ctx.Reply(cmdErr.Message)
			return err
		}
		ctx.Logger.Error("Command execution failed", "error", err)
		_ = ctx.Reply("An error occurred while executing the command")
		return err
	}
	return nil
}

// call runs the handler on the caller's goroutine, which is usually the event
// loop. A panic is turned into an error so it cannot stop the loop.
func (r *Registry) call(cmd *Command, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ctx.Logger.Error("Command handler panicked", "panic", rec, "stack", string(debug.Stack()))
			if r.opts.Metrics != nil {
				metrics.Inc(r.opts.Metrics.CommandPanics, cmd.Name)
			}
			err = fmt.Errorf("command %s panicked: %v", cmd.Name, rec)
		}
	}()
	return cmd.Handler(ctx)
}

func (r *Registry) refusal(cmd *Command, ctx *Context) (reason, msg string) {
	if cmd.OwnerOnly && !r.IsOwner(ctx.AuthorID) {
		return "owner", fmt.Sprintf("The `%s` command can only be used by the bot owners.", cmd.Name)
	}
	if cmd.GuildOnly && ctx.GuildID == "" {
		return "guild", fmt.Sprintf("The `%s` command can only be used in a server.", cmd.Name)
	}
	if ctx.GuildID != "" && r.opts.Store != nil && !cmd.Group.Guarded {
		enabled, err := r.opts.Store.CommandEnabled(ctx.GuildID, cmd.Name)
		if err != nil {
			ctx.Logger.Warn("Failed to read command state; allowing command", "error", err)
			return "", ""
		}
		if !enabled {
			return "disabled", fmt.Sprintf("The `%s` command is disabled in this server.", cmd.Name)
		}
	}
	return "", ""
}

func (r *Registry) refuse(ctx *Context, msg string) error {
	if err := ctx.Reply(msg); err != nil {
		ctx.Logger.Warn("Failed to send refusal", "error", err)
	}
	return &CommandError{Message: msg}
}

func (r *Registry) observeRejected(reason string) {
	if r.opts.Metrics != nil {
		metrics.Inc(r.opts.Metrics.CommandsRejected, reason)
	}
}

// parseArgs maps raw positional values onto the declared arguments. The last
// argument absorbs any extra words.
func (c *Command) parseArgs(raw []string) (map[string]any, error) {
	out := make(map[string]any, len(c.Args))
	for i, spec := range c.Args {
		if i >= len(raw) {
			if spec.Optional {
				continue
			}
			return nil, fmt.Errorf("missing argument %q", spec.Key)
		}
		value := raw[i]
		if i == len(c.Args)-1 && len(raw) > len(c.Args) {
			value = strings.Join(raw[i:], " ")
		}
		v, err := c.argTypes[i].Parse(value)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %v", spec.Key, err)
		}
		out[spec.Key] = v
	}
	return out, nil
}

func (c *Command) usage() string {
	if c.Usage != "" {
		return c.Usage
	}
	parts := []string{c.Name}
	for _, a := range c.Args {
		if a.Optional {
			parts = append(parts, "["+a.Key+"]")
		} else {
			parts = append(parts, "<"+a.Key+">")
		}
	}
	return strings.Join(parts, " ")
}
