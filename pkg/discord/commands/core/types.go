package core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/soerbot/pkg/storage"
)

// Group is a named set of commands. Commands of a guarded group cannot be
// disabled per guild.
type Group struct {
	ID      string
	Name    string
	Guarded bool
}

// ArgSpec declares one positional argument of a command.
type ArgSpec struct {
	Key      string `toml:"key"`
	Type     string `toml:"type"`
	Optional bool   `toml:"optional"`
}

// Descriptor is the declarative form of a command, as found by discovery.
type Descriptor struct {
	Name        string    `toml:"name"`
	Group       string    `toml:"group"`
	Description string    `toml:"description"`
	Handler     string    `toml:"handler"`
	Aliases     []string  `toml:"aliases"`
	Usage       string    `toml:"usage"`
	OwnerOnly   bool      `toml:"owner_only"`
	GuildOnly   bool      `toml:"guild_only"`
	Args        []ArgSpec `toml:"args"`

	// Source is the file the descriptor was read from, when any.
	Source string `toml:"-"`
}

func (d Descriptor) String() string {
	if d.Source != "" {
		return fmt.Sprintf("%s (%s)", d.Name, d.Source)
	}
	return d.Name
}

// Handler executes a command.
type Handler func(ctx *Context) error

// Catalog maps handler references used by descriptors to compiled-in handlers.
type Catalog map[string]Handler

// Command is a registered, resolved descriptor.
type Command struct {
	Descriptor
	Group   *Group
	Handler Handler

	argTypes []ArgumentType
}

// Context is handed to a handler for one invocation.
type Context struct {
	Session   *discordgo.Session
	GuildID   string
	ChannelID string
	AuthorID  string
	Command   *Command
	Args      map[string]any
	Registry  *Registry
	Store     *storage.Store
	Logger    *slog.Logger

	reply func(content string) error
}

// NewContext builds a context whose replies go to reply. Dispatch builds its
// own; tests and alternative front ends use this.
func NewContext(reply func(content string) error) *Context {
	return &Context{Args: map[string]any{}, reply: reply}
}

// Reply answers in the channel the command was invoked from.
func (c *Context) Reply(content string) error {
	if c.reply == nil {
		return fmt.Errorf("no reply target for command %q", c.commandName())
	}
	return c.reply(content)
}

// String returns the named argument as a string, or "" when it is absent.
func (c *Context) String(key string) string {
	v, _ := c.Args[key].(string)
	return v
}

// Int returns the named integer argument, or def when it is absent.
func (c *Context) Int(key string, def int64) int64 {
	if v, ok := c.Args[key].(int64); ok {
		return v
	}
	return def
}

func (c *Context) commandName() string {
	if c.Command == nil {
		return ""
	}
	return c.Command.Name
}

// CommandError carries a message meant for the invoking user.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// NewCommandError creates a user-facing command error.
func NewCommandError(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...)}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
