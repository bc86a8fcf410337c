// Package builtin holds the compiled-in command handlers that discovered
// command manifests refer to.
package builtin

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/small-frappuccino/soerbot/pkg/discord/cleanup"
	"github.com/small-frappuccino/soerbot/pkg/discord/commands/core"
)

// Handler references accepted in command manifests.
const (
	HandlerPing    = "util.ping"
	HandlerHelp    = "util.help"
	HandlerRoll    = "games.roll"
	HandlerFlip    = "games.flip"
	HandlerClear   = "moderation.clear"
	HandlerDisable = "moderation.disable"
	HandlerEnable  = "moderation.enable"
)

const maxClear = 100

var intN = rand.IntN

// Catalog returns every built-in handler keyed by its manifest reference.
func Catalog() core.Catalog {
	return core.Catalog{
		HandlerPing:    ping,
		HandlerHelp:    help,
		HandlerRoll:    roll,
		HandlerFlip:    flip,
		HandlerClear:   clearMessages,
		HandlerDisable: toggle(false),
		HandlerEnable:  toggle(true),
	}
}

func ping(ctx *core.Context) error {
	if ctx.Session == nil {
		return ctx.Reply("Pong!")
	}
	return ctx.Reply(fmt.Sprintf("Pong! Heartbeat latency: %s", ctx.Session.HeartbeatLatency().Round(time.Millisecond)))
}

func help(ctx *core.Context) error {
	disabled := map[string]bool{}
	if ctx.Store != nil && ctx.GuildID != "" {
		names, err := ctx.Store.DisabledCommands(ctx.GuildID)
		if err != nil {
			ctx.Logger.Warn("Failed to read disabled commands", "error", err)
		}
		for _, n := range names {
			disabled[n] = true
		}
	}

	var b strings.Builder
	prefix := ctx.Registry.Prefix()
	for _, g := range ctx.Registry.Groups() {
		var lines []string
		for _, c := range ctx.Registry.Commands() {
			if c.Group.ID != g.ID {
				continue
			}
			line := fmt.Sprintf("`%s%s`", prefix, c.Name)
			if c.Description != "" {
				line += " - " + c.Description
			}
			if disabled[c.Name] && !g.Guarded {
				line += " (disabled)"
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "**%s**\n%s\n", g.Name, strings.Join(lines, "\n"))
	}
	if b.Len() == 0 {
		return ctx.Reply("No commands are registered.")
	}
	return ctx.Reply(strings.TrimRight(b.String(), "\n"))
}

func roll(ctx *core.Context) error {
	sides := ctx.Int("sides", 6)
	if sides < 2 || sides > 1000 {
		return core.NewCommandError("A die needs between 2 and 1000 sides.")
	}
	return ctx.Reply(fmt.Sprintf("🎲 %d (d%d)", intN(int(sides))+1, sides))
}

func flip(ctx *core.Context) error {
	if intN(2) == 0 {
		return ctx.Reply("🪙 Heads")
	}
	return ctx.Reply("🪙 Tails")
}

func clearMessages(ctx *core.Context) error {
	amount := ctx.Int("amount", 0)
	if amount < 1 || amount > maxClear {
		return core.NewCommandError("Amount must be between 1 and %d.", maxClear)
	}
	if ctx.Session == nil {
		return fmt.Errorf("no session available")
	}
	msgs, err := ctx.Session.ChannelMessages(ctx.ChannelID, int(amount), "", "", "")
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	res := cleanup.DeleteMessages(ctx.Session, ctx.ChannelID, ids, cleanup.DeleteOptions{
		OnDeleteError: func(id string, err error) {
			ctx.Logger.Warn("Failed to delete message", "messageID", id, "error", err)
		},
	})
	ctx.Logger.Info("Cleared messages", "channelID", ctx.ChannelID, "deleted", res.Deleted, "failed", res.Failed)
	if res.Failed > 0 {
		return ctx.Reply(fmt.Sprintf("Deleted %d messages, %d could not be deleted.", res.Deleted, res.Failed))
	}
	return ctx.Reply(fmt.Sprintf("Deleted %d messages.", res.Deleted))
}

func toggle(enabled bool) core.Handler {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	return func(ctx *core.Context) error {
		if ctx.Store == nil {
			return core.NewCommandError("Command settings are not available.")
		}
		target, ok := ctx.Registry.Command(ctx.String("command"))
		if !ok {
			return core.NewCommandError("Unknown command `%s`.", ctx.String("command"))
		}
		if target.Group.Guarded {
			return core.NewCommandError("The `%s` command belongs to the guarded %s group.", target.Name, target.Group.Name)
		}
		if err := ctx.Store.SetCommandEnabled(ctx.GuildID, target.Name, enabled); err != nil {
			return err
		}
		return ctx.Reply(fmt.Sprintf("The `%s` command is now %s.", target.Name, verb))
	}
}
