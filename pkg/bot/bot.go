// Package bot declares what the runner needs from a chat-bot client.
package bot

import (
	"strings"
	"time"

	"github.com/small-frappuccino/soerbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/soerbot/pkg/eventloop"
)

// Event names emitted by clients.
const (
	EventDebug      = "debug"
	EventReady      = "ready"
	EventStop       = "stop"
	EventDisconnect = "disconnect"
	EventReconnect  = "reconnect"
)

// Client is the authenticated bot session bound to an event loop.
type Client interface {
	// Login starts authentication. The returned future settles once the
	// gateway connection is open or has failed.
	Login(key string) *eventloop.Future
	On(event string, fn eventloop.Listener)
	Once(event string, fn eventloop.Listener)
	Emit(event string, args ...any) bool
	Registry() Registry
	// User is nil until the client is ready.
	User() *User
	Channels() Channels
}

// Registry is the command catalog of a client.
type Registry interface {
	RegisterDefaultTypes()
	RegisterDefaultGroups()
	RegisterGroup(g core.Group) error
	RegisterCommand(descriptors ...core.Descriptor) error
}

// User is the identity the client is logged in as.
type User struct {
	ID            string
	Username      string
	Discriminator string
	CreatedAt     time.Time
}

// Tag renders the user as username#discriminator, or the bare username for
// accounts without a legacy discriminator.
func (u *User) Tag() string {
	if u == nil {
		return ""
	}
	d := strings.TrimSpace(u.Discriminator)
	if d == "" || d == "0" {
		return u.Username
	}
	return u.Username + "#" + d
}

// Channel is a text channel the client can post to.
type Channel interface {
	ID() string
	Name() string
	Send(content string) *eventloop.Future
}

// Channels is a snapshot of the channels known to the client.
type Channels []Channel

// First returns the first channel matching pred, or nil.
func (cs Channels) First(pred func(Channel) bool) Channel {
	for _, c := range cs {
		if pred(c) {
			return c
		}
	}
	return nil
}

// ByName returns the first channel whose name equals name exactly.
func (cs Channels) ByName(name string) Channel {
	return cs.First(func(c Channel) bool { return c.Name() == name })
}
