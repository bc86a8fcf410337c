package session

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/soerbot/pkg/errutil"
	"github.com/small-frappuccino/soerbot/pkg/log"
)

// Error messages
const (
	ErrSessionCreationFailed   = "failed to create Discord session: %w"
	ErrSessionConnectionFailed = "failed to connect to Discord: %w"
)

// Intents requested by the bot: guild metadata and prefixed text commands.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentMessageContent

var ErrEmptyToken = errors.New("discord bot token is empty")

var (
	newSession   = discordgo.New
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// NewDiscordSession creates a session for token, runs each setup hook on it
// and opens the gateway. Hooks run before the connection so that handlers
// added there see the first Ready event. The session is closed when opening
// fails.
func NewDiscordSession(token string, setup ...func(*discordgo.Session)) (*discordgo.Session, error) {
	logger := log.DiscordLogger()
	if token == "" {
		logger.Error("Discord bot token is empty")
		return nil, ErrEmptyToken
	}

	logger.Info("Creating Discord session")
	var s *discordgo.Session
	if err := errutil.HandleDiscordError("create_session", func() error {
		var err error
		s, err = newSession("Bot " + token)
		return err
	}); err != nil {
		return nil, fmt.Errorf(ErrSessionCreationFailed, err)
	}
	s.Identify.Intents = Intents

	for _, fn := range setup {
		if fn != nil {
			fn(s)
		}
	}

	logger.Info("Connecting to Discord")
	if err := errutil.HandleDiscordError("connect", func() error {
		return openSession(s)
	}); err != nil {
		if cerr := closeSession(s); cerr != nil {
			logger.Warn("Failed to close session after connect error", "error", cerr)
		}
		return nil, fmt.Errorf(ErrSessionConnectionFailed, err)
	}

	logger.Info("Connected to Discord")
	return s, nil
}

// Close closes the gateway connection of s. A nil session is a no-op.
func Close(s *discordgo.Session) error {
	if s == nil {
		return nil
	}
	return errutil.HandleDiscordError("close_session", func() error {
		return closeSession(s)
	})
}
