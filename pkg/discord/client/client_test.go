package client

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/soerbot/pkg/bot"
	"github.com/small-frappuccino/soerbot/pkg/log"
)

// inline runs posted work immediately and records failures.
type inline struct {
	mu       sync.Mutex
	failures []error
}

func (s *inline) Post(fn func()) bool { fn(); return true }
func (s *inline) Fail(err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
}

func newTestClient() *Client {
	return New(&inline{}, Options{CommandPrefix: "!", Logger: log.Discard()})
}

func stubGateway(t *testing.T, fn func(token string, setup ...func(*discordgo.Session)) (*discordgo.Session, error)) {
	t.Helper()
	orig := openGateway
	origLogger := discordgo.Logger
	openGateway = fn
	t.Cleanup(func() {
		openGateway = orig
		discordgo.Logger = origLogger
	})
}

func fakeGateway(t *testing.T) func(string, ...func(*discordgo.Session)) (*discordgo.Session, error) {
	return func(token string, setup ...func(*discordgo.Session)) (*discordgo.Session, error) {
		s, err := discordgo.New("Bot " + token)
		if err != nil {
			t.Fatalf("discordgo.New() failed: %v", err)
		}
		for _, fn := range setup {
			fn(s)
		}
		return s, nil
	}
}

func TestLoginSuccess(t *testing.T) {
	var captured *discordgo.Session
	gw := fakeGateway(t)
	stubGateway(t, func(token string, setup ...func(*discordgo.Session)) (*discordgo.Session, error) {
		s, err := gw(token, setup...)
		captured = s
		return s, err
	})

	c := newTestClient()
	if err := c.Login("secret").Wait(); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if captured == nil || captured.Token != "Bot secret" {
		t.Fatalf("expected gateway to be opened with the bot token")
	}
	if captured.LogLevel == discordgo.LogDebug {
		t.Fatalf("debug logging must stay off without debug listeners")
	}
	if err := c.Login("secret").Wait(); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Fatalf("expected ErrAlreadyLoggedIn, got %v", err)
	}
}

func TestLoginFailure(t *testing.T) {
	stubGateway(t, func(string, ...func(*discordgo.Session)) (*discordgo.Session, error) {
		return nil, errors.New("401 unauthorized")
	})
	c := newTestClient()
	err := c.Login("bad").Wait()
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected login error, got %v", err)
	}
	if c.Channels() != nil {
		t.Fatalf("expected no channels after a failed login")
	}
}

func TestLoginForwardsDebug(t *testing.T) {
	var captured *discordgo.Session
	gw := fakeGateway(t)
	stubGateway(t, func(token string, setup ...func(*discordgo.Session)) (*discordgo.Session, error) {
		s, err := gw(token, setup...)
		captured = s
		return s, err
	})

	c := newTestClient()
	var mu sync.Mutex
	var messages []string
	c.On(bot.EventDebug, func(args ...any) {
		mu.Lock()
		messages = append(messages, args[0].(string))
		mu.Unlock()
	})
	if err := c.Login("secret").Wait(); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if captured.LogLevel != discordgo.LogDebug {
		t.Fatalf("expected discordgo debug logging, got level %d", captured.LogLevel)
	}
	discordgo.Logger(discordgo.LogDebug, 0, "heartbeat %d", 1)

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(messages, "\n")
	for _, want := range []string{"Logging in to Discord", "Gateway connection open", "[DG3] heartbeat 1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("debug output missing %q:\n%s", want, joined)
		}
	}
}

func TestReadySetsUser(t *testing.T) {
	c := newTestClient()
	if c.User() != nil {
		t.Fatalf("expected no user before ready")
	}
	var got []any
	c.On(bot.EventReady, func(args ...any) { got = args })

	c.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "175928847299117063", Username: "soer", Discriminator: "0"}})

	u := c.User()
	if u == nil || u.Tag() != "soer" {
		t.Fatalf("unexpected user %+v", u)
	}
	want := time.Date(2016, time.April, 30, 11, 18, 25, 796e6, time.UTC)
	if !u.CreatedAt.Equal(want) {
		t.Fatalf("CreatedAt = %v, want %v", u.CreatedAt, want)
	}
	if len(got) != 1 || got[0] != c {
		t.Fatalf("expected ready to carry the client, got %v", got)
	}
}

func mainGuild(unavailable bool) *discordgo.Guild {
	g := &discordgo.Guild{ID: "g1", Unavailable: unavailable}
	if !unavailable {
		g.Channels = []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Name: "основной", Type: discordgo.ChannelTypeGuildText},
		}
	}
	return g
}

func TestReadyWaitsForGuildsDuringOpen(t *testing.T) {
	gw := fakeGateway(t)
	c := newTestClient()
	var visible []bool
	c.On(bot.EventReady, func(...any) {
		visible = append(visible, c.Channels().ByName("основной") != nil)
	})
	opened := make(chan *discordgo.Session, 1)
	// discordgo delivers READY and the guilds before Open returns.
	stubGateway(t, func(token string, setup ...func(*discordgo.Session)) (*discordgo.Session, error) {
		s, err := gw(token, setup...)
		if err != nil {
			return nil, err
		}
		if err := s.State.GuildAdd(mainGuild(true)); err != nil {
			return nil, err
		}
		c.onReady(s, &discordgo.Ready{
			User:   &discordgo.User{ID: "175928847299117063", Username: "soer"},
			Guilds: []*discordgo.Guild{mainGuild(true)},
		})
		if len(visible) != 0 {
			t.Errorf("ready must wait for unavailable guilds")
		}
		full := mainGuild(false)
		if err := s.State.GuildAdd(full); err != nil {
			return nil, err
		}
		c.onGuildCreate(s, &discordgo.GuildCreate{Guild: full})
		opened <- s
		return s, nil
	})

	if err := c.Login("secret").Wait(); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	<-opened
	if len(visible) != 1 || !visible[0] {
		t.Fatalf("expected one ready with the main channel visible, got %v", visible)
	}
}

func TestReadyWithGuildsAlreadyInState(t *testing.T) {
	c := newTestClient()
	s, err := discordgo.New("Bot secret")
	if err != nil {
		t.Fatalf("discordgo.New() failed: %v", err)
	}
	if err := s.State.GuildAdd(mainGuild(false)); err != nil {
		t.Fatalf("GuildAdd() failed: %v", err)
	}
	readies := 0
	c.On(bot.EventReady, func(...any) { readies++ })

	c.onReady(s, &discordgo.Ready{
		User:   &discordgo.User{ID: "175928847299117063", Username: "soer"},
		Guilds: []*discordgo.Guild{mainGuild(true)},
	})
	c.onGuildCreate(s, &discordgo.GuildCreate{Guild: mainGuild(false)})
	if readies != 1 {
		t.Fatalf("expected a single immediate ready, got %d", readies)
	}
}

func TestReadyAfterTimeoutWithUnavailableGuild(t *testing.T) {
	orig := readyTimeout
	readyTimeout = 10 * time.Millisecond
	t.Cleanup(func() { readyTimeout = orig })

	c := newTestClient()
	fired := make(chan struct{}, 1)
	c.On(bot.EventReady, func(...any) { fired <- struct{}{} })

	c.onReady(nil, &discordgo.Ready{
		User:   &discordgo.User{ID: "175928847299117063", Username: "soer"},
		Guilds: []*discordgo.Guild{mainGuild(true)},
	})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected ready after the guild wait expired")
	}
	c.onGuildCreate(nil, &discordgo.GuildCreate{Guild: mainGuild(false)})
	select {
	case <-fired:
		t.Fatalf("a late guild must not emit ready again")
	default:
	}
}

func TestGatewayEventsReemitted(t *testing.T) {
	c := newTestClient()
	var events []string
	c.On(bot.EventDisconnect, func(...any) { events = append(events, bot.EventDisconnect) })
	c.On(bot.EventReconnect, func(...any) { events = append(events, bot.EventReconnect) })
	c.onDisconnect(nil, &discordgo.Disconnect{})
	c.onResumed(nil, &discordgo.Resumed{})
	if strings.Join(events, ",") != "disconnect,reconnect" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestChannelsFromState(t *testing.T) {
	c := newTestClient()
	state := discordgo.NewState()
	if err := state.GuildAdd(&discordgo.Guild{
		ID: "g1",
		Channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Name: "основной", Type: discordgo.ChannelTypeGuildText},
			{ID: "c2", GuildID: "g1", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
			{ID: "c3", GuildID: "g1", Name: "general", Type: discordgo.ChannelTypeGuildText},
		},
	}); err != nil {
		t.Fatalf("GuildAdd() failed: %v", err)
	}
	c.session = &discordgo.Session{State: state}

	chans := c.Channels()
	if len(chans) != 2 {
		t.Fatalf("expected two text channels, got %d", len(chans))
	}
	primary := chans.ByName("основной")
	if primary == nil || primary.ID() != "c1" {
		t.Fatalf("expected to find the main channel, got %v", primary)
	}
	if chans.ByName("voice") != nil {
		t.Fatalf("voice channels must be excluded")
	}
}

func TestSendRequiresSession(t *testing.T) {
	c := newTestClient()
	ch := &channel{client: c, id: "c1", name: "general"}
	if err := ch.Send("hi").Wait(); err == nil {
		t.Fatalf("expected send without session to fail")
	}
}

func TestDestroyWithoutLogin(t *testing.T) {
	if err := newTestClient().Destroy(); err != nil {
		t.Fatalf("Destroy() = %v", err)
	}
}
