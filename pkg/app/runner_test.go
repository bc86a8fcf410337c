package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/small-frappuccino/soerbot/pkg/bot"
	"github.com/small-frappuccino/soerbot/pkg/config"
	"github.com/small-frappuccino/soerbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/soerbot/pkg/discovery"
	"github.com/small-frappuccino/soerbot/pkg/eventloop"
	"github.com/small-frappuccino/soerbot/pkg/log"
)

// inlineLoop runs posted work immediately and counts Stop calls.
type inlineLoop struct {
	stops    int
	failures []error
}

func (l *inlineLoop) Post(fn func()) bool           { fn(); return true }
func (l *inlineLoop) Fail(err error)                { l.failures = append(l.failures, err) }
func (l *inlineLoop) Run(ctx context.Context) error { return nil }
func (l *inlineLoop) Stop()                         { l.stops++ }

type countingLoop struct {
	*eventloop.Loop
	mu    sync.Mutex
	stops int
}

func (l *countingLoop) Stop() {
	l.mu.Lock()
	l.stops++
	l.mu.Unlock()
	l.Loop.Stop()
}

type fakeRegistry struct {
	calls []string
}

func (r *fakeRegistry) RegisterDefaultTypes()  { r.calls = append(r.calls, "types") }
func (r *fakeRegistry) RegisterDefaultGroups() { r.calls = append(r.calls, "groups") }
func (r *fakeRegistry) RegisterGroup(g core.Group) error {
	r.calls = append(r.calls, "group:"+g.ID)
	return nil
}
func (r *fakeRegistry) RegisterCommand(ds ...core.Descriptor) error {
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		names = append(names, d.Name)
	}
	r.calls = append(r.calls, "commands:"+strings.Join(names, ","))
	return nil
}

type fakeChannel struct {
	sched   eventloop.Scheduler
	name    string
	sent    []string
	sendErr error
}

func (c *fakeChannel) ID() string   { return "id-" + c.name }
func (c *fakeChannel) Name() string { return c.name }
func (c *fakeChannel) Send(content string) *eventloop.Future {
	c.sent = append(c.sent, content)
	if c.sendErr != nil {
		return eventloop.Rejected(c.sched, c.sendErr)
	}
	return eventloop.Resolved(c.sched)
}

type fakeClient struct {
	*eventloop.Emitter
	sched    eventloop.Scheduler
	reg      *fakeRegistry
	user     *bot.User
	channels bot.Channels
	loginErr error

	logins    []string
	debugSubs int
	lookups   int
}

func newFakeClient(sched eventloop.Scheduler) *fakeClient {
	return &fakeClient{
		Emitter: eventloop.NewEmitter(sched, nil),
		sched:   sched,
		reg:     &fakeRegistry{},
	}
}

func (c *fakeClient) On(event string, fn eventloop.Listener) {
	if event == bot.EventDebug {
		c.debugSubs++
	}
	c.Emitter.On(event, fn)
}

func (c *fakeClient) Login(key string) *eventloop.Future {
	c.logins = append(c.logins, key)
	if c.loginErr != nil {
		return eventloop.Rejected(c.sched, c.loginErr)
	}
	return eventloop.Resolved(c.sched)
}

func (c *fakeClient) Registry() bot.Registry { return c.reg }
func (c *fakeClient) User() *bot.User        { return c.user }
func (c *fakeClient) Channels() bot.Channels {
	c.lookups++
	return c.channels
}

func baseConfig(overrides map[string]any) *config.Configurator {
	values := map[string]any{
		config.KeyKey:   "token",
		config.KeyUsers: []string{"1"},
	}
	for k, v := range overrides {
		values[k] = v
	}
	return config.FromMap(values)
}

func newTestRunner(t *testing.T, cfg config.Provider, loop Loop, c bot.Client, opts ...Option) (*Runner, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	opts = append([]Option{
		WithLoop(loop),
		WithClient(c),
		WithDiscoverer(discovery.Static{}),
		WithOutput(out),
		WithLogger(log.Discard()),
	}, opts...)
	r, err := NewRunner(cfg, opts...)
	if err != nil {
		t.Fatalf("NewRunner() failed: %v", err)
	}
	return r, out
}

func TestNoDebugListenerWhenDebugOff(t *testing.T) {
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	r, _ := newTestRunner(t, baseConfig(map[string]any{config.KeyDebug: false}), loop, c)
	if err := r.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if c.debugSubs != 0 || c.ListenerCount(bot.EventDebug) != 0 {
		t.Fatalf("expected no debug subscriptions, got %d", c.debugSubs)
	}
}

func TestDebugMessagesWrittenVerbatim(t *testing.T) {
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	r, out := newTestRunner(t, baseConfig(map[string]any{config.KeyDebug: true}), loop, c)
	if err := r.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if c.debugSubs != 1 {
		t.Fatalf("expected one debug subscription, got %d", c.debugSubs)
	}
	c.Emit(bot.EventDebug, "[WS] heartbeat")
	c.Emit(bot.EventDebug, "Gateway connection open")
	if diff := cmp.Diff("[WS] heartbeat\nGateway connection open\n", out.String()); diff != "" {
		t.Fatalf("unexpected output (-want +got):\n%s", diff)
	}
}

func TestSettingsRegistrationOrder(t *testing.T) {
	want := []string{"types", "groups", "group:games", "group:moderation", "commands:ping,roll"}
	for i := 0; i < 3; i++ {
		loop := &inlineLoop{}
		c := newFakeClient(loop)
		r, _ := newTestRunner(t, baseConfig(nil), loop, c,
			WithDiscoverer(discovery.Static{{Name: "ping"}, {Name: "roll"}}))
		if err := r.Settings(); err != nil {
			t.Fatalf("Settings() failed: %v", err)
		}
		if diff := cmp.Diff(want, c.reg.calls); diff != "" {
			t.Fatalf("unexpected registration order (-want +got):\n%s", diff)
		}
	}
}

func TestEmptyDiscoveryRegistersNothing(t *testing.T) {
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	r, _ := newTestRunner(t, baseConfig(nil), loop, c,
		WithCommandsDir(t.TempDir()), WithDiscoverer(discovery.NewFileDiscoverer(log.Discard())))
	if err := r.Settings(); err != nil {
		t.Fatalf("Settings() failed: %v", err)
	}
	if last := c.reg.calls[len(c.reg.calls)-1]; last != "commands:" {
		t.Fatalf("expected RegisterCommand with zero entries, got %q", last)
	}
}

type failingDiscoverer struct{}

func (failingDiscoverer) Discover(string, string) ([]core.Descriptor, error) {
	return nil, errors.New("permission denied")
}

func TestDiscoveryFailureIsFatal(t *testing.T) {
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	r, _ := newTestRunner(t, baseConfig(nil), loop, c, WithDiscoverer(failingDiscoverer{}))
	if err := r.Execute(context.Background()); err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected discovery error, got %v", err)
	}
	if len(c.logins) != 0 {
		t.Fatalf("login must not start after a discovery failure")
	}
	if r.State() != StateTerminated {
		t.Fatalf("expected TERMINATED, got %s", r.State())
	}
}

func TestMissingKeyFailsBeforeLogin(t *testing.T) {
	t.Setenv("SOERBOT_KEY", "")
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	_, err := NewRunner(config.FromMap(map[string]any{config.KeyUsers: []string{"1"}}),
		WithLoop(loop), WithClient(c), WithLogger(log.Discard()))
	if !errors.Is(err, config.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
	var missing *config.MissingKeyError
	if !errors.As(err, &missing) || missing.Key != config.KeyKey {
		t.Fatalf("expected missing key %q, got %v", config.KeyKey, err)
	}
	if len(c.logins) != 0 {
		t.Fatalf("expected zero login calls, got %d", len(c.logins))
	}
}

func TestStopEventIsOneShot(t *testing.T) {
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	r, out := newTestRunner(t, baseConfig(nil), loop, c)
	if err := r.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	c.Emit(bot.EventStop)
	c.Emit(bot.EventStop)
	if loop.stops != 1 {
		t.Fatalf("expected exactly one Stop call, got %d", loop.stops)
	}
	if out.String() != "stop\n" {
		t.Fatalf("expected a single stop line, got %q", out.String())
	}
}

func TestGreeting(t *testing.T) {
	cases := []struct {
		name        string
		development bool
		channels    []string
		wantLookups int
		wantSent    bool
	}{
		{name: "development with main channel", development: true, channels: []string{"general", MainChannel}, wantLookups: 1, wantSent: true},
		{name: "development without main channel", development: true, channels: []string{"general", "Основной"}, wantLookups: 1},
		{name: "production", development: false, channels: []string{MainChannel}, wantLookups: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loop := &inlineLoop{}
			c := newFakeClient(loop)
			var chans []*fakeChannel
			for _, n := range tc.channels {
				ch := &fakeChannel{sched: loop, name: n}
				chans = append(chans, ch)
				c.channels = append(c.channels, ch)
			}
			r, _ := newTestRunner(t, baseConfig(map[string]any{config.KeyDevelopment: tc.development}), loop, c)
			r.Greeting()
			c.Emit(bot.EventReady)
			c.Emit(bot.EventReady)

			if c.lookups != tc.wantLookups {
				t.Fatalf("expected %d channel lookups, got %d", tc.wantLookups, c.lookups)
			}
			var sent []string
			for _, ch := range chans {
				sent = append(sent, ch.sent...)
			}
			if tc.wantSent {
				if diff := cmp.Diff([]string{GreetingMessage}, sent); diff != "" {
					t.Fatalf("unexpected sends (-want +got):\n%s", diff)
				}
			} else if len(sent) != 0 {
				t.Fatalf("expected no sends, got %v", sent)
			}
			if len(loop.failures) != 0 {
				t.Fatalf("greeting must not fail the loop: %v", loop.failures)
			}
		})
	}
}

type panickingClient struct {
	*fakeClient
}

func (c *panickingClient) Channels() bot.Channels { panic("state unavailable") }

func TestGreetingSwallowsPanics(t *testing.T) {
	loop := &inlineLoop{}
	c := &panickingClient{newFakeClient(loop)}
	r, _ := newTestRunner(t, baseConfig(map[string]any{config.KeyDevelopment: true}), loop, c)
	r.Greeting()
	c.Emit(bot.EventReady)
	if len(loop.failures) != 0 {
		t.Fatalf("expected greeting panic to be contained, got %v", loop.failures)
	}
}

func TestGreetingDiscardsSendFailure(t *testing.T) {
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	ch := &fakeChannel{sched: loop, name: MainChannel, sendErr: errors.New("missing access")}
	c.channels = append(c.channels, ch)
	r, _ := newTestRunner(t, baseConfig(map[string]any{config.KeyDevelopment: true}), loop, c)
	r.Greeting()
	c.Emit(bot.EventReady)

	if len(ch.sent) != 1 {
		t.Fatalf("expected one send attempt, got %d", len(ch.sent))
	}
	if len(loop.failures) != 0 {
		t.Fatalf("send failure must not reach the loop: %v", loop.failures)
	}
}

func TestReadyStateFormat(t *testing.T) {
	ts := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	if got := FormatTimestamp(ts); got != "02.01.2024 03:04:05" {
		t.Fatalf("FormatTimestamp() = %q", got)
	}

	loop := &inlineLoop{}
	c := newFakeClient(loop)
	c.user = &bot.User{ID: "1", Username: "SoerBot", Discriminator: "1234", CreatedAt: ts}
	r, out := newTestRunner(t, baseConfig(nil), loop, c)
	r.LogReadyState()
	c.Emit(bot.EventReady)
	if want := "Logged in as SoerBot#1234 created on 02.01.2024 03:04:05\n"; out.String() != want {
		t.Fatalf("unexpected ready line %q, want %q", out.String(), want)
	}
}

func TestExecuteRunsUntilStop(t *testing.T) {
	loop := &countingLoop{Loop: eventloop.New(nil)}
	c := newFakeClient(loop)
	c.user = &bot.User{Username: "SoerBot", CreatedAt: time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)}
	r, out := newTestRunner(t, baseConfig(map[string]any{config.KeyKey: "abc"}), loop, c)
	if r.State() != StateConfigured {
		t.Fatalf("expected CONFIGURED, got %s", r.State())
	}

	done := make(chan error, 1)
	go func() { done <- r.Execute(context.Background()) }()
	c.Emit(bot.EventReady)
	c.Emit(bot.EventStop)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Execute() did not return after stop")
	}
	if r.State() != StateTerminated {
		t.Fatalf("expected TERMINATED, got %s", r.State())
	}
	if diff := cmp.Diff([]string{"abc"}, c.logins); diff != "" {
		t.Fatalf("unexpected logins (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "Logged in as SoerBot created on 02.01.2024 03:04:05\n") {
		t.Fatalf("missing ready line in %q", out.String())
	}
	loop.mu.Lock()
	defer loop.mu.Unlock()
	if loop.stops != 1 {
		t.Fatalf("expected one Stop call, got %d", loop.stops)
	}
}

func TestExecuteReturnsLoginFailure(t *testing.T) {
	loop := eventloop.New(nil)
	c := newFakeClient(loop)
	c.loginErr = errors.New("invalid token")
	r, _ := newTestRunner(t, baseConfig(nil), loop, c)

	done := make(chan error, 1)
	go func() { done <- r.Execute(context.Background()) }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "invalid token") {
			t.Fatalf("expected login failure, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Execute() did not return after a failed login")
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitingLogin.String() != "AWAITING_LOGIN" || State(42).String() != "State(42)" {
		t.Fatalf("unexpected state names")
	}
}

func TestHealthFollowsState(t *testing.T) {
	loop := &inlineLoop{}
	c := newFakeClient(loop)
	r, _ := newTestRunner(t, baseConfig(nil), loop, c)
	if state, ok := r.health(); ok || state != "CONFIGURED" {
		t.Fatalf("configured runner reported %s healthy=%v", state, ok)
	}
	r.setState(StateRunning)
	if state, ok := r.health(); !ok || state != "RUNNING" {
		t.Fatalf("running runner reported %s healthy=%v", state, ok)
	}
}

type destroyableClient struct {
	*fakeClient
	destroyed int
}

func (c *destroyableClient) Destroy() error {
	c.destroyed++
	return nil
}

func TestStopAndClose(t *testing.T) {
	loop := &inlineLoop{}
	c := &destroyableClient{fakeClient: newFakeClient(loop)}
	r, _ := newTestRunner(t, baseConfig(nil), loop, c)
	r.RegisterExitEvent()
	r.Stop()
	if loop.stops != 1 || r.State() != StateStopping {
		t.Fatalf("expected Stop to emit the stop event, stops=%d state=%s", loop.stops, r.State())
	}
	if err := r.Close(); err != nil || c.destroyed != 1 {
		t.Fatalf("expected Close to destroy the client, err=%v destroyed=%d", err, c.destroyed)
	}

	plain, _ := newTestRunner(t, baseConfig(nil), loop, newFakeClient(loop))
	if err := plain.Close(); err != nil {
		t.Fatalf("Close() without Destroy support = %v", err)
	}
}
