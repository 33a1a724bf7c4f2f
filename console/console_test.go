package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cyberinferno/chatrelay/bans"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/internal/testconn"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/router"
	"github.com/cyberinferno/chatrelay/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReloader struct {
	result config.ReloadResult
	err    error
	calls  int
}

func (s *stubReloader) Reload() (config.ReloadResult, error) {
	s.calls++
	return s.result, s.err
}

type fixture struct {
	console *Console
	out     *bytes.Buffer
	reg     *registry.Registry
	conns   []*testconn.Conn
	reload  *stubReloader
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	log := logger.NewNopLogger()
	cfg := config.Default()
	cfg.DefaultBanTime = time.Hour
	store := config.NewStore(cfg)
	reg := registry.New(log)
	scheduler := bans.NewScheduler(reg, time.Minute, log)

	f := &fixture{out: &bytes.Buffer{}, reg: reg, reload: &stubReloader{}}
	f.console = &Console{
		Registry: reg,
		Router:   router.New(reg, store, log, router.WithBanExpiry(scheduler)),
		Settings: store,
		Bans:     scheduler,
		Reloader: f.reload,
		Out:      f.out,
		Logger:   log,
	}

	for id, name := range names {
		conn := testconn.New(fmt.Sprintf("10.3.0.%d:7000", id+1))
		s := session.New(conn, session.Options{})
		require.NoError(t, s.Establish(id, name))
		require.NoError(t, reg.Admit(s))
		f.conns = append(f.conns, conn)
	}
	for _, conn := range f.conns {
		conn.Reset()
	}

	return f
}

func TestExecute_Clients(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.console.Execute("clients"))
	out := f.out.String()
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "10.3.0.2")
	assert.Contains(t, out, "2 users online")
}

func TestExecute_Broadcast(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.console.Execute("b server restarting soon"))
	assert.Equal(t, []string{"3|server restarting soon"}, f.conns[0].Lines())
	assert.Equal(t, []string{"3|server restarting soon"}, f.conns[1].Lines())

	assert.ErrorIs(t, f.console.Execute("b"), ErrUsage)
}

func TestExecute_AdminMessage(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.console.Execute("a 1,5^stop spamming"))
	assert.Empty(t, f.conns[0].Lines())
	assert.Equal(t, []string{"4|stop spamming"}, f.conns[1].Lines())
	assert.Contains(t, f.out.String(), "No client with UID: 5")

	assert.ErrorIs(t, f.console.Execute("a x^hi"), ErrUsage)
	assert.ErrorIs(t, f.console.Execute("a 1 hi"), ErrUsage)
}

func TestExecute_Kick(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.console.Execute("k 1 30"))
	assert.True(t, f.reg.IsBanned("10.3.0.2"))
	pending := f.console.Bans.Pending()
	require.Len(t, pending, 1)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), pending[0].Until, 5*time.Second)
	assert.Contains(t, f.out.String(), "kicked bob [1]")

	t.Run("default ban time", func(t *testing.T) {
		require.NoError(t, f.console.Execute("k 0"))
		pending := f.console.Bans.Pending()
		require.Len(t, pending, 2)
		assert.Equal(t, "10.3.0.1", pending[1].Addr)
		assert.WithinDuration(t, time.Now().Add(time.Hour), pending[1].Until, 5*time.Second)
	})

	t.Run("errors", func(t *testing.T) {
		assert.ErrorIs(t, f.console.Execute("k 9"), router.ErrSessionNotFound)
		assert.ErrorIs(t, f.console.Execute("k x"), ErrUsage)
		assert.ErrorIs(t, f.console.Execute("k 1 -5"), ErrUsage)
	})
}

func TestExecute_KickWithoutBan(t *testing.T) {
	f := newFixture(t, "alice")

	require.NoError(t, f.console.Execute("k 0 0"))
	assert.False(t, f.reg.IsBanned("10.3.0.1"))
	assert.Empty(t, f.console.Bans.Pending())
	assert.Equal(t, 0, f.reg.Count())
	assert.Contains(t, f.out.String(), "not banned")
}

func TestExecute_UserData(t *testing.T) {
	f := newFixture(t, "alice")

	require.NoError(t, f.console.Execute("udata 0"))
	assert.Contains(t, f.out.String(), "Username: alice")

	require.NoError(t, f.console.Execute("udata alice"))
	assert.Contains(t, f.out.String(), "UID: 0")

	require.NoError(t, f.console.Execute("udata 4"))
	assert.Contains(t, f.out.String(), "No client with UID: 4")

	require.NoError(t, f.console.Execute("udata carol"))
	assert.Contains(t, f.out.String(), "No client with Username: carol")
}

func TestExecute_Settings(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.console.Execute("settings"))
	assert.Contains(t, f.out.String(), "maxClients")
	assert.Contains(t, f.out.String(), "LIVE RELOAD")

	f.out.Reset()
	require.NoError(t, f.console.Execute("settings svName"))
	assert.Contains(t, f.out.String(), "chatrelay")

	f.out.Reset()
	require.NoError(t, f.console.Execute("settings nope"))
	assert.Contains(t, f.out.String(), "Not found")
}

func TestExecute_Edit(t *testing.T) {
	f := newFixture(t)

	t.Run("live keys change at once", func(t *testing.T) {
		require.NoError(t, f.console.Execute("e svWelcomeMsg=hello: everyone"))
		assert.Equal(t, "hello: everyone", f.console.Settings.WelcomeMessage())

		require.NoError(t, f.console.Execute("e defaultBanTime=90s"))
		assert.Equal(t, 90*time.Second, f.console.Settings.DefaultBanTime())

		require.NoError(t, f.console.Execute("e logPackets=true"))
		assert.True(t, f.console.Settings.LogPackets())
		assert.Contains(t, f.out.String(), "Changed: logPackets")
	})

	t.Run("restart keys are reported and kept", func(t *testing.T) {
		f.out.Reset()
		require.NoError(t, f.console.Execute("e maxClients=3"))
		assert.Equal(t, 50, f.console.Settings.Get().MaxClients)
		assert.Contains(t, f.out.String(), "Needs restart: maxClients")
	})

	t.Run("unknown key", func(t *testing.T) {
		f.out.Reset()
		require.NoError(t, f.console.Execute("e colour=blue"))
		assert.Contains(t, f.out.String(), "No such key: colour")
	})

	t.Run("rejected values", func(t *testing.T) {
		assert.ErrorIs(t, f.console.Execute("e logPackets"), ErrUsage)
		assert.ErrorIs(t, f.console.Execute("e defaultBanTime=soon"), ErrUsage)
		assert.ErrorIs(t, f.console.Execute("e authMethod=InviteCode"), config.ErrInviteCodeUnsupported)
		assert.Equal(t, config.UsernameOnly, f.console.Settings.AuthMethod())
	})
}

func TestExecute_BansAndUnban(t *testing.T) {
	f := newFixture(t)
	f.reg.Ban("10.9.0.1")
	f.reg.Ban("10.9.0.2")
	f.console.Bans.Schedule("10.9.0.2", time.Hour)

	require.NoError(t, f.console.Execute("bans"))
	out := f.out.String()
	assert.Contains(t, out, "10.9.0.1\tuntil unban")
	assert.Contains(t, out, "10.9.0.2\tuntil ")
	assert.Contains(t, out, "2 addresses banned")

	require.NoError(t, f.console.Execute("unban 10.9.0.2"))
	assert.False(t, f.reg.IsBanned("10.9.0.2"))
	assert.Empty(t, f.console.Bans.Pending())

	require.NoError(t, f.console.Execute("unban 10.9.0.2"))
	assert.Contains(t, f.out.String(), "is not banned")
	assert.ErrorIs(t, f.console.Execute("unban"), ErrUsage)
}

func TestExecute_Reload(t *testing.T) {
	f := newFixture(t)
	f.reload.result = config.ReloadResult{Changed: []string{"logPackets"}, Ignored: []string{"serverPort"}}

	require.NoError(t, f.console.Execute("reload"))
	assert.Equal(t, 1, f.reload.calls)
	assert.Contains(t, f.out.String(), "Changed: logPackets")
	assert.Contains(t, f.out.String(), "Needs restart: serverPort")

	f.reload.err = errors.New("broken file")
	assert.EqualError(t, f.console.Execute("reload"), "broken file")
}

func TestExecute_Misc(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.console.Execute("   "))
	assert.ErrorIs(t, f.console.Execute("csn"), ErrShutdown)
	assert.ErrorIs(t, f.console.Execute("dance"), ErrUsage)

	require.NoError(t, f.console.Execute("help"))
	assert.Contains(t, f.out.String(), "udata")

	f.out.Reset()
	require.NoError(t, f.console.Execute("cls"))
	assert.Equal(t, clearScreen, f.out.String())
}

func TestRun(t *testing.T) {
	t.Run("stops on shutdown command", func(t *testing.T) {
		f := newFixture(t, "alice")
		in := strings.NewReader("b hi\nbogus\ncsn\nb never\n")

		err := f.console.Run(context.Background(), in)
		assert.ErrorIs(t, err, ErrShutdown)
		assert.Equal(t, []string{"3|hi"}, f.conns[0].Lines())
		assert.Contains(t, f.out.String(), "error:")
	})

	t.Run("returns at end of input", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.console.Run(context.Background(), strings.NewReader("help\n")))
	})

	t.Run("returns when cancelled", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		blocked := testconn.New("10.0.0.1:1")
		defer func() {
			_ = blocked.Close()
		}()
		assert.NoError(t, f.console.Run(ctx, blocked))
	})
}
