package router

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/chatrelay/codec"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/internal/testconn"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedBans struct {
	mu     sync.Mutex
	calls  map[string]time.Duration
	lifted []string
	reg    *registry.Registry
}

func (b *recordedBans) Lift(addr string) bool {
	b.mu.Lock()
	b.lifted = append(b.lifted, addr)
	b.mu.Unlock()
	return b.reg.Unban(addr)
}

func (b *recordedBans) Schedule(addr string, after time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = map[string]time.Duration{}
	}
	b.calls[addr] = after
}

type fixture struct {
	reg    *registry.Registry
	router *Router
	store  *config.Store
	bans   *recordedBans
	conns  map[int]*testconn.Conn
	ss     map[int]*session.Session
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	f := &fixture{
		reg:   registry.New(logger.NewNopLogger()),
		store: config.NewStore(config.Default()),
		bans:  &recordedBans{},
		conns: map[int]*testconn.Conn{},
		ss:    map[int]*session.Session{},
	}
	f.bans.reg = f.reg
	f.router = New(f.reg, f.store, logger.NewNopLogger(), WithBanExpiry(f.bans), WithMetrics(metrics.New()))

	for id, name := range names {
		conn := testconn.New(fmt.Sprintf("10.2.0.%d:6000", id+1))
		s := session.New(conn, session.Options{})
		require.NoError(t, s.Establish(id, name))
		require.NoError(t, f.reg.Admit(s))
		f.conns[id] = conn
		f.ss[id] = s
	}
	for _, conn := range f.conns {
		conn.Reset()
	}

	return f
}

func (f *fixture) handle(t *testing.T, id int, line string) {
	t.Helper()
	p, err := codec.Decode([]byte(line))
	require.NoError(t, err)
	f.router.Handle(f.ss[id], p)
}

func TestHandle_PostMessage(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	f.handle(t, 1, "32|hello all")

	want := fmt.Sprintf("34|%d|hello all", codec.MessageSenderID(1))
	assert.Equal(t, []string{want}, f.conns[0].Lines())
	assert.Equal(t, []string{want}, f.conns[1].Lines(), "sender receives its own message")
	assert.Equal(t, uint64(1), f.ss[1].MessagesSent())
	assert.Equal(t, uint64(0), f.ss[0].MessagesSent())
}

func TestHandle_Whisper(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	f.handle(t, 1, "35|alice|hi")
	assert.Equal(t, []string{"37|1|hi"}, f.conns[0].Lines())
	assert.Equal(t, []string{"38|0|hi"}, f.conns[1].Lines())

	t.Run("unknown target", func(t *testing.T) {
		f.conns[0].Reset()
		f.conns[1].Reset()

		f.handle(t, 1, "35|carol|hi")
		assert.Equal(t, []string{"-38"}, f.conns[1].Lines())
		assert.Empty(t, f.conns[0].Lines())
	})

	t.Run("target match is case sensitive", func(t *testing.T) {
		f.conns[1].Reset()
		f.handle(t, 1, "35|ALICE|hi")
		assert.Equal(t, []string{"-38"}, f.conns[1].Lines())
	})
}

func TestHandle_IgnoresUnknownHeaders(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	cfg := *f.store.Get()
	cfg.LogPackets = true
	_, _, err := f.store.Apply(&cfg)
	require.NoError(t, err)

	for _, line := range []string{"99|x", "E|alice", "1|0|alice", "-1"} {
		f.handle(t, 0, line)
	}

	assert.Empty(t, f.conns[0].Lines())
	assert.Empty(t, f.conns[1].Lines())
	assert.Equal(t, session.Online, f.ss[0].State())
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	assert.Equal(t, 2, f.router.Broadcast("maintenance soon"))
	assert.Equal(t, []string{"3|maintenance soon"}, f.conns[0].Lines())
	assert.Equal(t, []string{"3|maintenance soon"}, f.conns[1].Lines())
}

func TestAdminMessage(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	missing := f.router.AdminMessage("behave", []int{0, 2, 7})
	assert.Equal(t, []int{7}, missing)
	assert.Equal(t, []string{"4|behave"}, f.conns[0].Lines())
	assert.Empty(t, f.conns[1].Lines())
	assert.Equal(t, []string{"4|behave"}, f.conns[2].Lines())
}

func TestKick(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	kicked, err := f.router.Kick(1, time.Minute)
	require.NoError(t, err)
	assert.Same(t, f.ss[1], kicked)

	notice := "3|bob [1] has been kicked from the server!"
	assert.Equal(t, []string{notice, fmt.Sprintf("12|%d", codec.DepartedID(1))}, f.conns[0].Lines())
	assert.Equal(t, []string{notice, "-1"}, f.conns[1].Lines())

	assert.Equal(t, session.Offline, f.ss[1].State())
	assert.True(t, f.conns[1].Closed())
	assert.True(t, f.reg.IsBanned("10.2.0.2"))
	assert.Equal(t, time.Minute, f.bans.calls["10.2.0.2"])
	assert.Equal(t, 1, f.reg.Count())

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.router.Kick(1, time.Minute)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("zero ban time lifts the ban at once", func(t *testing.T) {
		_, err := f.router.Kick(0, 0)
		require.NoError(t, err)
		assert.False(t, f.reg.IsBanned("10.2.0.1"))
		assert.Equal(t, []string{"10.2.0.1"}, f.bans.lifted)
		_, scheduled := f.bans.calls["10.2.0.1"]
		assert.False(t, scheduled)
		assert.Equal(t, 0, f.reg.Count())
	})
}

func TestKick_WithoutBanExpiry(t *testing.T) {
	reg := registry.New(logger.NewNopLogger())
	r := New(reg, config.NewStore(config.Default()), logger.NewNopLogger())
	for id, name := range []string{"alice", "bob"} {
		s := session.New(testconn.New(fmt.Sprintf("10.2.1.%d:6000", id+1)), session.Options{})
		require.NoError(t, s.Establish(id, name))
		require.NoError(t, reg.Admit(s))
	}

	_, err := r.Kick(0, 0)
	require.NoError(t, err)
	assert.False(t, reg.IsBanned("10.2.1.1"))

	_, err = r.Kick(1, time.Hour)
	require.NoError(t, err)
	assert.True(t, reg.IsBanned("10.2.1.2"))
}

func TestSendServerInfo(t *testing.T) {
	f := newFixture(t, "alice")
	cfg := *f.store.Get()
	cfg.WelcomeMessage = "be nice"
	_, _, err := f.store.Apply(&cfg)
	require.NoError(t, err)

	f.router.SendServerInfo(f.ss[0])
	assert.Equal(t, []string{"69|admin|chatrelay", "3|be nice"}, f.conns[0].Lines())
}
