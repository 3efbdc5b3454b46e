package agent

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

// scriptedLink is a minimal in-memory Link. Ending it mimics the real
// client: OnEnded fires, then Done closes, and Close blocks on Done.
type scriptedLink struct {
	ev      worldlink.Events
	done    chan struct{}
	endOnce sync.Once

	mu   sync.Mutex
	chat []string
}

func newScriptedLink(ev worldlink.Events) *scriptedLink {
	return &scriptedLink{ev: ev, done: make(chan struct{})}
}

func (l *scriptedLink) end(reason string) {
	l.endOnce.Do(func() {
		if l.ev.OnEnded != nil {
			l.ev.OnEnded(reason)
		}
		close(l.done)
	})
}

func (l *scriptedLink) Close() error {
	l.end("closed")
	<-l.done
	return nil
}

func (l *scriptedLink) Done() <-chan struct{} { return l.done }

func (l *scriptedLink) Position() worldlink.Vec3i { return worldlink.Vec3i{X: 1, Y: 64, Z: 1} }
func (l *scriptedLink) Health() (int, int)        { return 20, 18 }
func (l *scriptedLink) Dimension() string         { return "world-1" }
func (l *scriptedLink) Spawned() bool             { return true }

func (l *scriptedLink) FindEntity(string) (worldlink.EntityRef, bool) {
	return worldlink.EntityRef{}, false
}
func (l *scriptedLink) QueryNearbyBlocks(worldlink.BlockFilter) []worldlink.BlockInfo { return nil }
func (l *scriptedLink) BlockAt(worldlink.Vec3i) (worldlink.BlockInfo, bool) {
	return worldlink.BlockInfo{}, false
}
func (l *scriptedLink) CanActOn(worldlink.BlockInfo) bool { return false }
func (l *scriptedLink) BestToolFor(string) string         { return "" }
func (l *scriptedLink) MainHand() string                  { return "" }

func (l *scriptedLink) SendChat(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chat = append(l.chat, text)
	return nil
}
func (l *scriptedLink) SendWhisper(string, string) error { return nil }
func (l *scriptedLink) LookAt(worldlink.Vec3i) error     { return nil }
func (l *scriptedLink) Equip(string, string) error       { return nil }
func (l *scriptedLink) ExecuteRemoval(context.Context, worldlink.Vec3i) error {
	return nil
}

func (l *scriptedLink) SubmitMoveTo(worldlink.Vec3i, float64) (string, error) {
	return "K_test", nil
}
func (l *scriptedLink) SubmitFollow(string, float64) (string, error) { return "K_test", nil }
func (l *scriptedLink) CancelTask(string) error                      { return nil }
func (l *scriptedLink) AwaitTask(ctx context.Context, _ string) (worldlink.TaskResult, error) {
	select {
	case <-ctx.Done():
		return worldlink.TaskResult{}, ctx.Err()
	case <-l.done:
		return worldlink.TaskResult{}, errors.New("link ended")
	}
}

// scriptedDialer hands out links (or errors) in order and fires the
// spawned signal unless told not to.
type scriptedDialer struct {
	mu       sync.Mutex
	calls    int
	failFrom int  // 1-based call index from which dials fail; 0 = never
	noSpawn  bool // suppress the spawned signal
	links    []*scriptedLink
}

func (d *scriptedDialer) dial(_ worldlink.Config, ev worldlink.Events, _ *log.Logger) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failFrom > 0 && d.calls >= d.failFrom {
		return nil, errors.New("connection refused")
	}
	l := newScriptedLink(ev)
	d.links = append(d.links, l)
	if !d.noSpawn && ev.OnSpawned != nil {
		go ev.OnSpawned()
	}
	return l, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDialer) link(i int) *scriptedLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[i]
}

type eventSink struct {
	mu    sync.Mutex
	kinds []string
}

func (e *eventSink) Record(kind string, _ map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
}

func (e *eventSink) count(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, k := range e.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		ConnectTimeout: time.Second,
		ReconnectBase:  5 * time.Millisecond,
		ReconnectCap:   20 * time.Millisecond,
		MaxReconnects:  3,
	}
}

func TestBackoffDelay(t *testing.T) {
	base, cap := 2*time.Second, time.Minute
	for _, tc := range []struct {
		n    int
		want time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{10, time.Minute},
	} {
		require.Equal(t, tc.want, backoffDelay(base, cap, tc.n), "attempt %d", tc.n)
	}
}

func TestConnect_ReadyOnSpawn(t *testing.T) {
	d := &scriptedDialer{}
	m := New(testConfig(), d.dial, nil, nil)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))

	st := m.Status()
	require.Equal(t, StateReady, st.State)
	require.True(t, st.Connected)
	require.True(t, st.Spawned)
	require.Equal(t, 20, st.Health)
	require.Equal(t, "world-1", st.Dimension)
}

func TestConnect_TimeoutWithoutSpawn(t *testing.T) {
	d := &scriptedDialer{noSpawn: true}
	cfg := testConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	m := New(cfg, d.dial, nil, nil)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionTimeout)
	require.Equal(t, StateDisconnected, m.Status().State)

	// The half-open link must be released.
	select {
	case <-d.link(0).Done():
	case <-time.After(time.Second):
		t.Fatal("link not closed after connect timeout")
	}
}

func TestConnect_ReportsConnectedNotSpawned(t *testing.T) {
	d := &scriptedDialer{noSpawn: true}
	m := New(testConfig(), d.dial, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(ctx) }()

	// Handshake done, spawn still pending.
	require.Eventually(t, func() bool {
		return m.Status().State == StateConnectedNotSpawned
	}, time.Second, time.Millisecond)

	cancel()
	require.Error(t, <-errCh)
	require.Equal(t, StateDisconnected, m.Status().State)
}

func TestConnect_DialFailure(t *testing.T) {
	d := &scriptedDialer{failFrom: 1}
	m := New(testConfig(), d.dial, nil, nil)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionError)
	require.False(t, m.Status().Connected)
}

func TestReconnect_AfterInvoluntaryEnd(t *testing.T) {
	d := &scriptedDialer{}
	ev := &eventSink{}
	m := New(testConfig(), d.dial, nil, ev)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	d.link(0).end("kicked: afk")

	require.Eventually(t, func() bool {
		return d.dialCount() == 2 && m.Status().State == StateReady
	}, 2*time.Second, time.Millisecond, "one redial restoring the session")
	require.False(t, m.Exhausted())
	require.Equal(t, 1, ev.count("link_ended"))
}

func TestReconnect_BudgetExhaustedExactlyOnce(t *testing.T) {
	d := &scriptedDialer{failFrom: 2} // every redial refused
	ev := &eventSink{}
	cfg := testConfig()
	cfg.MaxReconnects = 3
	m := New(cfg, d.dial, nil, ev)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	d.link(0).end("read tcp: connection reset")

	require.Eventually(t, m.Exhausted, 2*time.Second, time.Millisecond)
	require.Equal(t, 1+cfg.MaxReconnects, d.dialCount(), "initial dial plus the whole retry budget")
	require.Equal(t, 1, ev.count("reconnect_exhausted"))
	require.Equal(t, StateDisconnected, m.Status().State)

	// A manual connect clears the exhaustion and works again.
	d.mu.Lock()
	d.failFrom = 0
	d.mu.Unlock()
	require.NoError(t, m.Connect(context.Background()))
	require.False(t, m.Exhausted())
	require.Equal(t, StateReady, m.Status().State)
}

func TestDisconnect_SuppressesReconnect(t *testing.T) {
	d := &scriptedDialer{}
	m := New(testConfig(), d.dial, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()

	require.Equal(t, StateDisconnected, m.Status().State)
	time.Sleep(50 * time.Millisecond) // several backoff periods
	require.Equal(t, 1, d.dialCount(), "teardown must not trigger a redial")
}

func TestOperationsRequireConnection(t *testing.T) {
	m := New(testConfig(), (&scriptedDialer{}).dial, nil, nil)

	require.ErrorIs(t, m.SendChat("hi"), ErrNotConnected)
	require.ErrorIs(t, m.StopMovement(), ErrNotConnected)
	require.ErrorIs(t, m.FollowPlayer("steve", 2), ErrNotConnected)
	_, err := m.MineArea(context.Background(), worldlink.Vec3i{}, worldlink.Vec3i{})
	require.ErrorIs(t, err, ErrNotConnected)
	err = m.MoveTo(context.Background(), worldlink.Vec3i{}, time.Second)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSendChatRecorded(t *testing.T) {
	d := &scriptedDialer{}
	ev := &eventSink{}
	m := New(testConfig(), d.dial, nil, ev)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.SendChat("hello world"))
	require.Equal(t, []string{"hello world"}, d.link(0).chat)
	require.Equal(t, 1, ev.count("chat_out"))
}
