// Package agent owns the connection lifecycle: it dials the world
// link, wires the movement, mining and auth components once the agent
// has spawned, reconnects with exponential backoff on involuntary
// termination, and exposes the operation surface the tool server
// publishes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/VilchisJuan/minecraft-mcp/internal/agent/authflow"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/interrupt"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/mining"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/movement"
	"github.com/VilchisJuan/minecraft-mcp/internal/pathing"
	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

var (
	// ErrConnectionTimeout means the spawned signal did not arrive in time.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrConnectionError wraps link-level dial or handshake failures.
	ErrConnectionError = errors.New("connection error")
	// ErrReconnectBudgetExhausted is surfaced once after the last retry.
	ErrReconnectBudgetExhausted = errors.New("reconnect budget exhausted")
	// ErrNotConnected guards operations while no link is up.
	ErrNotConnected = errors.New("not connected")
)

// Link is the world connection surface the manager and its components
// consume. *worldlink.Client satisfies it; tests substitute fakes.
type Link interface {
	Close() error
	Done() <-chan struct{}

	Position() worldlink.Vec3i
	Health() (hp, food int)
	Dimension() string
	Spawned() bool
	FindEntity(name string) (worldlink.EntityRef, bool)
	QueryNearbyBlocks(f worldlink.BlockFilter) []worldlink.BlockInfo
	BlockAt(p worldlink.Vec3i) (worldlink.BlockInfo, bool)
	CanActOn(b worldlink.BlockInfo) bool
	BestToolFor(material string) string
	MainHand() string

	SendChat(text string) error
	SendWhisper(user, text string) error
	LookAt(p worldlink.Vec3i) error
	Equip(item, slot string) error
	ExecuteRemoval(ctx context.Context, cell worldlink.Vec3i) error

	SubmitMoveTo(target worldlink.Vec3i, tolerance float64) (string, error)
	SubmitFollow(targetID string, distance float64) (string, error)
	CancelTask(id string) error
	AwaitTask(ctx context.Context, id string) (worldlink.TaskResult, error)
}

// Dialer establishes one world link. Injectable for tests.
type Dialer func(cfg worldlink.Config, ev worldlink.Events, logger *log.Logger) (Link, error)

// DefaultDialer wraps worldlink.Dial.
func DefaultDialer(cfg worldlink.Config, ev worldlink.Events, logger *log.Logger) (Link, error) {
	return worldlink.Dial(cfg, ev, logger)
}

// Recorder receives structured lifecycle events; nil is fine.
type Recorder interface {
	Record(kind string, fields map[string]any)
}

type Config struct {
	World worldlink.Config

	ConnectTimeout time.Duration // spawned-signal deadline per attempt
	ReconnectBase  time.Duration // first backoff step
	ReconnectCap   time.Duration // backoff ceiling
	MaxReconnects  int           // retries before the budget is exhausted

	Movement movement.Config
	Mining   mining.Config
	Auth     authflow.Config
}

func (c *Config) defaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = time.Minute
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 8
	}
}

// backoffDelay is min(base * 2^(n-1), cap) for attempt n >= 1.
func backoffDelay(base, cap time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// Lifecycle states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	// StateConnectedNotSpawned covers the window between the handshake
	// and the spawned signal.
	StateConnectedNotSpawned State = "connected_not_spawned"
	StateReady               State = "ready"
	StateReconnecting        State = "reconnecting"
	StateShuttingDown        State = "shutting_down"
)

// Status is the pollable projection of the whole agent.
type Status struct {
	State     State            `json:"state"`
	Connected bool             `json:"connected"`
	Spawned   bool             `json:"spawned"`
	Health    int              `json:"health"`
	Food      int              `json:"food"`
	Position  *worldlink.Vec3i `json:"position,omitempty"`
	Dimension string           `json:"dimension,omitempty"`
	Auth      authflow.State   `json:"auth"`
	Movement  movement.Status  `json:"movement"`
}

type Manager struct {
	cfg    Config
	dial   Dialer
	logger *log.Logger
	rec    Recorder

	mu           sync.Mutex
	state        State
	gen          uint64 // identifies the current link for stale callbacks
	link         Link
	mover        *movement.Controller
	miner        *mining.Controller
	auth         *authflow.Negotiator
	token        *interrupt.Token
	attempts     int
	exhausted    bool
	shuttingDown bool
	retryTimer   *time.Timer
}

func New(cfg Config, dial Dialer, logger *log.Logger, rec Recorder) *Manager {
	cfg.defaults()
	if dial == nil {
		dial = DefaultDialer
	}
	return &Manager{
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		rec:    rec,
		state:  StateDisconnected,
		token:  &interrupt.Token{},
	}
}

// Connect brings the agent up. Idempotent: an existing link is torn
// down first. Blocks until spawned, the connect timeout, a link error,
// or ctx cancellation. A successful connect resets the retry counter.
func (m *Manager) Connect(ctx context.Context) error {
	m.Disconnect()

	m.mu.Lock()
	m.state = StateConnecting
	m.exhausted = false
	m.mu.Unlock()

	err := m.establish(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
	}
	return err
}

// establish dials one link and races spawned vs timeout vs link death.
func (m *Manager) establish(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	spawnedCh := make(chan struct{}, 1)
	ev := worldlink.Events{
		OnSpawned: func() {
			select {
			case spawnedCh <- struct{}{}:
			default:
			}
		},
		OnChatMessage: func(from, text string) {
			if a := m.currentAuth(gen); a != nil {
				a.ObserveChat(text)
			}
			m.record("chat_in", map[string]any{"from": from, "text": text})
		},
		OnWhisper: func(from, text string) {
			if a := m.currentAuth(gen); a != nil {
				a.ObserveChat(text)
			}
			m.record("whisper_in", map[string]any{"from": from, "text": text})
		},
		OnKicked: func(reason string) {
			m.record("kicked", map[string]any{"reason": reason})
		},
		OnHealthChanged: func(hp, food int) {
			m.record("health_changed", map[string]any{"hp": hp, "food": food})
		},
		OnDied: func() {
			m.record("died", nil)
		},
		OnEnded: func(reason string) {
			m.handleEnded(gen, reason)
		},
	}

	link, err := m.dial(m.cfg.World, ev, m.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionError, err)
	}

	m.mu.Lock()
	if m.gen == gen {
		m.state = StateConnectedNotSpawned
	}
	m.mu.Unlock()

	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-spawnedCh:
	case <-timer.C:
		_ = link.Close()
		return fmt.Errorf("%w: no spawn within %s", ErrConnectionTimeout, m.cfg.ConnectTimeout)
	case <-link.Done():
		return fmt.Errorf("%w: link ended during handshake", ErrConnectionError)
	case <-ctx.Done():
		_ = link.Close()
		return ctx.Err()
	}

	solver := pathing.NewTaskSolver(link)
	mover := movement.New(link, solver, m.token, m.cfg.Movement, m.logger, m.recorder())
	mover.Initialize()
	miner := mining.New(link, mover, m.token, m.cfg.Mining, m.logger, m.recorder())
	auth := authflow.New(link, m.cfg.Auth, m.logger, m.recorder())
	auth.Activate()

	m.mu.Lock()
	if m.gen != gen {
		// A Disconnect raced us; unwind.
		m.mu.Unlock()
		mover.Close()
		auth.Close()
		_ = link.Close()
		return fmt.Errorf("%w: superseded during connect", ErrConnectionError)
	}
	m.link = link
	m.mover = mover
	m.miner = miner
	m.auth = auth
	m.state = StateReady
	m.attempts = 0
	m.mu.Unlock()

	// The link may have died between the spawned signal and the wiring
	// above, in which case OnEnded fired while m.link was still nil.
	select {
	case <-link.Done():
		m.handleEnded(gen, "link ended")
	default:
	}

	if m.logger != nil {
		m.logger.Printf("connected to %s as %s", m.cfg.World.URL, m.cfg.World.AgentName)
	}
	m.record("connected", map[string]any{"url": m.cfg.World.URL})
	return nil
}

// Disconnect tears everything down. Idempotent. The shutting-down flag
// keeps the OnEnded callback this causes from scheduling a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.link == nil && m.retryTimer == nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}
	m.shuttingDown = true
	m.state = StateShuttingDown
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	link, mover, auth := m.link, m.mover, m.auth
	m.link, m.mover, m.miner, m.auth = nil, nil, nil, nil
	m.mu.Unlock()

	// Dependency order: movement first, then auth, then the link.
	if mover != nil {
		mover.Close()
	}
	if auth != nil {
		auth.Close()
	}
	if link != nil {
		_ = link.Close()
	}

	m.mu.Lock()
	m.shuttingDown = false
	m.state = StateDisconnected
	m.mu.Unlock()
	m.record("disconnected", nil)
}

// handleEnded reacts to involuntary termination of an established
// link. Deaths during the connect handshake (m.link still nil) are the
// caller's to report; only live sessions trigger reconnection.
func (m *Manager) handleEnded(gen uint64, reason string) {
	m.mu.Lock()
	if m.shuttingDown || m.gen != gen || m.link == nil {
		m.mu.Unlock()
		return
	}
	if m.logger != nil {
		m.logger.Printf("link ended: %s", reason)
	}
	m.gen++
	mover, auth := m.mover, m.auth
	m.link, m.mover, m.miner, m.auth = nil, nil, nil, nil
	m.state = StateReconnecting
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.record("link_ended", map[string]any{"reason": reason})
	// Off the event goroutine: auth.Close can wait out an in-flight
	// attempt sequence and event handlers must not block.
	if mover != nil {
		go mover.Close()
	}
	if auth != nil {
		go auth.Close()
	}
}

// scheduleReconnectLocked arms the retry timer unless one is already
// pending or the budget is spent. Caller holds m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.retryTimer != nil {
		return
	}
	if m.attempts >= m.cfg.MaxReconnects {
		if !m.exhausted {
			m.exhausted = true
			m.state = StateDisconnected
			if m.logger != nil {
				m.logger.Printf("giving up after %d reconnect attempts", m.attempts)
			}
			m.record("reconnect_exhausted", map[string]any{"attempts": m.attempts})
		}
		return
	}
	m.attempts++
	n := m.attempts
	delay := backoffDelay(m.cfg.ReconnectBase, m.cfg.ReconnectCap, n)
	if m.logger != nil {
		m.logger.Printf("reconnect attempt %d in %s", n, delay)
	}
	m.retryTimer = time.AfterFunc(delay, m.retry)
}

func (m *Manager) retry() {
	m.mu.Lock()
	m.retryTimer = nil
	if m.shuttingDown {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.mu.Unlock()

	m.record("reconnect_attempt", map[string]any{"attempt": m.currentAttempts()})
	if err := m.establish(context.Background()); err != nil {
		if m.logger != nil {
			m.logger.Printf("reconnect failed: %v", err)
		}
		m.mu.Lock()
		if !m.shuttingDown {
			m.state = StateReconnecting
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
	}
}

// Exhausted reports whether the retry budget has been spent since the
// last successful connect.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

func (m *Manager) currentAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) currentAuth(gen uint64) *authflow.Negotiator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil
	}
	return m.auth
}

// Status never blocks on in-flight operations.
func (m *Manager) Status() Status {
	m.mu.Lock()
	link, mover, auth := m.link, m.mover, m.auth
	st := Status{State: m.state}
	m.mu.Unlock()

	if link != nil {
		st.Connected = true
		st.Spawned = link.Spawned()
		st.Health, st.Food = link.Health()
		p := link.Position()
		st.Position = &p
		st.Dimension = link.Dimension()
	}
	if mover != nil {
		st.Movement = mover.Status()
	}
	if auth != nil {
		st.Auth = auth.State()
	}
	return st
}

// ---- exposed operations ----

func (m *Manager) components() (Link, *movement.Controller, *mining.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil || m.state != StateReady {
		return nil, nil, nil, ErrNotConnected
	}
	return m.link, m.mover, m.miner, nil
}

// MoveTo walks to an exact block position.
func (m *Manager) MoveTo(ctx context.Context, p worldlink.Vec3i, timeout time.Duration) error {
	_, mover, _, err := m.components()
	if err != nil {
		return err
	}
	return mover.GoToBlock(ctx, p, timeout)
}

// FollowPlayer starts following a visible player until stopped.
func (m *Manager) FollowPlayer(name string, distance float64) error {
	_, mover, _, err := m.components()
	if err != nil {
		return err
	}
	return mover.FollowPlayer(name, distance)
}

// MineArea clears the cuboid between the two corners.
func (m *Manager) MineArea(ctx context.Context, cornerA, cornerB worldlink.Vec3i) (mining.Result, error) {
	_, _, miner, err := m.components()
	if err != nil {
		return mining.Result{}, err
	}
	return miner.ClearArea(ctx, cornerA, cornerB)
}

// StopMovement halts pursuit and advances the cancellation token.
func (m *Manager) StopMovement() error {
	_, mover, _, err := m.components()
	if err != nil {
		return err
	}
	mover.Stop()
	return nil
}

// SendChat says one line in world chat.
func (m *Manager) SendChat(text string) error {
	link, _, _, err := m.components()
	if err != nil {
		return err
	}
	if err := link.SendChat(text); err != nil {
		return err
	}
	m.record("chat_out", map[string]any{"text": text})
	return nil
}

func (m *Manager) recorder() Recorder { return m.rec }

func (m *Manager) record(kind string, fields map[string]any) {
	if m.rec != nil {
		m.rec.Record(kind, fields)
	}
}
