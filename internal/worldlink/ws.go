package worldlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/VilchisJuan/minecraft-mcp/internal/protocol"
)

type Config struct {
	URL       string
	AgentName string
	AuthToken string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
}

func (c *Config) defaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
}

// TaskResult is the terminal outcome of a server-side task.
type TaskResult struct {
	OK     bool
	Code   string
	Reason string
}

// Client is one live world connection. It owns the read loop, keeps a
// local snapshot of self/voxels/entities from OBS traffic, and exposes
// the command surface. A Client is single-use: once the link ends it
// stays dead and the caller dials a new one.
type Client struct {
	cfg    Config
	ev     Events
	logger *log.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu         sync.RWMutex
	agentID    string
	worldID    string
	tick       uint64
	loggedIn   bool
	spawned    bool
	dead       bool
	hp, food   int
	pos        Vec3i
	inventory  []protocol.ItemStack
	mainHand   string
	entities   map[string]EntityRef
	voxels     *voxelView
	catalog    *Catalog
	kickReason string

	closed atomic.Bool
	done   chan struct{}

	taskMu  sync.Mutex
	waiters map[string]chan TaskResult
}

// Dial connects, sends HELLO and starts the read loop. The returned
// client is live until the server closes the link or Close is called;
// either way ev.OnEnded fires exactly once.
func Dial(cfg Config, ev Events, logger *log.Logger) (*Client, error) {
	cfg.defaults()
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("empty world ws url")
	}

	d := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := d.Dial(cfg.URL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       cfg.AgentName,
		Capabilities: protocol.HelloCapabilities{
			DeltaVoxels: true,
			MaxQueue:    64,
		},
	}
	if t := strings.TrimSpace(cfg.AuthToken); t != "" {
		hello.Auth = &protocol.HelloAuth{Token: t}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		ev:       ev,
		logger:   logger,
		conn:     conn,
		entities: map[string]EntityRef{},
		voxels:   newVoxelView(),
		done:     make(chan struct{}),
		waiters:  map[string]chan TaskResult{},
	}
	go c.readLoop()
	return c, nil
}

// Close tears the link down. Idempotent.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
	<-c.done
	return nil
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	reason := "closed"
	defer func() {
		c.failWaiters(reason)
		if c.ev.OnEnded != nil {
			c.ev.OnEnded(reason)
		}
		close(c.done)
	}()

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			_ = c.conn.Close()
			c.mu.RLock()
			kick := c.kickReason
			c.mu.RUnlock()
			if kick != "" {
				reason = "kicked: " + kick
			} else if !c.closed.Load() {
				reason = err.Error()
			}
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || !protocol.IsSupportedVersion(base.ProtocolVersion) {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			c.handleWelcome(msg)
		case protocol.TypeCatalog:
			c.handleCatalog(msg)
		case protocol.TypeObs:
			c.handleObs(msg)
		case protocol.TypeKick:
			c.handleKick(msg)
		}
	}
}

func (c *Client) handleWelcome(msg []byte) {
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil {
		return
	}
	c.mu.Lock()
	c.agentID = w.AgentID
	c.worldID = w.WorldID
	first := !c.loggedIn
	c.loggedIn = true
	c.mu.Unlock()
	if first && c.ev.OnLogin != nil {
		c.ev.OnLogin()
	}
}

func (c *Client) handleCatalog(msg []byte) {
	var cm protocol.CatalogMsg
	if err := json.Unmarshal(msg, &cm); err != nil {
		return
	}
	if strings.ToLower(strings.TrimSpace(cm.Name)) != "block_palette" {
		return
	}
	cat, err := ParseBlockPalette(cm.Data)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("bad block_palette catalog: %v", err)
		}
		return
	}
	c.mu.Lock()
	c.catalog = cat
	c.mu.Unlock()
}

func (c *Client) handleObs(msg []byte) {
	var o protocol.ObsMsg
	if err := json.Unmarshal(msg, &o); err != nil {
		return
	}

	c.mu.Lock()
	prevHP, prevFood := c.hp, c.food
	firstObs := !c.spawned
	wasDead := c.dead

	c.tick = o.Tick
	if o.AgentID != "" {
		c.agentID = o.AgentID
	}
	if o.WorldID != "" {
		c.worldID = o.WorldID
	}
	c.pos = Vec3i{o.Self.Pos[0], o.Self.Pos[1], o.Self.Pos[2]}
	c.hp, c.food = o.Self.HP, o.Self.Food
	c.inventory = o.Inventory
	c.mainHand = o.Equipment.MainHand
	c.spawned = true

	c.voxels.apply(o.Voxels)
	c.entities = make(map[string]EntityRef, len(o.Entities))
	for _, e := range o.Entities {
		c.entities[e.ID] = EntityRef{
			ID:   e.ID,
			Type: e.Type,
			Name: e.Name,
			Pos:  Vec3i{e.Pos[0], e.Pos[1], e.Pos[2]},
		}
	}

	died := !wasDead && (o.Self.HP <= 0)
	respawned := wasDead && o.Self.HP > 0
	if died {
		c.dead = true
	}
	if respawned {
		c.dead = false
	}
	selfName := c.cfg.AgentName
	c.mu.Unlock()

	if firstObs && c.ev.OnSpawned != nil {
		c.ev.OnSpawned()
	}
	if (o.Self.HP != prevHP || o.Self.Food != prevFood) && !firstObs && c.ev.OnHealthChanged != nil {
		c.ev.OnHealthChanged(o.Self.HP, o.Self.Food)
	}
	if died && c.ev.OnDied != nil {
		c.ev.OnDied()
	}
	if respawned && c.ev.OnRespawned != nil {
		c.ev.OnRespawned()
	}

	for _, ev := range o.Events {
		switch ev.Type {
		case protocol.EventChat:
			if ev.From != "" && strings.EqualFold(ev.From, selfName) {
				continue
			}
			if c.ev.OnChatMessage != nil {
				c.ev.OnChatMessage(ev.From, ev.Text)
			}
		case protocol.EventWhisper:
			if c.ev.OnWhisper != nil {
				c.ev.OnWhisper(ev.From, ev.Text)
			}
		case protocol.EventTaskDone:
			c.deliverTask(ev.TaskID, TaskResult{OK: ev.OK, Code: ev.Code, Reason: ev.Reason})
		case protocol.EventDeath:
			c.markDead(true)
			if c.ev.OnDied != nil && !died {
				c.ev.OnDied()
			}
		case protocol.EventRespawn:
			c.markDead(false)
			if c.ev.OnRespawned != nil && !respawned {
				c.ev.OnRespawned()
			}
		}
	}
}

func (c *Client) markDead(dead bool) {
	c.mu.Lock()
	c.dead = dead
	c.mu.Unlock()
}

func (c *Client) handleKick(msg []byte) {
	var k protocol.KickMsg
	if err := json.Unmarshal(msg, &k); err != nil {
		return
	}
	c.mu.Lock()
	c.kickReason = k.Reason
	c.mu.Unlock()
	if c.ev.OnKicked != nil {
		c.ev.OnKicked(k.Reason)
	}
}

// ---- command surface ----

func (c *Client) SendChat(text string) error {
	return c.sendAct([]protocol.InstantReq{{
		ID:   newActID("I"),
		Type: protocol.InstantSay,
		Text: text,
	}}, nil, nil)
}

func (c *Client) SendWhisper(user, text string) error {
	return c.sendAct([]protocol.InstantReq{{
		ID:   newActID("I"),
		Type: protocol.InstantWhisper,
		To:   user,
		Text: text,
	}}, nil, nil)
}

func (c *Client) LookAt(p Vec3i) error {
	return c.sendAct([]protocol.InstantReq{{
		ID:     newActID("I"),
		Type:   protocol.InstantLookAt,
		Target: [3]int{p.X, p.Y, p.Z},
	}}, nil, nil)
}

func (c *Client) Equip(item, slot string) error {
	return c.sendAct([]protocol.InstantReq{{
		ID:   newActID("I"),
		Type: protocol.InstantEquip,
		Item: item,
		Slot: slot,
	}}, nil, nil)
}

// SubmitMoveTo issues a server-side MOVE_TO task and returns its id.
func (c *Client) SubmitMoveTo(target Vec3i, tolerance float64) (string, error) {
	id := newActID("K")
	c.registerWaiter(id)
	err := c.sendAct(nil, []protocol.TaskReq{{
		ID:        id,
		Type:      protocol.TaskMoveTo,
		Target:    [3]int{target.X, target.Y, target.Z},
		Tolerance: tolerance,
	}}, nil)
	if err != nil {
		c.dropWaiter(id)
		return "", err
	}
	return id, nil
}

// SubmitFollow issues a server-side FOLLOW task and returns its id.
// FOLLOW never completes on its own; it ends via CancelTask.
func (c *Client) SubmitFollow(targetID string, distance float64) (string, error) {
	id := newActID("K")
	c.registerWaiter(id)
	err := c.sendAct(nil, []protocol.TaskReq{{
		ID:       id,
		Type:     protocol.TaskFollow,
		TargetID: targetID,
		Distance: distance,
	}}, nil)
	if err != nil {
		c.dropWaiter(id)
		return "", err
	}
	return id, nil
}

// CancelTask withdraws a task. Any awaiter observes a stale, not-OK
// result rather than blocking forever.
func (c *Client) CancelTask(id string) error {
	c.deliverTask(id, TaskResult{OK: false, Code: protocol.ErrStale, Reason: "cancelled"})
	return c.sendAct(nil, nil, []string{id})
}

// ErrTaskUnknown is returned by AwaitTask when the task id has no
// pending waiter (already consumed, cancelled, or never submitted).
var ErrTaskUnknown = errors.New("unknown task")

// AwaitTask blocks until the task reports TASK_DONE, the context ends,
// or the link dies.
func (c *Client) AwaitTask(ctx context.Context, id string) (TaskResult, error) {
	c.taskMu.Lock()
	ch := c.waiters[id]
	c.taskMu.Unlock()
	if ch == nil {
		return TaskResult{}, fmt.Errorf("%w: %s", ErrTaskUnknown, id)
	}
	select {
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	case <-c.done:
		return TaskResult{}, fmt.Errorf("link ended")
	case res := <-ch:
		return res, nil
	}
}

// ExecuteRemoval mines a single cell and waits for the outcome.
func (c *Client) ExecuteRemoval(ctx context.Context, cell Vec3i) error {
	id := newActID("K")
	c.registerWaiter(id)
	err := c.sendAct(nil, []protocol.TaskReq{{
		ID:       id,
		Type:     protocol.TaskMine,
		BlockPos: [3]int{cell.X, cell.Y, cell.Z},
	}}, nil)
	if err != nil {
		c.dropWaiter(id)
		return err
	}
	res, err := c.AwaitTask(ctx, id)
	if err != nil {
		c.dropWaiter(id)
		return err
	}
	if !res.OK {
		if res.Reason != "" {
			return fmt.Errorf("mine %s: %s (%s)", cell, res.Reason, res.Code)
		}
		return fmt.Errorf("mine %s: %s", cell, res.Code)
	}
	return nil
}

func (c *Client) sendAct(instants []protocol.InstantReq, tasks []protocol.TaskReq, cancel []string) error {
	if c.closed.Load() {
		return fmt.Errorf("link closed")
	}
	c.mu.RLock()
	tick, agentID := c.tick, c.agentID
	c.mu.RUnlock()
	if agentID == "" {
		return fmt.Errorf("not logged in")
	}

	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		AgentID:         agentID,
		Instants:        instants,
		Tasks:           tasks,
		Cancel:          cancel,
	}
	b, _ := json.Marshal(act)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) registerWaiter(id string) {
	c.taskMu.Lock()
	c.waiters[id] = make(chan TaskResult, 1)
	c.taskMu.Unlock()
}

func (c *Client) dropWaiter(id string) {
	c.taskMu.Lock()
	delete(c.waiters, id)
	c.taskMu.Unlock()
}

func (c *Client) deliverTask(id string, res TaskResult) {
	c.taskMu.Lock()
	ch := c.waiters[id]
	delete(c.waiters, id)
	c.taskMu.Unlock()
	if ch != nil {
		ch <- res
	}
}

func (c *Client) failWaiters(reason string) {
	c.taskMu.Lock()
	waiters := c.waiters
	c.waiters = map[string]chan TaskResult{}
	c.taskMu.Unlock()
	for _, ch := range waiters {
		ch <- TaskResult{OK: false, Code: protocol.ErrInternal, Reason: reason}
	}
}

func newActID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// ---- snapshot queries ----

func (c *Client) Position() Vec3i {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos
}

func (c *Client) Health() (hp, food int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hp, c.food
}

func (c *Client) Dimension() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worldID
}

func (c *Client) Spawned() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spawned
}

func (c *Client) LastTick() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick
}

// FindEntity resolves a visible player or mob by name (falling back to
// entity id). Returns false if nothing matches.
func (c *Client) FindEntity(name string) (EntityRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entities {
		if strings.EqualFold(e.Name, name) || e.ID == name {
			return e, true
		}
	}
	return EntityRef{}, false
}

func (c *Client) QueryNearbyBlocks(f BlockFilter) []BlockInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voxels.query(f, c.catalog)
}

func (c *Client) BlockAt(p Vec3i) (BlockInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.voxels.at(p)
	if !ok {
		return BlockInfo{}, false
	}
	def, known := c.catalog.Block(id)
	return BlockInfo{
		Pos:       p,
		ID:        id,
		Name:      def.Name,
		Material:  def.Material,
		Removable: known && def.Removable,
	}, true
}

// CanActOn reports whether a removal of the given cell is currently
// executable: we are spawned, the cell is still what the caller saw,
// and the material is removable.
func (c *Client) CanActOn(b BlockInfo) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.spawned || c.dead {
		return false
	}
	id, ok := c.voxels.at(b.Pos)
	if !ok || id != b.ID {
		return false
	}
	def, known := c.catalog.Block(id)
	return known && def.Removable
}

// BestToolFor picks the best carried tool for a material class.
func (c *Client) BestToolFor(material string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return BestTool(material, c.inventory)
}

func (c *Client) MainHand() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mainHand
}
