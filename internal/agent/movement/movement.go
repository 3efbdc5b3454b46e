// Package movement turns movement requests into solver goals and
// supervises them: per-attempt timeouts, stuck detection with in-place
// re-issue, and a non-blocking status snapshot for observers.
package movement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/VilchisJuan/minecraft-mcp/internal/agent/interrupt"
	"github.com/VilchisJuan/minecraft-mcp/internal/pathing"
	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

var (
	// ErrNotInitialized fires on any operation before Initialize.
	ErrNotInitialized = errors.New("movement not initialized")
	// ErrTimeout is the per-attempt goal resolution timeout.
	ErrTimeout = errors.New("movement timeout")
	// ErrUnreachable wraps solver give-ups.
	ErrUnreachable = errors.New("movement unreachable")
	// ErrTargetNotVisible means the follow target could not be resolved.
	ErrTargetNotVisible = errors.New("target not visible")
	// ErrStopped is the neutral outcome of a stop or goal replacement.
	ErrStopped = errors.New("movement stopped")
)

// Link is the slice of the world link the controller needs.
type Link interface {
	Position() worldlink.Vec3i
	FindEntity(name string) (worldlink.EntityRef, bool)
}

// Recorder receives structured movement events; nil-safe via noop.
type Recorder interface {
	Record(kind string, fields map[string]any)
}

type Config struct {
	SampleInterval time.Duration // stuck sampling period
	StuckEpsilonSq int           // squared displacement at or below which a sample counts as stuck
	StuckSamples   int           // consecutive stuck samples before a re-issue
	DefaultTimeout time.Duration // used when a caller passes no timeout
}

func (c *Config) defaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Second
	}
	if c.StuckSamples <= 0 {
		c.StuckSamples = 4
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 60 * time.Second
	}
}

// Status is a point-in-time projection; reads never block on movement
// progress.
type Status struct {
	Moving    bool   `json:"moving"`
	Goal      string `json:"goal,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type Controller struct {
	link    Link
	solver  pathing.Solver
	token   *interrupt.Token
	cfg     Config
	logger  *log.Logger
	rec     Recorder

	mu          sync.Mutex
	initialized bool
	goal        *pathing.Goal
	gen         uint64
	lastErr     string

	stuckLast  worldlink.Vec3i
	stuckHave  bool
	stuckCount int

	stopSampler chan struct{}
	wg          sync.WaitGroup
}

func New(link Link, solver pathing.Solver, token *interrupt.Token, cfg Config, logger *log.Logger, rec Recorder) *Controller {
	cfg.defaults()
	return &Controller{
		link:   link,
		solver: solver,
		token:  token,
		cfg:    cfg,
		logger: logger,
		rec:    rec,
	}
}

// Initialize starts the stuck sampler. Operations called before this
// fail fast with ErrNotInitialized. Idempotent.
func (c *Controller) Initialize() {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.stopSampler = make(chan struct{})
	stop := c.stopSampler
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		tick := time.NewTicker(c.cfg.SampleInterval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				c.sample()
			}
		}
	}()
}

// Close stops the sampler and clears any active goal.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return
	}
	c.initialized = false
	close(c.stopSampler)
	c.goal = nil
	c.gen++
	c.resetStuckLocked()
	c.mu.Unlock()

	c.wg.Wait()
	_ = c.solver.ClearGoal()
}

// GoToBlock pursues an exact cell, bounded by timeout.
func (c *Controller) GoToBlock(ctx context.Context, p worldlink.Vec3i, timeout time.Duration) error {
	return c.runTerminal(ctx, pathing.Block(p), timeout)
}

// GoNear pursues any point within rng of p, bounded by timeout.
func (c *Controller) GoNear(ctx context.Context, p worldlink.Vec3i, rng float64, timeout time.Duration) error {
	return c.runTerminal(ctx, pathing.Near(p, rng), timeout)
}

// FollowPlayer installs a dynamic follow goal. It never resolves on
// its own; it ends via Stop or replacement.
func (c *Controller) FollowPlayer(name string, distance float64) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()

	ref, ok := c.link.FindEntity(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotVisible, name)
	}
	g := pathing.Follow(ref, distance)

	c.mu.Lock()
	c.gen++
	c.goal = &g
	c.lastErr = ""
	c.resetStuckLocked()
	c.mu.Unlock()

	if err := c.solver.SetGoal(g, true); err != nil {
		c.finishAttempt(c.currentGen(), err)
		return err
	}
	if c.logger != nil {
		c.logger.Printf("following %s (distance %.1f)", ref.Name, distance)
	}
	c.record("movement_follow_started", map[string]any{"target": ref.Name, "distance": distance})
	return nil
}

// Stop clears the active goal and advances the stop counter so that
// in-flight multi-step sequences wind down at their next checkpoint.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	c.goal = nil
	c.resetStuckLocked()
	c.mu.Unlock()

	_ = c.solver.ClearGoal()
	c.token.Stop()
	if c.logger != nil {
		c.logger.Printf("movement stopped")
	}
	c.record("movement_stopped", nil)
}

// Status never blocks and never mutates.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{LastError: c.lastErr}
	if c.goal != nil {
		st.Moving = true
		st.Goal = c.goal.String()
	}
	return st
}

func (c *Controller) runTerminal(ctx context.Context, g pathing.Goal, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.gen++
	gen := c.gen
	c.goal = &g
	c.lastErr = ""
	c.resetStuckLocked()
	c.mu.Unlock()

	if err := c.solver.SetGoal(g, false); err != nil {
		c.finishAttempt(gen, err)
		return err
	}

	// One deadline per attempt. Stuck re-issues happen underneath it
	// and do not extend the budget.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.solver.ResolveGoal(ctx, g)
	switch {
	case err == nil:
		c.finishAttempt(gen, nil)
		c.record("movement_reached", map[string]any{"goal": g.String()})
		return nil

	case errors.Is(err, pathing.ErrGoalCleared):
		// Stopped or superseded mid-flight; neutral.
		c.finishAttempt(gen, nil)
		return ErrStopped

	case errors.Is(err, context.DeadlineExceeded):
		_ = c.solver.ClearGoal()
		werr := fmt.Errorf("%w: %s after %s", ErrTimeout, g, timeout)
		c.finishAttempt(gen, werr)
		c.record("movement_timeout", map[string]any{"goal": g.String(), "timeout_ms": timeout.Milliseconds()})
		return werr

	case errors.Is(err, context.Canceled):
		_ = c.solver.ClearGoal()
		c.finishAttempt(gen, nil)
		return ErrStopped

	case errors.Is(err, pathing.ErrUnreachable):
		werr := fmt.Errorf("%w: %v", ErrUnreachable, err)
		c.finishAttempt(gen, werr)
		return werr

	default:
		_ = c.solver.ClearGoal()
		c.finishAttempt(gen, err)
		return err
	}
}

// finishAttempt returns the machine to Idle if the attempt is still
// the current one (a newer goal may have superseded it).
func (c *Controller) finishAttempt(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.goal = nil
	c.resetStuckLocked()
	if err != nil {
		c.lastErr = err.Error()
	}
}

func (c *Controller) currentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) resetStuckLocked() {
	c.stuckHave = false
	c.stuckCount = 0
}

// sample runs on the fixed sampling interval. When the squared
// displacement stays at or below epsilon for the configured number of
// consecutive samples, the same goal is re-issued once and the count
// resets. The attempt's timeout budget is untouched.
func (c *Controller) sample() {
	c.mu.Lock()
	if c.goal == nil {
		c.resetStuckLocked()
		c.mu.Unlock()
		return
	}
	pos := c.link.Position()
	if !c.stuckHave {
		c.stuckLast = pos
		c.stuckHave = true
		c.mu.Unlock()
		return
	}
	d := pos.DistSq(c.stuckLast)
	c.stuckLast = pos
	if d > c.cfg.StuckEpsilonSq {
		c.stuckCount = 0
		c.mu.Unlock()
		return
	}
	c.stuckCount++
	if c.stuckCount < c.cfg.StuckSamples {
		c.mu.Unlock()
		return
	}
	c.stuckCount = 0
	g := *c.goal
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("stuck at %s; re-issuing goal: %s", pos, g)
	}
	c.record("movement_stuck", map[string]any{"pos": pos.String(), "goal": g.String()})
	if err := c.solver.SetGoal(g, g.Dynamic()); err != nil && c.logger != nil {
		c.logger.Printf("stuck re-issue failed: %v", err)
	}
}

func (c *Controller) record(kind string, fields map[string]any) {
	if c.rec != nil {
		c.rec.Record(kind, fields)
	}
}
