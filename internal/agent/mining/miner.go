// Package mining implements the area-clearing task controller: scan a
// cuboid for removable cells, visit them nearest-first, skip cells that
// fail, reposition once when the scan stalls, and stop cleanly on
// cancellation.
package mining

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/VilchisJuan/minecraft-mcp/internal/agent/interrupt"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/movement"
	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

// ErrAlreadyRunning rejects a second concurrent area task.
var ErrAlreadyRunning = errors.New("area task already running")

// Link is the slice of the world link the controller needs.
type Link interface {
	Position() worldlink.Vec3i
	QueryNearbyBlocks(f worldlink.BlockFilter) []worldlink.BlockInfo
	BlockAt(p worldlink.Vec3i) (worldlink.BlockInfo, bool)
	CanActOn(b worldlink.BlockInfo) bool
	BestToolFor(material string) string
	Equip(item, slot string) error
	LookAt(p worldlink.Vec3i) error
	ExecuteRemoval(ctx context.Context, cell worldlink.Vec3i) error
}

// Mover is the movement dependency; each cell visit is one goal.
type Mover interface {
	GoNear(ctx context.Context, p worldlink.Vec3i, rng float64, timeout time.Duration) error
}

// Recorder receives structured task events; nil is fine.
type Recorder interface {
	Record(kind string, fields map[string]any)
}

type Config struct {
	SearchRadius  int           // floor for the scan radius; never below 32
	MaxCandidates int           // bounded candidate count per scan
	MoveRange     float64       // adjacency tolerance when approaching a cell
	MoveTimeout   time.Duration // per-cell approach budget
	DigTimeout    time.Duration // per-cell removal budget
}

func (c *Config) defaults() {
	if c.SearchRadius < 32 {
		c.SearchRadius = 32
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 64
	}
	if c.MoveRange <= 0 {
		c.MoveRange = 2
	}
	if c.MoveTimeout <= 0 {
		c.MoveTimeout = 20 * time.Second
	}
	if c.DigTimeout <= 0 {
		c.DigTimeout = 10 * time.Second
	}
}

// Result carries the task counters. Cancellation is not an error; the
// counts accumulated so far are returned as-is.
type Result struct {
	Mined   int `json:"mined_count"`
	Skipped int `json:"skipped_count"`
}

type Controller struct {
	link   Link
	mover  Mover
	token  *interrupt.Token
	cfg    Config
	logger *log.Logger
	rec    Recorder

	running atomic.Bool
}

func New(link Link, mover Mover, token *interrupt.Token, cfg Config, logger *log.Logger, rec Recorder) *Controller {
	cfg.defaults()
	return &Controller{
		link:   link,
		mover:  mover,
		token:  token,
		cfg:    cfg,
		logger: logger,
		rec:    rec,
	}
}

func (c *Controller) Running() bool { return c.running.Load() }

// ClearArea removes every eligible cell inside the cuboid spanned by
// the two corners. At most one task runs per controller.
func (c *Controller) ClearArea(ctx context.Context, cornerA, cornerB worldlink.Vec3i) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	snap := c.token.Snapshot()
	bounds := NormalizeBounds(cornerA, cornerB)
	hover := bounds.Hover()
	radius := c.cfg.SearchRadius
	if d := bounds.Diagonal() + 4; d > radius {
		radius = d
	}

	ignored := map[worldlink.Vec3i]struct{}{}
	var res Result
	minA := [3]int{bounds.Min.X, bounds.Min.Y, bounds.Min.Z}
	maxA := [3]int{bounds.Max.X, bounds.Max.Y, bounds.Max.Z}
	c.record("mine_area_started", map[string]any{"min": minA, "max": maxA})

	repositioned := false
	for {
		// Cancellation is advisory and checked at every iteration
		// boundary; winding down here is a neutral outcome. A dead
		// request context ends the task the same way, otherwise a
		// stopped visit would leave the cell undecided and the loop
		// would re-select it forever.
		if c.token.StoppedSince(snap) || ctx.Err() != nil {
			c.record("mine_area_cancelled", map[string]any{
				"min": minA, "max": maxA, "mined": res.Mined, "skipped": res.Skipped,
			})
			return res, nil
		}

		cell, found := c.nextCell(bounds, radius, ignored)
		if !found {
			if repositioned {
				break // nothing visible even from the hover point
			}
			repositioned = true
			if err := c.mover.GoNear(ctx, hover, c.cfg.MoveRange, c.cfg.MoveTimeout); err != nil {
				if errors.Is(err, movement.ErrStopped) {
					continue // boundary check handles the stop
				}
				if c.logger != nil {
					c.logger.Printf("hover reposition failed: %v", err)
				}
			}
			continue
		}
		repositioned = false

		c.visitCell(ctx, cell, ignored, &res)
	}

	c.record("mine_area_done", map[string]any{
		"min": minA, "max": maxA, "mined": res.Mined, "skipped": res.Skipped,
	})
	return res, nil
}

func (c *Controller) nextCell(b Bounds, radius int, ignored map[worldlink.Vec3i]struct{}) (worldlink.BlockInfo, bool) {
	list := c.link.QueryNearbyBlocks(worldlink.BlockFilter{
		Center:     c.link.Position(),
		Radius:     radius,
		Bounded:    true,
		Min:        b.Min,
		Max:        b.Max,
		Removable:  true,
		Exclude:    ignored,
		MaxResults: c.cfg.MaxCandidates,
	})
	if len(list) == 0 {
		return worldlink.BlockInfo{}, false
	}
	return list[0], true
}

// visitCell decides the cell's outcome exactly once: mined or skipped.
// Every failure is absorbed as a skip; the cell is never revisited.
func (c *Controller) visitCell(ctx context.Context, cell worldlink.BlockInfo, ignored map[worldlink.Vec3i]struct{}, res *Result) {
	skip := func(reason string) {
		ignored[cell.Pos] = struct{}{}
		res.Skipped++
		c.record("mine_cell_skip", map[string]any{"pos": cell.Pos.String(), "reason": reason})
	}

	if err := c.mover.GoNear(ctx, cell.Pos, c.cfg.MoveRange, c.cfg.MoveTimeout); err != nil {
		if errors.Is(err, movement.ErrStopped) {
			return // outcome undecided; the boundary check exits the task
		}
		skip("unreachable: " + err.Error())
		return
	}

	// The world may have changed while we walked over.
	cur, ok := c.link.BlockAt(cell.Pos)
	if !ok || !cur.Removable {
		skip("no longer eligible")
		return
	}

	// Best effort; a failed tool switch does not abort the attempt.
	if tool := c.link.BestToolFor(cur.Material); tool != "" {
		if err := c.link.Equip(tool, "hand"); err != nil && c.logger != nil {
			c.logger.Printf("equip %s: %v", tool, err)
		}
	}

	if !c.link.CanActOn(cur) {
		skip("not actionable")
		return
	}
	_ = c.link.LookAt(cell.Pos)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DigTimeout)
	err := c.link.ExecuteRemoval(dctx, cell.Pos)
	cancel()
	if err != nil {
		skip("removal failed: " + err.Error())
		return
	}

	ignored[cell.Pos] = struct{}{} // decided; never revisit
	res.Mined++
	c.record("mine_cell_ok", map[string]any{"pos": cell.Pos.String(), "name": cur.Name})
}

func (c *Controller) record(kind string, fields map[string]any) {
	if c.rec != nil {
		c.rec.Record(kind, fields)
	}
}
