package pathing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/VilchisJuan/minecraft-mcp/internal/protocol"
	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

// ErrUnreachable marks goals the solver gave up on.
var ErrUnreachable = errors.New("goal unreachable")

// ErrGoalCleared is returned from ResolveGoal when the goal was
// withdrawn (stop or replacement by a different goal); it is a neutral
// outcome, not a failure.
var ErrGoalCleared = errors.New("goal cleared")

// Solver is the path-solver capability consumed by the movement state
// machine. Exactly one goal is active at a time; SetGoal replaces any
// previous goal.
type Solver interface {
	SetGoal(g Goal, dynamic bool) error
	// ResolveGoal blocks until the active terminal goal is reached or
	// fails. It must not be called for dynamic goals.
	ResolveGoal(ctx context.Context, g Goal) error
	ClearGoal() error
	IsMoving() bool
	Configure(r MovementRules)
}

// TaskRunner is the slice of the world link TaskSolver needs.
type TaskRunner interface {
	SubmitMoveTo(target worldlink.Vec3i, tolerance float64) (string, error)
	SubmitFollow(targetID string, distance float64) (string, error)
	CancelTask(id string) error
	AwaitTask(ctx context.Context, id string) (worldlink.TaskResult, error)
}

// TaskSolver drives the server-side path solver through MOVE_TO and
// FOLLOW tasks.
type TaskSolver struct {
	runner TaskRunner

	mu       sync.Mutex
	rules    MovementRules
	activeID string
	moving   bool
}

func NewTaskSolver(runner TaskRunner) *TaskSolver {
	return &TaskSolver{
		runner: runner,
		rules:  MovementRules{BlockTolerance: 0.8},
	}
}

func (s *TaskSolver) Configure(r MovementRules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.BlockTolerance > 0 {
		s.rules.BlockTolerance = r.BlockTolerance
	}
}

// SetGoal installs a goal, superseding any previous one. The new task
// is submitted before the old one is withdrawn so an in-flight
// ResolveGoal always observes an active goal across a re-issue.
func (s *TaskSolver) SetGoal(g Goal, dynamic bool) error {
	s.mu.Lock()
	tol := s.rules.BlockTolerance
	s.mu.Unlock()

	var (
		id  string
		err error
	)
	switch g.Kind {
	case KindBlock:
		id, err = s.runner.SubmitMoveTo(g.Pos, tol)
	case KindNear:
		id, err = s.runner.SubmitMoveTo(g.Pos, g.Range)
	case KindFollow:
		if !dynamic {
			return fmt.Errorf("follow goal must be dynamic")
		}
		id, err = s.runner.SubmitFollow(g.EntityID, g.Distance)
	default:
		return fmt.Errorf("unknown goal kind %d", g.Kind)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.activeID
	s.activeID = id
	s.moving = true
	s.mu.Unlock()
	if prev != "" {
		_ = s.runner.CancelTask(prev)
	}
	return nil
}

// ResolveGoal blocks until the active terminal goal finishes. A stale
// outcome with a replacement task installed means the same goal was
// re-issued (stuck recovery); resolution continues on the new task
// under the caller's original deadline.
func (s *TaskSolver) ResolveGoal(ctx context.Context, g Goal) error {
	if g.Dynamic() {
		return fmt.Errorf("dynamic goal never resolves")
	}
	for {
		s.mu.Lock()
		id := s.activeID
		s.mu.Unlock()
		if id == "" {
			return ErrGoalCleared
		}

		res, err := s.runner.AwaitTask(ctx, id)
		if errors.Is(err, worldlink.ErrTaskUnknown) {
			// Superseded between the activeID read and the await.
			s.mu.Lock()
			replaced := s.activeID != "" && s.activeID != id
			s.mu.Unlock()
			if replaced {
				continue
			}
			return ErrGoalCleared
		}
		if err != nil {
			s.clearIfActive(id)
			return err
		}

		if !res.OK && res.Code == protocol.ErrStale {
			s.mu.Lock()
			cur := s.activeID
			s.mu.Unlock()
			if cur != "" && cur != id {
				continue
			}
			return ErrGoalCleared
		}

		s.clearIfActive(id)
		if !res.OK {
			switch res.Code {
			case protocol.ErrUnreachable, protocol.ErrBlocked:
				return fmt.Errorf("%w: %s", ErrUnreachable, res.Reason)
			default:
				if res.Reason != "" {
					return fmt.Errorf("goal failed: %s (%s)", res.Reason, res.Code)
				}
				return fmt.Errorf("goal failed: %s", res.Code)
			}
		}
		return nil
	}
}

func (s *TaskSolver) clearIfActive(id string) {
	s.mu.Lock()
	if s.activeID == id {
		s.activeID = ""
		s.moving = false
	}
	s.mu.Unlock()
}

func (s *TaskSolver) ClearGoal() error {
	s.mu.Lock()
	id := s.activeID
	s.activeID = ""
	s.moving = false
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	return s.runner.CancelTask(id)
}

func (s *TaskSolver) IsMoving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moving
}
