// Package pathing defines the movement goal vocabulary and the
// path-solver boundary. Path search itself is owned by the world
// server; TaskSolver only drives it through MOVE_TO/FOLLOW tasks.
package pathing

import (
	"fmt"

	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

type Kind int

const (
	// KindBlock targets an exact cell; terminal.
	KindBlock Kind = iota + 1
	// KindNear targets any point within Range of Pos; terminal.
	KindNear
	// KindFollow tracks an entity at Distance; dynamic, never resolves
	// on its own.
	KindFollow
)

type Goal struct {
	Kind Kind

	Pos   worldlink.Vec3i
	Range float64

	EntityID   string
	EntityName string
	Distance   float64
}

func Block(p worldlink.Vec3i) Goal { return Goal{Kind: KindBlock, Pos: p} }

func Near(p worldlink.Vec3i, rng float64) Goal { return Goal{Kind: KindNear, Pos: p, Range: rng} }

func Follow(ref worldlink.EntityRef, distance float64) Goal {
	return Goal{Kind: KindFollow, EntityID: ref.ID, EntityName: ref.Name, Distance: distance}
}

// Dynamic goals persist until replaced or stopped.
func (g Goal) Dynamic() bool { return g.Kind == KindFollow }

func (g Goal) String() string {
	switch g.Kind {
	case KindBlock:
		return fmt.Sprintf("go to %s", g.Pos)
	case KindNear:
		return fmt.Sprintf("go near %s (range %.1f)", g.Pos, g.Range)
	case KindFollow:
		name := g.EntityName
		if name == "" {
			name = g.EntityID
		}
		return fmt.Sprintf("follow %s (distance %.1f)", name, g.Distance)
	default:
		return "no goal"
	}
}

// MovementRules tune how goals are handed to the solver.
type MovementRules struct {
	// BlockTolerance is the arrival tolerance for exact-cell goals.
	BlockTolerance float64
}
