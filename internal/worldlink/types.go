package worldlink

import "fmt"

// Vec3i is an integer world coordinate (block position).
type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// DistSq is the squared euclidean distance; callers compare against
// squared thresholds so the root is never taken.
func (v Vec3i) DistSq(o Vec3i) int {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// BlockInfo is a point-in-time view of one cell.
type BlockInfo struct {
	Pos       Vec3i
	ID        uint16
	Name      string
	Material  string
	Removable bool
}

// EntityRef identifies a visible entity.
type EntityRef struct {
	ID   string
	Type string
	Name string
	Pos  Vec3i
}

// BlockFilter selects cells from the local voxel view. Zero-value Min/
// Max means "no bounds". Results are ordered nearest-first from Center
// and capped at MaxResults.
type BlockFilter struct {
	Center     Vec3i
	Radius     int
	Bounded    bool
	Min, Max   Vec3i
	Removable  bool
	Exclude    map[Vec3i]struct{}
	MaxResults int
}

// Events are the link's outbound notifications. Handlers are invoked
// from the read loop goroutine; they must not block. Nil handlers are
// skipped.
type Events struct {
	OnLogin         func()
	OnSpawned       func()
	OnRespawned     func()
	OnHealthChanged func(hp, food int)
	OnDied          func()
	OnChatMessage   func(from, text string)
	OnWhisper       func(from, text string)
	OnKicked        func(reason string)
	OnEnded         func(reason string)
}
