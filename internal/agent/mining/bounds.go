package mining

import (
	"math"

	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

// Bounds is an inclusive axis-aligned integer cuboid.
type Bounds struct {
	Min, Max worldlink.Vec3i
}

// NormalizeBounds builds the cuboid spanned by two opposite corners.
// Order-independent: NormalizeBounds(a, b) == NormalizeBounds(b, a).
func NormalizeBounds(a, b worldlink.Vec3i) Bounds {
	return Bounds{
		Min: worldlink.Vec3i{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max: worldlink.Vec3i{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)},
	}
}

func (b Bounds) Contains(p worldlink.Vec3i) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Hover is the re-scan vantage point: the horizontal center of the
// box, one cell above its top.
func (b Bounds) Hover() worldlink.Vec3i {
	return worldlink.Vec3i{
		X: (b.Min.X + b.Max.X) / 2,
		Y: b.Max.Y + 1,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Diagonal is the corner-to-corner distance, rounded up.
func (b Bounds) Diagonal() int {
	return int(math.Ceil(math.Sqrt(float64(b.Min.DistSq(b.Max)))))
}
