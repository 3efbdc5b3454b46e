package worldlink

import (
	"sort"

	"github.com/VilchisJuan/minecraft-mcp/internal/protocol"
)

// voxelView is the client-side cell cache built from OBS voxel ops.
// Id 0 is air and is never stored.
type voxelView struct {
	cells map[Vec3i]uint16
}

func newVoxelView() *voxelView {
	return &voxelView{cells: map[Vec3i]uint16{}}
}

func (v *voxelView) apply(obs protocol.VoxelsObs) {
	if obs.Encoding == "SNAPSHOT" {
		v.cells = make(map[Vec3i]uint16, len(obs.Ops))
	}
	center := Vec3i{obs.Center[0], obs.Center[1], obs.Center[2]}
	for _, op := range obs.Ops {
		p := center.Add(Vec3i{op.D[0], op.D[1], op.D[2]})
		if op.B == 0 {
			delete(v.cells, p)
			continue
		}
		v.cells[p] = op.B
	}
}

func (v *voxelView) at(p Vec3i) (uint16, bool) {
	id, ok := v.cells[p]
	return id, ok
}

// query returns cells matching the filter, nearest to f.Center first.
func (v *voxelView) query(f BlockFilter, cat *Catalog) []BlockInfo {
	radiusSq := f.Radius * f.Radius
	var out []BlockInfo
	for p, id := range v.cells {
		if f.Radius > 0 && p.DistSq(f.Center) > radiusSq {
			continue
		}
		if f.Bounded {
			if p.X < f.Min.X || p.X > f.Max.X ||
				p.Y < f.Min.Y || p.Y > f.Max.Y ||
				p.Z < f.Min.Z || p.Z > f.Max.Z {
				continue
			}
		}
		if f.Exclude != nil {
			if _, skip := f.Exclude[p]; skip {
				continue
			}
		}
		def, known := cat.Block(id)
		if f.Removable && (!known || !def.Removable) {
			continue
		}
		out = append(out, BlockInfo{
			Pos:       p,
			ID:        id,
			Name:      def.Name,
			Material:  def.Material,
			Removable: known && def.Removable,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Pos.DistSq(f.Center), out[j].Pos.DistSq(f.Center)
		if di != dj {
			return di < dj
		}
		// Stable tiebreak so results are deterministic across map order.
		a, b := out[i].Pos, out[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	if f.MaxResults > 0 && len(out) > f.MaxResults {
		out = out[:f.MaxResults]
	}
	return out
}
