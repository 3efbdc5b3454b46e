package worldlink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VilchisJuan/minecraft-mcp/internal/protocol"
)

func testCatalog() *Catalog {
	return NewCatalog([]BlockDef{
		{ID: 1, Name: "STONE", Material: "ROCK", Removable: true},
		{ID: 2, Name: "BEDROCK", Material: "ROCK", Removable: false},
		{ID: 3, Name: "DIRT", Material: "DIRT", Removable: true},
	})
}

func snapshot(center [3]int, ops ...protocol.VoxelDeltaOp) protocol.VoxelsObs {
	return protocol.VoxelsObs{Center: center, Radius: 16, Encoding: "SNAPSHOT", Ops: ops}
}

func delta(center [3]int, ops ...protocol.VoxelDeltaOp) protocol.VoxelsObs {
	return protocol.VoxelsObs{Center: center, Radius: 16, Encoding: "DELTA", Ops: ops}
}

func TestVoxelView_SnapshotThenDelta(t *testing.T) {
	v := newVoxelView()
	v.apply(snapshot([3]int{0, 64, 0},
		protocol.VoxelDeltaOp{D: [3]int{1, 0, 0}, B: 1},
		protocol.VoxelDeltaOp{D: [3]int{2, 0, 0}, B: 3},
	))

	id, ok := v.at(Vec3i{X: 1, Y: 64, Z: 0})
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	// Delta: mine one cell away (B=0), place another.
	v.apply(delta([3]int{0, 64, 0},
		protocol.VoxelDeltaOp{D: [3]int{1, 0, 0}, B: 0},
		protocol.VoxelDeltaOp{D: [3]int{0, 1, 0}, B: 1},
	))

	_, ok = v.at(Vec3i{X: 1, Y: 64, Z: 0})
	require.False(t, ok, "mined cell must be cleared")
	id, ok = v.at(Vec3i{X: 0, Y: 65, Z: 0})
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	// A fresh snapshot resets everything it does not restate.
	v.apply(snapshot([3]int{0, 64, 0},
		protocol.VoxelDeltaOp{D: [3]int{2, 0, 0}, B: 3},
	))
	_, ok = v.at(Vec3i{X: 0, Y: 65, Z: 0})
	require.False(t, ok)
}

func TestVoxelView_QueryNearestFirstAndFiltered(t *testing.T) {
	v := newVoxelView()
	v.apply(snapshot([3]int{0, 64, 0},
		protocol.VoxelDeltaOp{D: [3]int{1, 0, 0}, B: 1},  // stone, dist 1
		protocol.VoxelDeltaOp{D: [3]int{3, 0, 0}, B: 1},  // stone, dist 3
		protocol.VoxelDeltaOp{D: [3]int{2, 0, 0}, B: 2},  // bedrock
		protocol.VoxelDeltaOp{D: [3]int{0, 0, 9}, B: 3},  // dirt, far
		protocol.VoxelDeltaOp{D: [3]int{30, 0, 0}, B: 1}, // outside radius
	))

	got := v.query(BlockFilter{
		Center:    Vec3i{X: 0, Y: 64, Z: 0},
		Radius:    10,
		Removable: true,
	}, testCatalog())

	require.Len(t, got, 3)
	require.Equal(t, Vec3i{X: 1, Y: 64, Z: 0}, got[0].Pos, "nearest first")
	require.Equal(t, Vec3i{X: 3, Y: 64, Z: 0}, got[1].Pos)
	require.Equal(t, "DIRT", got[2].Name)

	// Bounded to a box that only holds the first stone.
	got = v.query(BlockFilter{
		Center:    Vec3i{X: 0, Y: 64, Z: 0},
		Radius:    10,
		Bounded:   true,
		Min:       Vec3i{X: 0, Y: 64, Z: 0},
		Max:       Vec3i{X: 1, Y: 64, Z: 0},
		Removable: true,
	}, testCatalog())
	require.Len(t, got, 1)

	// Exclusions and the result cap apply.
	got = v.query(BlockFilter{
		Center:     Vec3i{X: 0, Y: 64, Z: 0},
		Radius:     10,
		Removable:  true,
		Exclude:    map[Vec3i]struct{}{{X: 1, Y: 64, Z: 0}: {}},
		MaxResults: 1,
	}, testCatalog())
	require.Len(t, got, 1)
	require.Equal(t, Vec3i{X: 3, Y: 64, Z: 0}, got[0].Pos)
}

func TestBestTool_PrefersHigherTier(t *testing.T) {
	inv := []protocol.ItemStack{
		{Item: "WOOD_PICKAXE", Count: 1},
		{Item: "IRON_PICKAXE", Count: 1},
		{Item: "DIAMOND_SHOVEL", Count: 1},
		{Item: "STONE_AXE", Count: 0}, // empty stack
	}

	require.Equal(t, "IRON_PICKAXE", BestTool("ROCK", inv))
	require.Equal(t, "DIAMOND_SHOVEL", BestTool("DIRT", inv))
	require.Equal(t, "", BestTool("WOOD", inv), "empty stacks do not count")
	require.Equal(t, "", BestTool("CLOTH", inv), "unknown material needs no tool")
}
