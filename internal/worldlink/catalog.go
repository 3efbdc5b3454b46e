package worldlink

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/VilchisJuan/minecraft-mcp/internal/protocol"
)

// BlockDef is one block palette entry from the server catalog.
type BlockDef struct {
	ID        uint16 `json:"id"`
	Name      string `json:"name"`
	Material  string `json:"material"`
	Removable bool   `json:"removable"`
}

// Catalog maps palette ids to block definitions.
type Catalog struct {
	blocks map[uint16]BlockDef
}

func NewCatalog(defs []BlockDef) *Catalog {
	c := &Catalog{blocks: make(map[uint16]BlockDef, len(defs))}
	for _, d := range defs {
		c.blocks[d.ID] = d
	}
	return c
}

func ParseBlockPalette(raw json.RawMessage) (*Catalog, error) {
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("block_palette: %w", err)
	}
	return NewCatalog(defs), nil
}

func (c *Catalog) Block(id uint16) (BlockDef, bool) {
	if c == nil {
		return BlockDef{}, false
	}
	d, ok := c.blocks[id]
	return d, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.blocks)
}

// ToolForMaterial maps a material class to the tool class that removes
// it fastest. Unknown materials need no tool.
func ToolForMaterial(material string) string {
	switch strings.ToLower(material) {
	case "rock", "ore":
		return "PICKAXE"
	case "dirt", "sand", "gravel":
		return "SHOVEL"
	case "wood":
		return "AXE"
	default:
		return ""
	}
}

// toolTiers, best first.
var toolTiers = []string{"DIAMOND", "IRON", "STONE", "GOLD", "WOOD"}

// BestTool picks the highest-tier tool of the right class from the
// given inventory. Empty result means nothing suitable is carried.
func BestTool(material string, inventory []protocol.ItemStack) string {
	class := ToolForMaterial(material)
	if class == "" {
		return ""
	}
	for _, tier := range toolTiers {
		want := tier + "_" + class
		for _, s := range inventory {
			if s.Count > 0 && strings.EqualFold(s.Item, want) {
				return s.Item
			}
		}
	}
	return ""
}
