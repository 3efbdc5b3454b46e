package protocol

// OBS (server -> client): one observation per tick.
type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`
	WorldID         string `json:"world_id,omitempty"`

	Self      SelfObs      `json:"self"`
	Inventory []ItemStack  `json:"inventory"`
	Equipment EquipmentObs `json:"equipment"`

	Voxels   VoxelsObs   `json:"voxels"`
	Entities []EntityObs `json:"entities"`
	Events   []EventObs  `json:"events"`
	Tasks    []TaskObs   `json:"tasks"`
}

type SelfObs struct {
	Pos    [3]int   `json:"pos"`
	Yaw    int      `json:"yaw"`
	HP     int      `json:"hp"`
	Food   int      `json:"food"`
	Status []string `json:"status,omitempty"`
}

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type EquipmentObs struct {
	MainHand string `json:"main_hand"`
}

// VoxelsObs carries block changes near the agent. The first OBS of a
// session uses SNAPSHOT encoding (every known cell listed as an op);
// later ticks use DELTA (changed cells only).
type VoxelsObs struct {
	Center   [3]int         `json:"center"`
	Radius   int            `json:"radius"`
	Encoding string         `json:"encoding"` // "SNAPSHOT" or "DELTA"
	Ops      []VoxelDeltaOp `json:"ops,omitempty"`
}

type VoxelDeltaOp struct {
	D [3]int `json:"d"` // offset from center (dx,dy,dz)
	B uint16 `json:"b"` // block palette id
}

type EntityObs struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "PLAYER", "AGENT", "MOB", "ITEM"
	Name string `json:"name,omitempty"`
	Pos  [3]int `json:"pos"`
}

// EventObs is a discrete occurrence the server reports alongside the
// tick. Only the fields relevant to the event type are set.
type EventObs struct {
	Type string `json:"type"` // CHAT, WHISPER, TASK_DONE, DEATH, RESPAWN

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Text string `json:"text,omitempty"`

	TaskID string `json:"task_id,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event types carried in ObsMsg.Events.
const (
	EventChat     = "CHAT"
	EventWhisper  = "WHISPER"
	EventTaskDone = "TASK_DONE"
	EventDeath    = "DEATH"
	EventRespawn  = "RESPAWN"
)

type TaskObs struct {
	TaskID   string  `json:"task_id"`
	Kind     string  `json:"kind"`
	Progress float64 `json:"progress"`
	Target   [3]int  `json:"target,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
	Cancel          []string     `json:"cancel,omitempty"`
}

// Instant types.
const (
	InstantSay     = "SAY"
	InstantWhisper = "WHISPER"
	InstantLookAt  = "LOOK_AT"
	InstantEquip   = "EQUIP"
)

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Text   string `json:"text,omitempty"`
	To     string `json:"to,omitempty"`
	Target [3]int `json:"target,omitempty"`
	Item   string `json:"item,omitempty"`
	Slot   string `json:"slot,omitempty"`
}

// Task types. MOVE_TO and FOLLOW are resolved by the server-side path
// solver; MINE removes a single block.
const (
	TaskMoveTo = "MOVE_TO"
	TaskFollow = "FOLLOW"
	TaskMine   = "MINE"
)

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`

	TargetID string  `json:"target_id,omitempty"`
	Distance float64 `json:"distance,omitempty"`

	BlockPos [3]int `json:"block_pos,omitempty"`
}
