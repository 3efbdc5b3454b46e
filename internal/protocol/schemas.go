package protocol

// JSON Schemas for the wire messages. Kept embedded so the client can
// validate traffic without shipping a schema directory next to the
// binary.
const (
	HelloSchema = `{
	  "type": "object",
	  "required": ["type", "protocol_version", "agent_name", "capabilities"],
	  "properties": {
	    "type": {"const": "HELLO"},
	    "protocol_version": {"type": "string"},
	    "agent_name": {"type": "string", "minLength": 1},
	    "capabilities": {
	      "type": "object",
	      "properties": {
	        "delta_voxels": {"type": "boolean"},
	        "max_queue": {"type": "integer", "minimum": 0}
	      }
	    },
	    "auth": {
	      "type": "object",
	      "properties": {"token": {"type": "string"}}
	    }
	  }
	}`

	WelcomeSchema = `{
	  "type": "object",
	  "required": ["type", "protocol_version", "agent_id", "world_params"],
	  "properties": {
	    "type": {"const": "WELCOME"},
	    "protocol_version": {"type": "string"},
	    "agent_id": {"type": "string", "minLength": 1},
	    "world_id": {"type": "string"},
	    "world_params": {
	      "type": "object",
	      "properties": {
	        "tick_rate_hz": {"type": "integer", "minimum": 1},
	        "obs_radius": {"type": "integer", "minimum": 1}
	      }
	    }
	  }
	}`

	ObsSchema = `{
	  "type": "object",
	  "required": ["type", "protocol_version", "tick", "agent_id", "self", "voxels"],
	  "properties": {
	    "type": {"const": "OBS"},
	    "tick": {"type": "integer", "minimum": 0},
	    "agent_id": {"type": "string"},
	    "self": {
	      "type": "object",
	      "required": ["pos", "hp", "food"],
	      "properties": {
	        "pos": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3},
	        "hp": {"type": "integer"},
	        "food": {"type": "integer"}
	      }
	    },
	    "voxels": {
	      "type": "object",
	      "required": ["center", "radius", "encoding"],
	      "properties": {
	        "encoding": {"enum": ["SNAPSHOT", "DELTA"]}
	      }
	    }
	  }
	}`

	ActSchema = `{
	  "type": "object",
	  "required": ["type", "protocol_version", "tick", "agent_id"],
	  "properties": {
	    "type": {"const": "ACT"},
	    "tick": {"type": "integer", "minimum": 0},
	    "agent_id": {"type": "string", "minLength": 1},
	    "instants": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["id", "type"],
	        "properties": {
	          "type": {"enum": ["SAY", "WHISPER", "LOOK_AT", "EQUIP"]}
	        }
	      }
	    },
	    "tasks": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["id", "type"],
	        "properties": {
	          "type": {"enum": ["MOVE_TO", "FOLLOW", "MINE"]}
	        }
	      }
	    },
	    "cancel": {"type": "array", "items": {"type": "string"}}
	  }
	}`
)
