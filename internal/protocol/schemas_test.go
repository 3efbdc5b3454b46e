package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/VilchisJuan/minecraft-mcp/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name, src string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.CompileString(name, src)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json", protocol.HelloSchema)
	welcomeSchema := compile("welcome.schema.json", protocol.WelcomeSchema)
	obsSchema := compile("obs.schema.json", protocol.ObsSchema)
	actSchema := compile("act.schema.json", protocol.ActSchema)

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "agent_name":"bot1",
	  "capabilities":{"delta_voxels":true,"max_queue":8}
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "agent_id":"A1",
	  "world_id":"overworld",
	  "world_params":{"tick_rate_hz":5,"obs_radius":16,"height":256,"seed":1337},
	  "catalogs":{
	    "block_palette":{"digest":"deadbeef","count":28},
	    "item_palette":{"digest":"deadbeef","count":40}
	  }
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var obs any
	_ = json.Unmarshal([]byte(`{
	  "type":"OBS",
	  "protocol_version":"1.0",
	  "tick":12,
	  "agent_id":"A1",
	  "world_id":"overworld",
	  "self":{"pos":[0,64,0],"yaw":0,"hp":20,"food":20},
	  "inventory":[{"item":"STONE_PICKAXE","count":1}],
	  "equipment":{"main_hand":"STONE_PICKAXE"},
	  "voxels":{"center":[0,64,0],"radius":16,"encoding":"DELTA","ops":[{"d":[1,0,0],"b":3}]},
	  "entities":[{"id":"P1","type":"PLAYER","name":"steve","pos":[4,64,4]}],
	  "events":[{"type":"CHAT","from":"steve","text":"hi"}],
	  "tasks":[]
	}`), &obs)
	validate(obsSchema, obs)

	var act any
	_ = json.Unmarshal([]byte(`{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "tick":12,
	  "agent_id":"A1",
	  "instants":[{"id":"I1","type":"SAY","text":"hi"}],
	  "tasks":[{"id":"K1","type":"MOVE_TO","target":[1,64,1],"tolerance":1.2}],
	  "cancel":[]
	}`), &act)
	validate(actSchema, act)
}

func TestDecodeBase_RoutesByType(t *testing.T) {
	b, err := protocol.DecodeBase([]byte(`{"type":"KICK","protocol_version":"1.0","reason":"afk"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Type != protocol.TypeKick {
		t.Fatalf("type = %q, want KICK", b.Type)
	}
	if !protocol.IsSupportedVersion(b.ProtocolVersion) {
		t.Fatalf("version %q should be supported", b.ProtocolVersion)
	}
}

func TestIsKnownCode(t *testing.T) {
	if !protocol.IsKnownCode("") {
		t.Fatal("empty code should be accepted")
	}
	if !protocol.IsKnownCode(protocol.ErrUnreachable) {
		t.Fatal("E_UNREACHABLE should be known")
	}
	if protocol.IsKnownCode("E_NOPE") {
		t.Fatal("unknown code accepted")
	}
}
