// Package config loads the agent's yaml configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	World     World     `yaml:"world"`
	Reconnect Reconnect `yaml:"reconnect"`
	Movement  Movement  `yaml:"movement"`
	Mining    Mining    `yaml:"mining"`
	Auth      Auth      `yaml:"auth"`
	MCP       MCP       `yaml:"mcp"`
	DataDir   string    `yaml:"data_dir"`
}

type World struct {
	URL              string `yaml:"url"`
	AgentName        string `yaml:"agent_name"`
	AuthToken        string `yaml:"auth_token"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

type Reconnect struct {
	BaseDelayMs int `yaml:"base_delay_ms"`
	CapDelayMs  int `yaml:"cap_delay_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

type Movement struct {
	SampleIntervalMs int `yaml:"sample_interval_ms"`
	StuckEpsilonSq   int `yaml:"stuck_epsilon_sq"`
	StuckSamples     int `yaml:"stuck_samples"`
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
}

type Mining struct {
	SearchRadius  int     `yaml:"search_radius"`
	MaxCandidates int     `yaml:"max_candidates"`
	MoveRange     float64 `yaml:"move_range"`
	MoveTimeoutMs int     `yaml:"move_timeout_ms"`
	DigTimeoutMs  int     `yaml:"dig_timeout_ms"`
}

type Auth struct {
	Password      string `yaml:"password"`
	AutoSubmit    bool   `yaml:"auto_submit"`
	MinIntervalMs int    `yaml:"min_interval_ms"`
	StepDelayMs   int    `yaml:"step_delay_ms"`
	CeilingMs     int    `yaml:"ceiling_ms"`
}

type MCP struct {
	Addr string `yaml:"addr"`
}

func Defaults() Config {
	return Config{
		World: World{
			URL:              "ws://localhost:8080/ws",
			AgentName:        "agent",
			ConnectTimeoutMs: 30_000,
		},
		Reconnect: Reconnect{
			BaseDelayMs: 2_000,
			CapDelayMs:  60_000,
			MaxAttempts: 8,
		},
		Movement: Movement{
			SampleIntervalMs: 1_000,
			StuckEpsilonSq:   0,
			StuckSamples:     4,
			DefaultTimeoutMs: 60_000,
		},
		Mining: Mining{
			SearchRadius:  32,
			MaxCandidates: 64,
			MoveRange:     2,
			MoveTimeoutMs: 20_000,
			DigTimeoutMs:  10_000,
		},
		Auth: Auth{
			AutoSubmit:    true,
			MinIntervalMs: 10_000,
			StepDelayMs:   500,
			CeilingMs:     60_000,
		},
		MCP: MCP{
			Addr: "127.0.0.1:8077",
		},
		DataDir: "data",
	}
}

// Load reads the yaml file at path over the defaults. A missing file
// is not an error; the defaults apply as-is.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Durations converted from the millisecond fields.
func (w World) ConnectTimeout() time.Duration     { return ms(w.ConnectTimeoutMs) }
func (r Reconnect) BaseDelay() time.Duration      { return ms(r.BaseDelayMs) }
func (r Reconnect) CapDelay() time.Duration       { return ms(r.CapDelayMs) }
func (m Movement) SampleInterval() time.Duration  { return ms(m.SampleIntervalMs) }
func (m Movement) DefaultTimeout() time.Duration  { return ms(m.DefaultTimeoutMs) }
func (m Mining) MoveTimeout() time.Duration       { return ms(m.MoveTimeoutMs) }
func (m Mining) DigTimeout() time.Duration        { return ms(m.DigTimeoutMs) }
func (a Auth) MinInterval() time.Duration         { return ms(a.MinIntervalMs) }
func (a Auth) StepDelay() time.Duration           { return ms(a.StepDelayMs) }
func (a Auth) Ceiling() time.Duration             { return ms(a.CeilingMs) }
