package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/VilchisJuan/minecraft-mcp/internal/agent"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/authflow"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/mining"
	"github.com/VilchisJuan/minecraft-mcp/internal/agent/movement"
	"github.com/VilchisJuan/minecraft-mcp/internal/config"
	"github.com/VilchisJuan/minecraft-mcp/internal/journal"
	"github.com/VilchisJuan/minecraft-mcp/internal/mcp"
	"github.com/VilchisJuan/minecraft-mcp/internal/runindex"
	"github.com/VilchisJuan/minecraft-mcp/internal/worldlink"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/agent.yaml", "agent config path")
		worldURL   = flag.String("world-ws-url", "", "world ws url (overrides config)")
		agentName  = flag.String("name", "", "agent name (overrides config)")
		listen     = flag.String("listen", "", "tool server http listen address (overrides config)")
		hmacSecret = flag.String("hmac-secret", "", "hmac secret (or set MC_MCP_HMAC_SECRET)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *worldURL != "" {
		cfg.World.URL = *worldURL
	}
	if *agentName != "" {
		cfg.World.AgentName = *agentName
	}
	if *listen != "" {
		cfg.MCP.Addr = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if strings.TrimSpace(*hmacSecret) == "" {
		*hmacSecret = strings.TrimSpace(os.Getenv("MC_MCP_HMAC_SECRET"))
	}
	if strings.TrimSpace(*hmacSecret) == "" && !isLoopbackListenAddress(cfg.MCP.Addr) {
		logger.Fatalf("refusing insecure tool-server bind on non-loopback address %q without hmac secret", cfg.MCP.Addr)
	}

	events := journal.NewEventLogger(cfg.DataDir, logger.Printf)
	defer events.Close()

	idx, err := runindex.Open(filepath.Join(cfg.DataDir, "index", "runs.db"))
	if err != nil {
		logger.Fatalf("run index: %v", err)
	}
	defer idx.Close()

	rec := &runRecorder{
		events: events,
		idx:    idx,
		name:   cfg.World.AgentName,
		url:    cfg.World.URL,
	}

	mgr := agent.New(agent.Config{
		World: worldlink.Config{
			URL:       cfg.World.URL,
			AgentName: cfg.World.AgentName,
			AuthToken: cfg.World.AuthToken,
		},
		ConnectTimeout: cfg.World.ConnectTimeout(),
		ReconnectBase:  cfg.Reconnect.BaseDelay(),
		ReconnectCap:   cfg.Reconnect.CapDelay(),
		MaxReconnects:  cfg.Reconnect.MaxAttempts,
		Movement: movement.Config{
			SampleInterval: cfg.Movement.SampleInterval(),
			StuckEpsilonSq: cfg.Movement.StuckEpsilonSq,
			StuckSamples:   cfg.Movement.StuckSamples,
			DefaultTimeout: cfg.Movement.DefaultTimeout(),
		},
		Mining: mining.Config{
			SearchRadius:  cfg.Mining.SearchRadius,
			MaxCandidates: cfg.Mining.MaxCandidates,
			MoveRange:     cfg.Mining.MoveRange,
			MoveTimeout:   cfg.Mining.MoveTimeout(),
			DigTimeout:    cfg.Mining.DigTimeout(),
		},
		Auth: authflow.Config{
			Password:    cfg.Auth.Password,
			AutoSubmit:  cfg.Auth.AutoSubmit,
			MinInterval: cfg.Auth.MinInterval(),
			StepDelay:   cfg.Auth.StepDelay(),
			Ceiling:     cfg.Auth.Ceiling(),
		},
	}, nil, logger, rec)
	defer mgr.Disconnect()

	srv, err := mcp.NewServer(mcp.Config{
		Agent:      mgr,
		HMACSecret: *hmacSecret,
	})
	if err != nil {
		logger.Fatalf("tool server: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.MCP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := mgr.Connect(ctx); err != nil {
			logger.Printf("initial connect: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("tool server on http://%s (world ws=%s, agent=%s)", cfg.MCP.Addr, cfg.World.URL, cfg.World.AgentName)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = strings.TrimSpace(h)
	}
	host = strings.Trim(host, "[]")
	switch strings.ToLower(host) {
	case "127.0.0.1", "::1", "localhost":
		return true
	}
	return false
}

// runRecorder fans agent events out to the journal and derives run
// index rows from the lifecycle, mining and auth events.
type runRecorder struct {
	events *journal.EventLogger
	idx    *runindex.Index
	name   string
	url    string

	mu        sync.Mutex
	sessionID string
	mineStart time.Time
}

func (r *runRecorder) Record(kind string, fields map[string]any) {
	r.events.Record(kind, fields)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case "connected":
		r.sessionID = uuid.NewString()
		r.idx.StartSession(r.sessionID, r.name, r.url)
	case "link_ended", "disconnected":
		if r.sessionID != "" {
			r.idx.EndSession(r.sessionID, stringField(fields, "reason"))
			r.sessionID = ""
		}
	case "mine_area_started":
		r.mineStart = time.Now()
	case "mine_area_done", "mine_area_cancelled":
		if r.sessionID == "" {
			return
		}
		outcome := "exhausted"
		if kind == "mine_area_cancelled" {
			outcome = "cancelled"
		}
		r.idx.RecordMineTask(r.sessionID, r.mineStart,
			vecField(fields, "min"), vecField(fields, "max"),
			intField(fields, "mined"), intField(fields, "skipped"), outcome)
	case "auth_attempt":
		if r.sessionID != "" {
			reg, _ := fields["register"].(bool)
			r.idx.RecordAuthAttempt(r.sessionID, reg)
		}
	}
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	n, _ := fields[key].(int)
	return n
}

func vecField(fields map[string]any, key string) [3]int {
	if fields == nil {
		return [3]int{}
	}
	v, _ := fields[key].([3]int)
	return v
}
