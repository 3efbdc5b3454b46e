// Package runindex maintains a small sqlite index of agent runs:
// sessions, area-clearing outcomes and auth attempts, queryable
// offline. Writes are funneled through a single goroutine and batched;
// the zstd journal remains the source of truth, so the index may drop
// rows under pressure.
package runindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type Index struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqSessionEnd
	reqMineTask
	reqAuthAttempt
	reqSync
)

type req struct {
	kind reqKind

	session sessionRow
	mine    mineRow
	auth    authRow
	ack     chan struct{}
}

type sessionRow struct {
	ID        string
	AgentName string
	URL       string
	At        string
	Reason    string
}

type mineRow struct {
	SessionID  string
	StartedAt  string
	FinishedAt string
	MinX, MinY, MinZ int
	MaxX, MaxY, MaxZ int
	Mined      int
	Skipped    int
	Outcome    string
}

type authRow struct {
	SessionID string
	At        string
	Register  bool
}

func Open(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Index{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			url TEXT NOT NULL,
			connected_at TEXT NOT NULL,
			ended_at TEXT,
			end_reason TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS mine_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			min_x INTEGER NOT NULL, min_y INTEGER NOT NULL, min_z INTEGER NOT NULL,
			max_x INTEGER NOT NULL, max_y INTEGER NOT NULL, max_z INTEGER NOT NULL,
			mined INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			outcome TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mine_tasks_session ON mine_tasks(session_id);`,
		`CREATE TABLE IF NOT EXISTS auth_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			at TEXT NOT NULL,
			register INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_attempts_session ON auth_attempts(session_id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (s *Index) StartSession(id, agentName, url string) {
	s.enqueue(req{kind: reqSessionStart, session: sessionRow{ID: id, AgentName: agentName, URL: url, At: now()}})
}

func (s *Index) EndSession(id, reason string) {
	s.enqueue(req{kind: reqSessionEnd, session: sessionRow{ID: id, At: now(), Reason: reason}})
}

func (s *Index) RecordMineTask(sessionID string, startedAt time.Time, min, max [3]int, mined, skipped int, outcome string) {
	s.enqueue(req{kind: reqMineTask, mine: mineRow{
		SessionID:  sessionID,
		StartedAt:  startedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt: now(),
		MinX:       min[0], MinY: min[1], MinZ: min[2],
		MaxX:       max[0], MaxY: max[1], MaxZ: max[2],
		Mined:      mined,
		Skipped:    skipped,
		Outcome:    outcome,
	}})
}

func (s *Index) RecordAuthAttempt(sessionID string, register bool) {
	s.enqueue(req{kind: reqAuthAttempt, auth: authRow{SessionID: sessionID, At: now(), Register: register}})
}

// Sync blocks until every enqueued write is committed.
func (s *Index) Sync() {
	if s == nil || s.closed.Load() {
		return
	}
	ack := make(chan struct{})
	s.ch <- req{kind: reqSync, ack: ack}
	<-ack
}

func (s *Index) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; the journal is authoritative.
	}
}

// SessionCount is a convenience query for operators and tests.
func (s *Index) SessionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

func (s *Index) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(id,agent_name,url,connected_at) VALUES(?,?,?,?)`)
	endSession, _ := s.db.Prepare(`UPDATE sessions SET ended_at=?, end_reason=? WHERE id=?`)
	insertMine, _ := s.db.Prepare(`INSERT INTO mine_tasks(session_id,started_at,finished_at,min_x,min_y,min_z,max_x,max_y,max_z,mined,skipped,outcome) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertAuth, _ := s.db.Prepare(`INSERT INTO auth_attempts(session_id,at,register) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, endSession, insertMine, insertAuth} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.ack)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqSessionStart:
			if insertSession != nil {
				_, err = tx.Stmt(insertSession).Exec(r.session.ID, r.session.AgentName, r.session.URL, r.session.At)
			}
		case reqSessionEnd:
			if endSession != nil {
				_, err = tx.Stmt(endSession).Exec(r.session.At, r.session.Reason, r.session.ID)
			}
		case reqMineTask:
			m := r.mine
			if insertMine != nil {
				_, err = tx.Stmt(insertMine).Exec(m.SessionID, m.StartedAt, m.FinishedAt,
					m.MinX, m.MinY, m.MinZ, m.MaxX, m.MaxY, m.MaxZ, m.Mined, m.Skipped, m.Outcome)
			}
		case reqAuthAttempt:
			if insertAuth != nil {
				_, err = tx.Stmt(insertAuth).Exec(r.auth.SessionID, r.auth.At, boolToInt(r.auth.Register))
			}
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
