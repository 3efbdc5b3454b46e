package runindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIndex_SessionsAndTasks(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "runs", "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	idx.StartSession("S1", "miner-bot", "ws://localhost:8080/ws")
	idx.RecordAuthAttempt("S1", true)
	idx.RecordAuthAttempt("S1", false)
	idx.RecordMineTask("S1", time.Now().Add(-time.Minute), [3]int{0, 60, 0}, [3]int{4, 64, 4}, 20, 3, "exhausted")
	idx.EndSession("S1", "kicked: afk")
	idx.Sync()

	n, err := idx.SessionCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var reason string
	require.NoError(t, idx.db.QueryRow(`SELECT end_reason FROM sessions WHERE id='S1'`).Scan(&reason))
	require.Equal(t, "kicked: afk", reason)

	var mined, skipped int
	var outcome string
	require.NoError(t, idx.db.QueryRow(
		`SELECT mined, skipped, outcome FROM mine_tasks WHERE session_id='S1'`,
	).Scan(&mined, &skipped, &outcome))
	require.Equal(t, 20, mined)
	require.Equal(t, 3, skipped)
	require.Equal(t, "exhausted", outcome)

	var attempts int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM auth_attempts WHERE session_id='S1'`).Scan(&attempts))
	require.Equal(t, 2, attempts)
}

func TestIndex_WriteAfterCloseIsNoop(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Must not panic or block.
	idx.StartSession("S2", "miner-bot", "ws://localhost:8080/ws")
	idx.Sync()
}
