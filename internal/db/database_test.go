package db

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err, "Failed to create database")

	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseCreation(t *testing.T) {
	db := setupTestDB(t)
	require.NotNil(t, db)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, db.StartSession("s-1", "127.0.0.1:5000", start))

	s, err := db.GetSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", s.RemoteAddr)
	assert.True(t, s.StartedAt.Equal(start), "started_at round trip: %v", s.StartedAt)
	assert.Nil(t, s.EndedAt)

	end := start.Add(time.Minute)
	require.NoError(t, db.EndSession("s-1", end, 10, 2, 3, "closed"))

	s, err = db.GetSession("s-1")
	require.NoError(t, err)
	require.NotNil(t, s.EndedAt)
	assert.True(t, s.EndedAt.Equal(end))
	assert.Equal(t, int64(10), s.Segments)
	assert.Equal(t, int64(2), s.ColorChanges)
	assert.Equal(t, int64(3), s.Ignored)
	assert.Equal(t, "closed", s.EndReason)
}

func TestGetSessionNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = db.EndSession("missing", time.Now(), 0, 0, 0, "closed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, db.StartSession(id, "", base.Add(time.Duration(i)*time.Hour)))
	}

	sessions, err := db.ListSessions(3, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "e", sessions[0].ID)
	assert.Equal(t, "c", sessions[2].ID)

	sessions, err = db.ListSessions(3, 3)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)

	sessions, err = db.ListSessions(10, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCloseDanglingSessions(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartSession("open", "", now.Add(-time.Hour)))
	require.NoError(t, db.StartSession("done", "", now.Add(-time.Hour)))
	require.NoError(t, db.EndSession("done", now.Add(-time.Minute), 1, 0, 0, "closed"))

	n, err := db.CloseDanglingSessions(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s, err := db.GetSession("open")
	require.NoError(t, err)
	assert.Equal(t, ReasonInterrupted, s.EndReason)

	s, err = db.GetSession("done")
	require.NoError(t, err)
	assert.Equal(t, "closed", s.EndReason)
}

func TestDeleteEndedBefore(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartSession("old", "", now.Add(-72*time.Hour)))
	require.NoError(t, db.EndSession("old", now.Add(-48*time.Hour), 0, 0, 0, "closed"))
	require.NoError(t, db.StartSession("recent", "", now.Add(-2*time.Hour)))
	require.NoError(t, db.EndSession("recent", now.Add(-time.Hour), 0, 0, 0, "closed"))
	require.NoError(t, db.StartSession("open", "", now.Add(-96*time.Hour)))

	n, err := db.DeleteEndedBefore(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.GetSession("old")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetSession("recent")
	assert.NoError(t, err)
	_, err = db.GetSession("open")
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	require.NoError(t, db.StartSession("a", "", now))
	require.NoError(t, db.StartSession("b", "", now))
	require.NoError(t, db.EndSession("a", now, 7, 1, 2, "closed"))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Sessions: 2, OpenSessions: 1, TotalSegments: 7, TotalIgnored: 2}, stats)
}

func TestConcurrentSessions(t *testing.T) {
	db := setupTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, db.StartSession(id, "", time.Now()))
			assert.NoError(t, db.EndSession(id, time.Now(), int64(i), 0, 0, "closed"))
		}(i)
	}
	wg.Wait()

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Sessions)
	assert.Equal(t, 0, stats.OpenSessions)
	assert.Equal(t, int64(190), stats.TotalSegments)
}
