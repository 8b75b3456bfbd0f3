package spool

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionsum/focusbeat/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "spool", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func heartbeat(t *testing.T, title string) *models.PendingHeartbeat {
	t.Helper()

	hb := &models.PendingHeartbeat{
		BucketID:  1,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Pulsetime: 2,
	}
	require.NoError(t, hb.SetData(models.HeartbeatData{App: "chrome", Title: title, TeamID: 3}))
	return hb
}

func title(t *testing.T, hb *models.PendingHeartbeat) string {
	t.Helper()
	d, err := hb.Data()
	require.NoError(t, err)
	return d.Title
}

func TestConnectRejectsEmptyPath(t *testing.T) {
	_, err := Connect("")
	require.Error(t, err)
}

func TestFIFO(t *testing.T) {
	repo := NewRepository(setupTestDB(t), 10)

	oldest, err := repo.Oldest()
	require.NoError(t, err)
	assert.Nil(t, oldest, "empty spool has no head")

	for i := 0; i < 3; i++ {
		dropped, err := repo.Enqueue(heartbeat(t, fmt.Sprintf("tick %d", i)))
		require.NoError(t, err)
		assert.Zero(t, dropped)
	}

	n, err := repo.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for i := 0; i < 3; i++ {
		head, err := repo.Oldest()
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, fmt.Sprintf("tick %d", i), title(t, head))
		assert.Equal(t, 2.0, head.Pulsetime)
		require.NoError(t, repo.Remove(head.ID))
	}

	n, err = repo.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	repo := NewRepository(setupTestDB(t), 3)

	var total int64
	for i := 0; i < 5; i++ {
		dropped, err := repo.Enqueue(heartbeat(t, fmt.Sprintf("tick %d", i)))
		require.NoError(t, err)
		total += dropped
	}

	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(2), repo.Dropped())

	n, err := repo.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	head, err := repo.Oldest()
	require.NoError(t, err)
	assert.Equal(t, "tick 2", title(t, head))
}

func TestMarkAttempt(t *testing.T) {
	repo := NewRepository(setupTestDB(t), 10)

	hb := heartbeat(t, "retry me")
	_, err := repo.Enqueue(hb)
	require.NoError(t, err)

	require.NoError(t, repo.MarkAttempt(hb.ID))
	require.NoError(t, repo.MarkAttempt(hb.ID))

	head, err := repo.Oldest()
	require.NoError(t, err)
	assert.Equal(t, 2, head.Attempts)
}

func TestDeliveryErrors(t *testing.T) {
	repo := NewRepository(setupTestDB(t), 10)

	last, err := repo.LastError()
	require.NoError(t, err)
	assert.Nil(t, last)

	for i := 0; i < maxDeliveryErrors+5; i++ {
		require.NoError(t, repo.RecordError(&models.DeliveryError{
			Timestamp: time.Now(),
			ErrorMsg:  fmt.Sprintf("connection refused %d", i),
			Pending:   int64(i),
		}))
	}

	last, err = repo.LastError()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, fmt.Sprintf("connection refused %d", maxDeliveryErrors+4), last.ErrorMsg)

	var count int64
	require.NoError(t, repo.db.Model(&models.DeliveryError{}).Count(&count).Error)
	assert.Equal(t, int64(maxDeliveryErrors), count)
}

func TestSpoolSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = NewRepository(db, 10).Enqueue(heartbeat(t, "before restart"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	head, err := NewRepository(db, 10).Oldest()
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "before restart", title(t, head))
}
