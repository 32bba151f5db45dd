package repository

import (
	"context"
	"testing"
	"time"

	"possync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatusRepository(t *testing.T) {
	repo := NewMemoryStatusRepository(time.Hour)
	ctx := context.Background()

	t.Run("SaveAndGetStatus", func(t *testing.T) {
		status := models.SyncStatus{Schedule: "sync_orders_work", State: models.ScheduleScheduled}
		require.NoError(t, repo.SaveStatus(ctx, status))

		got, err := repo.GetStatus(ctx, "sync_orders_work")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, status, *got)
	})

	t.Run("GetMissingStatus", func(t *testing.T) {
		got, err := repo.GetStatus(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("StatusExpires", func(t *testing.T) {
		short := NewMemoryStatusRepository(time.Millisecond)
		require.NoError(t, short.SaveStatus(ctx, models.SyncStatus{Schedule: "s"}))
		time.Sleep(5 * time.Millisecond)

		got, err := short.GetStatus(ctx, "s")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DeadLetters", func(t *testing.T) {
		payload := []byte("first")
		require.NoError(t, repo.PushDeadLetter(ctx, payload))
		require.NoError(t, repo.PushDeadLetter(ctx, []byte("second")))
		payload[0] = 'X'

		letters, err := repo.DeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, letters, 2)
		assert.Equal(t, "second", string(letters[0]))
		assert.Equal(t, "first", string(letters[1]))
	})
}
