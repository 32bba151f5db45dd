package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncStateTransitions(t *testing.T) {
	tests := []struct {
		from SyncState
		to   SyncState
		want bool
	}{
		{SyncStatePending, SyncStateSynced, true},
		{SyncStatePending, SyncStateFailed, true},
		{SyncStateFailed, SyncStatePending, true},
		{SyncStateSynced, SyncStatePending, false},
		{SyncStateSynced, SyncStateFailed, false},
		{SyncStateFailed, SyncStateSynced, false},
		{SyncStatePending, SyncStatePending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSyncStateValid(t *testing.T) {
	assert.True(t, SyncStatePending.Valid())
	assert.True(t, SyncStateSynced.Valid())
	assert.True(t, SyncStateFailed.Valid())
	assert.False(t, SyncState("archived").Valid())
	assert.False(t, SyncState("").Valid())
}

func TestComputeOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, ComputeOutcome(0, 0))
	assert.Equal(t, OutcomeSuccess, ComputeOutcome(3, 0))
	assert.Equal(t, OutcomeSuccess, ComputeOutcome(1, 1))
	assert.Equal(t, OutcomeTotalFailure, ComputeOutcome(0, 2))
}

func TestSyncRunHelpers(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	run := SyncRun{Succeeded: 1, Failed: 1, StartedAt: start, FinishedAt: start.Add(2 * time.Second)}
	assert.True(t, run.Partial())
	assert.Equal(t, 2*time.Second, run.Duration())

	run.Failed = 0
	assert.False(t, run.Partial())
}

func TestOrderHelpers(t *testing.T) {
	o := &Order{}
	assert.False(t, o.HasLocalID())
	o.ID = 7
	assert.True(t, o.HasLocalID())

	item := OrderItem{Quantity: 3, UnitPrice: 2.5}
	assert.InDelta(t, 7.5, item.Subtotal(), 0.0001)
}
