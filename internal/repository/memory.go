package repository

import (
	"context"
	"sync"
	"time"

	"possync/internal/models"
)

// MemoryStatusRepository keeps the mirror in process. It backs terminals
// without redis and serves as the failover target.
type MemoryStatusRepository struct {
	mu          sync.Mutex
	statuses    map[string]memoryStatus
	deadLetters [][]byte
	ttl         time.Duration
}

type memoryStatus struct {
	status    models.SyncStatus
	expiresAt time.Time
}

func NewMemoryStatusRepository(ttl time.Duration) *MemoryStatusRepository {
	return &MemoryStatusRepository{
		statuses: make(map[string]memoryStatus),
		ttl:      ttl,
	}
}

func (r *MemoryStatusRepository) GetStatus(_ context.Context, schedule string) (*models.SyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.statuses[schedule]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(r.statuses, schedule)
		return nil, nil
	}
	status := entry.status
	return &status, nil
}

func (r *MemoryStatusRepository) SaveStatus(_ context.Context, status models.SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := memoryStatus{status: status}
	if r.ttl > 0 {
		entry.expiresAt = time.Now().Add(r.ttl)
	}
	r.statuses[status.Schedule] = entry
	return nil
}

func (r *MemoryStatusRepository) PushDeadLetter(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := append([]byte(nil), payload...)
	r.deadLetters = append([][]byte{cp}, r.deadLetters...)
	if len(r.deadLetters) > maxDeadLetters {
		r.deadLetters = r.deadLetters[:maxDeadLetters]
	}
	return nil
}

// DeadLetters returns up to limit dead letters, newest first.
func (r *MemoryStatusRepository) DeadLetters(_ context.Context, limit int) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.deadLetters) {
		limit = len(r.deadLetters)
	}
	out := make([][]byte, limit)
	copy(out, r.deadLetters[:limit])
	return out, nil
}
