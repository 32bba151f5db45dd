package repository

import (
	"context"
	"sync/atomic"
	"time"

	"possync/internal/domain"
	"possync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStatusRepository writes to the primary mirror and switches to the
// fallback when the primary fails. The primary is retried once a minute.
type FailoverStatusRepository struct {
	primary   domain.MirrorRepository
	fallback  domain.MirrorRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStatusRepository(primary, fallback domain.MirrorRepository, logger *zerolog.Logger) *FailoverStatusRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverStatusRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStatusRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary status repository failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverStatusRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverStatusRepository) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary status repository recovered")
	}
}

func (r *FailoverStatusRepository) GetStatus(ctx context.Context, schedule string) (*models.SyncStatus, error) {
	if r.usePrimary() {
		status, err := r.primary.GetStatus(ctx, schedule)
		if err == nil {
			r.recovered()
			return status, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetStatus(ctx, schedule)
}

// SaveStatus always updates the fallback so a later switch serves fresh data.
func (r *FailoverStatusRepository) SaveStatus(ctx context.Context, status models.SyncStatus) error {
	if err := r.fallback.SaveStatus(ctx, status); err != nil {
		return err
	}
	if r.usePrimary() {
		if err := r.primary.SaveStatus(ctx, status); err != nil {
			r.markDown(err)
			return nil
		}
		r.recovered()
	}
	return nil
}

func (r *FailoverStatusRepository) PushDeadLetter(ctx context.Context, payload []byte) error {
	if r.usePrimary() {
		err := r.primary.PushDeadLetter(ctx, payload)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.PushDeadLetter(ctx, payload)
}

type deadLetterReader interface {
	DeadLetters(ctx context.Context, limit int) ([][]byte, error)
}

// DeadLetters reads from whichever backend is currently serving.
func (r *FailoverStatusRepository) DeadLetters(ctx context.Context, limit int) ([][]byte, error) {
	if p, ok := r.primary.(deadLetterReader); ok && r.usePrimary() {
		letters, err := p.DeadLetters(ctx, limit)
		if err == nil {
			r.recovered()
			return letters, nil
		}
		r.markDown(err)
	}
	if f, ok := r.fallback.(deadLetterReader); ok {
		return f.DeadLetters(ctx, limit)
	}
	return nil, nil
}
