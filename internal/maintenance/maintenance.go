package maintenance

import (
	"context"
	"fmt"
	"time"

	"possync/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const jobTimeout = 10 * time.Minute

// Backuper snapshots the local store.
type Backuper interface {
	PerformBackup(ctx context.Context) (string, error)
	CleanupOldBackups() int
}

// Purger drops synced orders past retention.
type Purger interface {
	PurgeSyncedOrders(ctx context.Context, olderThan time.Time) (int64, error)
}

// Housekeeper runs the store's cron jobs: backups and the purge of old synced orders.
type Housekeeper struct {
	cron    *cron.Cron
	backups Backuper
	purger  Purger
	backup  config.BackupConfig
	house   config.HousekeepingConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// New builds a housekeeper. backups may be nil when backups are disabled.
func New(backup config.BackupConfig, house config.HousekeepingConfig, backups Backuper, purger Purger, logger *zerolog.Logger) *Housekeeper {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "housekeeping").Logger()
	}
	cl := cronLogger{l}
	return &Housekeeper{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		backups: backups,
		purger:  purger,
		backup:  backup,
		house:   house,
		logger:  l,
		now:     time.Now,
	}
}

// Start registers the jobs and starts the cron runner.
func (h *Housekeeper) Start() error {
	if h.backups != nil && h.backup.Enabled {
		if _, err := h.cron.AddFunc(h.backup.Schedule, h.backupJob); err != nil {
			return fmt.Errorf("schedule backup %q: %w", h.backup.Schedule, err)
		}
		h.logger.Info().Str("schedule", h.backup.Schedule).Msg("backup job scheduled")
	}
	if h.purger != nil && h.house.PurgeAfterDays > 0 {
		if _, err := h.cron.AddFunc(h.house.PurgeSchedule, h.purgeJob); err != nil {
			return fmt.Errorf("schedule purge %q: %w", h.house.PurgeSchedule, err)
		}
		h.logger.Info().
			Str("schedule", h.house.PurgeSchedule).
			Int("purge_after_days", h.house.PurgeAfterDays).
			Msg("purge job scheduled")
	}
	h.cron.Start()
	return nil
}

// Stop stops scheduling and waits for running jobs or ctx, whichever comes first.
func (h *Housekeeper) Stop(ctx context.Context) {
	done := h.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		h.logger.Warn().Msg("housekeeping jobs still running at shutdown")
	}
}

// Jobs returns the number of registered cron entries.
func (h *Housekeeper) Jobs() int {
	return len(h.cron.Entries())
}

// RunBackup takes a backup and prunes old ones.
func (h *Housekeeper) RunBackup(ctx context.Context) (string, error) {
	if h.backups == nil {
		return "", fmt.Errorf("backups are not configured")
	}
	path, err := h.backups.PerformBackup(ctx)
	if err != nil {
		return "", err
	}
	if removed := h.backups.CleanupOldBackups(); removed > 0 {
		h.logger.Info().Int("removed", removed).Msg("old backups removed")
	}
	return path, nil
}

// RunPurge deletes synced orders older than the retention window.
func (h *Housekeeper) RunPurge(ctx context.Context) (int64, error) {
	if h.purger == nil {
		return 0, fmt.Errorf("purge is not configured")
	}
	cutoff := h.now().AddDate(0, 0, -h.house.PurgeAfterDays)
	n, err := h.purger.PurgeSyncedOrders(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge synced orders: %w", err)
	}
	h.logger.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("synced orders purged")
	return n, nil
}

func (h *Housekeeper) backupJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := h.RunBackup(ctx); err != nil {
		h.logger.Error().Err(err).Msg("scheduled backup failed")
	}
}

func (h *Housekeeper) purgeJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := h.RunPurge(ctx); err != nil {
		h.logger.Error().Err(err).Msg("scheduled purge failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
