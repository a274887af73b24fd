package backup

import (
	"context"
	"sync"
	"time"

	logger "github.com/rs/zerolog/log"
)

var log = logger.With().Str("component", "backup").Logger()

const backupTimeout = time.Minute * 5

// Scheduler executes backups at a regular interval.
type Scheduler struct {
	Interval       time.Duration
	NotificationCh chan BackupResult

	backuper *Backuper
	notify   bool
	// control
	close     chan struct{}
	closeOnce sync.Once
}

// NewScheduler creates a new backup scheduler. If notify is true, the result of every successful
// backup is sent to NotificationCh, which must be consumed.
func NewScheduler(interval time.Duration, backuper *Backuper, notify bool) *Scheduler {
	return &Scheduler{
		Interval:       interval,
		NotificationCh: make(chan BackupResult),

		notify:   notify,
		backuper: backuper,
		close:    make(chan struct{}),
	}
}

// Run starts the scheduler and listens for a shutdown call.
func (s *Scheduler) Run() {
	log.Info().Dur("interval", s.Interval).Msg("starting backup scheduler")

	period := s.Interval
	for {
		select {
		case <-s.close:
			log.Info().Msg("closing backup scheduler")
			return
		case <-time.After(period):
		}

		startTime := time.Now()
		result, ok := s.backup()
		if ok && s.notify {
			select {
			case s.NotificationCh <- result:
			case <-s.close:
				log.Info().Msg("closing backup scheduler")
				return
			}
		}
		period = s.Interval - time.Since(startTime)
		if period < 0 {
			period = 0
		}
	}
}

// Shutdown gracefully shutdowns the scheduler.
func (s *Scheduler) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.close)
	})
}

func (s *Scheduler) backup() (BackupResult, bool) {
	ctx, cls := context.WithTimeout(context.Background(), backupTimeout)
	defer cls()

	result, err := s.backuper.Backup(ctx)
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		return BackupResult{}, false
	}
	log.Info().
		Str("path", result.Path).
		Int64("elapsed_time", result.ElapsedTime.Milliseconds()).
		Int64("elapsed_time_vacuum", result.VacuumElapsedTime.Milliseconds()).
		Int64("elapsed_time_compression", result.CompressionElapsedTime.Milliseconds()).
		Int64("size", result.Size).
		Int64("size_vacuum", result.SizeAfterVacuum).
		Int64("size_compression", result.SizeAfterCompression).
		Int("wallets", len(result.Checkpoint.Wallets)).
		Int64("confirmed_txs", result.Checkpoint.ConfirmedTxs).
		Int64("pending_txs", result.Checkpoint.PendingTxs).
		Uint64("node_head", result.Checkpoint.NodeHead).
		Msg("backup succeeded")

	return result, true
}
