package services

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sovereignstack/gatekeep/internal/database"
	"github.com/sovereignstack/gatekeep/internal/logger"
	"github.com/sovereignstack/gatekeep/internal/models"
)

// expiredRuleGrace is how long an expired allow/deny row stays visible as
// history before the sweeper removes it.
const expiredRuleGrace = 30 * 24 * time.Hour

// RetentionService tidies old rows on a schedule. It exists purely for
// housekeeping: correctness never depends on it, since blacklist and rule
// expiry are evaluated lazily on read.
type RetentionService struct {
	audit     *AuditLogService
	limiter   *RateLimiterService
	retention time.Duration
	cron      *cron.Cron
}

// NewRetentionService builds the sweeper; retentionDays bounds audit history.
func NewRetentionService(audit *AuditLogService, limiter *RateLimiterService, retentionDays int) *RetentionService {
	return &RetentionService{
		audit:     audit,
		limiter:   limiter,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		cron:      cron.New(),
	}
}

// Start schedules the daily sweep. Returns after registering; the cron
// scheduler runs on its own goroutine until Stop.
func (s *RetentionService) Start() error {
	if _, err := s.cron.AddFunc("@daily", s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *RetentionService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep prunes audit entries past retention, expired allow/deny rows past
// grace, and stale blacklist rows. Failures are logged, never fatal.
func (s *RetentionService) Sweep() {
	log := logger.WithFields(logrus.Fields{"job": "retention"})

	audits, err := s.audit.PruneOlderThan(s.retention)
	if err != nil {
		log.WithError(err).Warn("failed to prune audit entries")
	}

	rules, err := s.pruneExpiredRules()
	if err != nil {
		log.WithError(err).Warn("failed to prune expired rules")
	}

	blocks, err := s.limiter.PruneExpired()
	if err != nil {
		log.WithError(err).Warn("failed to prune blacklist entries")
	}

	log.WithFields(logrus.Fields{
		"audit_entries": audits,
		"rules":         rules,
		"blacklist":     blocks,
	}).Info("retention sweep complete")
}

func (s *RetentionService) pruneExpiredRules() (int64, error) {
	tx, cancel := database.WithTimeout(s.audit.db, s.audit.timeout)
	defer cancel()

	cutoff := s.audit.now().Add(-expiredRuleGrace)
	result := tx.Where("expires_at IS NOT NULL AND expires_at < ?", cutoff).
		Delete(&models.AllowDenyEntry{})
	if result.Error != nil {
		return 0, storageErr("prune expired rules", result.Error)
	}
	return result.RowsAffected, nil
}
