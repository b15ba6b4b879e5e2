package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sovereignstack/gatekeep/internal/database"
	"github.com/sovereignstack/gatekeep/internal/models"
)

// RateLimiterConfig is the blacklisting policy. The backoff schedule is
// ascending lockout durations indexed by prior offenses within the lookback;
// the last step repeats for chronic offenders.
type RateLimiterConfig struct {
	Threshold       int
	Window          time.Duration
	BackoffSchedule []time.Duration
	OffenseLookback time.Duration
}

// RateLimiterService drives the per-IP state machine
// Clean -> Suspect -> Blacklisted -> (expired) -> Clean. All state is derived
// from the audit log plus the cached blacklist row; nothing is advanced by a
// background job, reads just re-evaluate expiry against the clock.
type RateLimiterService struct {
	db      *gorm.DB
	audit   *AuditLogService
	cfg     RateLimiterConfig
	timeout time.Duration
	now     func() time.Time
}

func NewRateLimiterService(db *gorm.DB, audit *AuditLogService, cfg RateLimiterConfig, timeout time.Duration) *RateLimiterService {
	return &RateLimiterService{db: db, audit: audit, cfg: cfg, timeout: timeout, now: time.Now}
}

// IsBlacklisted reports whether the IP is currently blocked. It is a pure
// read: polling it never extends a window or bumps a score, so repeated
// calls without new events return the same verdict until expiry.
func (s *RateLimiterService) IsBlacklisted(ip string) (bool, *models.BlacklistEntry, error) {
	entry, err := s.latest(ip)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, nil
		}
		return false, nil, storageErr("lookup blacklist entry", err)
	}
	if !entry.ActiveAt(s.now()) {
		return false, nil, nil
	}
	return true, entry, nil
}

// ReEvaluate recomputes the IP's cumulative score over the rolling window and
// promotes it to the blacklist when the threshold is crossed. Call it only
// when a new scored event has landed; the returned bool is true on a fresh
// promotion. A re-crossing updates the cached row in place - longer lockout,
// never a duplicate.
func (s *RateLimiterService) ReEvaluate(ip string) (*models.BlacklistEntry, bool, error) {
	now := s.now()

	prior, err := s.latest(ip)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, storageErr("lookup blacklist entry", err)
	}
	if prior != nil && prior.ActiveAt(now) {
		// Already blocked; the event that triggered this call cannot
		// shorten or extend the running lockout.
		return prior, false, nil
	}

	sum, err := s.audit.SumScoreRecent(ip, s.cfg.Window)
	if err != nil {
		return nil, false, err
	}
	if sum < s.cfg.Threshold {
		return nil, false, nil
	}

	offenses := 1
	if prior != nil && prior.BlockedAt.After(now.Add(-s.cfg.OffenseLookback)) {
		offenses = prior.Offenses + 1
	}

	entry := prior
	if entry == nil {
		entry = &models.BlacklistEntry{UUID: uuid.NewString(), IP: ip}
	}
	entry.BlockedAt = now
	entry.ExpiresAt = now.Add(s.backoff(offenses))
	entry.CumulativeScore = sum
	entry.Offenses = offenses
	entry.Reason = fmt.Sprintf("cumulative threat score %d reached threshold %d", sum, s.cfg.Threshold)

	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()
	if err := tx.Save(entry).Error; err != nil {
		return nil, false, storageErr("save blacklist entry", err)
	}

	return entry, true, nil
}

// ListActive returns the currently enforced blacklist entries, newest first.
func (s *RateLimiterService) ListActive() ([]models.BlacklistEntry, error) {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	var entries []models.BlacklistEntry
	err := tx.Where("expires_at > ?", s.now()).
		Order("blocked_at desc").
		Find(&entries).Error
	if err != nil {
		return nil, storageErr("list blacklist entries", err)
	}
	return entries, nil
}

// PruneExpired deletes blacklist rows whose lockout and offense lookback have
// both lapsed; keeping them longer serves no escalation purpose.
func (s *RateLimiterService) PruneExpired() (int64, error) {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.OffenseLookback)
	result := tx.Where("expires_at < ?", cutoff).Delete(&models.BlacklistEntry{})
	if result.Error != nil {
		return 0, storageErr("prune blacklist entries", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *RateLimiterService) latest(ip string) (*models.BlacklistEntry, error) {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	var entry models.BlacklistEntry
	if err := tx.Where("ip = ?", ip).Order("blocked_at desc").First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *RateLimiterService) backoff(offenses int) time.Duration {
	idx := offenses - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.cfg.BackoffSchedule) {
		idx = len(s.cfg.BackoffSchedule) - 1
	}
	return s.cfg.BackoffSchedule[idx]
}
