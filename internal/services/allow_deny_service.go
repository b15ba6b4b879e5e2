package services

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sovereignstack/gatekeep/internal/database"
	"github.com/sovereignstack/gatekeep/internal/models"
)

// TTLForever is the sentinel timespan meaning the rule never expires.
const TTLForever = 999

// AllowDenyService manages operator IP rules. Rules always take precedence
// over the rate limiter's blacklist: an active allow entry is never blocked
// no matter the accumulated score, an active deny entry is always blocked.
type AllowDenyService struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

func NewAllowDenyService(db *gorm.DB, timeout time.Duration) *AllowDenyService {
	return &AllowDenyService{db: db, timeout: timeout, now: time.Now}
}

// Add inserts a new rule for the IP. ttlDays is the number of days until the
// rule expires; TTLForever stores no expiration. Fails with
// ErrDuplicateActive when an active rule already exists - callers must delete
// or outwait it first.
func (s *AllowDenyService) Add(ip string, rule models.Rule, ttlDays int, note string) (*models.AllowDenyEntry, error) {
	canonical, err := canonicalIP(ip)
	if err != nil {
		return nil, err
	}
	if !rule.Valid() {
		return nil, ErrInvalidRule
	}
	if ttlDays < 1 {
		return nil, ErrInvalidTTL
	}

	_, err = s.Lookup(canonical)
	switch {
	case err == nil:
		return nil, ErrDuplicateActive
	case !errors.Is(err, ErrRuleNotFound):
		return nil, err
	}

	now := s.now()
	entry := &models.AllowDenyEntry{
		UUID:      uuid.NewString(),
		IP:        canonical,
		Rule:      rule,
		Note:      note,
		CreatedAt: now,
	}
	if ttlDays != TTLForever {
		expires := now.Add(time.Duration(ttlDays) * 24 * time.Hour)
		entry.ExpiresAt = &expires
	}

	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()
	if err := tx.Create(entry).Error; err != nil {
		return nil, storageErr("insert allow/deny rule", err)
	}

	return entry, nil
}

// Lookup returns the active rule for the IP or ErrRuleNotFound. Expiry is
// evaluated lazily against the clock; expired rows are simply not seen.
func (s *AllowDenyService) Lookup(ip string) (*models.AllowDenyEntry, error) {
	canonical, err := canonicalIP(ip)
	if err != nil {
		return nil, err
	}

	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	var entry models.AllowDenyEntry
	err = tx.Where("ip = ? AND (expires_at IS NULL OR expires_at > ?)", canonical, s.now()).
		Order("created_at desc").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, storageErr("lookup allow/deny rule", err)
	}

	return &entry, nil
}

// IsAllowed reports whether the IP has an active allow rule. Storage errors
// degrade to false so the caller falls through to normal scoring.
func (s *AllowDenyService) IsAllowed(ip string) bool {
	entry, err := s.Lookup(ip)
	return err == nil && entry.Rule == models.RuleAllow
}

// IsDenied reports whether the IP has an active deny rule.
func (s *AllowDenyService) IsDenied(ip string) bool {
	entry, err := s.Lookup(ip)
	return err == nil && entry.Rule == models.RuleDeny
}

// Delete removes a rule by ID.
func (s *AllowDenyService) Delete(id uint) error {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	result := tx.Delete(&models.AllowDenyEntry{}, id)
	if result.Error != nil {
		return storageErr("delete allow/deny rule", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// List returns rules newest first with the total row count for pagination.
func (s *AllowDenyService) List(page, perPage int) ([]models.AllowDenyEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 25
	}

	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	var total int64
	if err := tx.Model(&models.AllowDenyEntry{}).Count(&total).Error; err != nil {
		return nil, 0, storageErr("count allow/deny rules", err)
	}

	var entries []models.AllowDenyEntry
	err := tx.Order("created_at desc").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&entries).Error
	if err != nil {
		return nil, 0, storageErr("list allow/deny rules", err)
	}

	return entries, total, nil
}

// canonicalIP validates and normalizes an IP address to its canonical
// textual form so "203.000.113.005" and "203.0.113.5" share one rule.
func canonicalIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", ErrInvalidIPAddress
	}
	return parsed.String(), nil
}
