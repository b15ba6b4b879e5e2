package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sovereignstack/gatekeep/internal/database"
	"github.com/sovereignstack/gatekeep/internal/models"
)

// AuditLogService owns the append-only audit log. Both real-time blacklist
// decisions and the host's historical tables read from it; nothing updates a
// row after it lands, except the single not_blocked -> blocked flip a request
// evaluation performs on its own row.
type AuditLogService struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

func NewAuditLogService(db *gorm.DB, timeout time.Duration) *AuditLogService {
	return &AuditLogService{db: db, timeout: timeout, now: time.Now}
}

// ListOptions filter and paginate the audit log for the host's tables.
type ListOptions struct {
	Type    models.EntryType
	IP      string
	Status  models.EntryStatus
	Search  string // matches uri, ip or referer
	Page    int
	PerPage int
}

// Append stores the entry, filling UUID, CreatedAt and IsThreat when unset.
// Failures come back as *StorageError so callers can fail open.
func (s *AuditLogService) Append(entry *models.AuditEntry) error {
	if entry.UUID == "" {
		entry.UUID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.IsThreat = entry.Score > 0

	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()
	return storageErr("append audit entry", tx.Create(entry).Error)
}

// Query returns entries for the IP since the given instant, oldest first.
// An empty types slice matches all entry types.
func (s *AuditLogService) Query(ip string, types []models.EntryType, since time.Time) ([]models.AuditEntry, error) {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	q := tx.Where("ip = ? AND created_at >= ?", ip, since)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}

	var entries []models.AuditEntry
	if err := q.Order("created_at asc").Find(&entries).Error; err != nil {
		return nil, storageErr("query audit entries", err)
	}
	return entries, nil
}

// SumScoreRecent sums the threat scores recorded for the IP within the
// rolling window, across both entry types.
func (s *AuditLogService) SumScoreRecent(ip string, window time.Duration) (int, error) {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	var sum int
	err := tx.Model(&models.AuditEntry{}).
		Where("ip = ? AND created_at >= ?", ip, s.now().Add(-window)).
		Select("COALESCE(SUM(score), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, storageErr("sum recent scores", err)
	}
	return sum, nil
}

// CountRecent counts entries for the IP within the window, optionally
// restricted to the given types.
func (s *AuditLogService) CountRecent(ip string, types []models.EntryType, window time.Duration) (int64, error) {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	q := tx.Model(&models.AuditEntry{}).
		Where("ip = ? AND created_at >= ?", ip, s.now().Add(-window))
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, storageErr("count recent entries", err)
	}
	return count, nil
}

// MarkBlocked flips a request entry written during the current evaluation to
// blocked status. This is the one sanctioned mutation of the log.
func (s *AuditLogService) MarkBlocked(id uint, details string) error {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	err := tx.Model(&models.AuditEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.StatusBlocked, "details": details}).Error
	return storageErr("mark entry blocked", err)
}

// List returns entries newest first with the total count for pagination.
func (s *AuditLogService) List(opts ListOptions) ([]models.AuditEntry, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 || opts.PerPage > 200 {
		opts.PerPage = 25
	}

	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	q := tx.Model(&models.AuditEntry{})
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.IP != "" {
		q = q.Where("ip = ?", opts.IP)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Search != "" {
		like := "%" + opts.Search + "%"
		q = q.Where("uri LIKE ? OR ip LIKE ? OR referer LIKE ?", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count audit entries", err)
	}

	var entries []models.AuditEntry
	err := q.Order("created_at desc").
		Offset((opts.Page - 1) * opts.PerPage).
		Limit(opts.PerPage).
		Find(&entries).Error
	if err != nil {
		return nil, 0, storageErr("list audit entries", err)
	}

	return entries, total, nil
}

// PruneOlderThan deletes entries past the retention age and returns how many
// rows went away.
func (s *AuditLogService) PruneOlderThan(age time.Duration) (int64, error) {
	tx, cancel := database.WithTimeout(s.db, s.timeout)
	defer cancel()

	result := tx.Where("created_at < ?", s.now().Add(-age)).Delete(&models.AuditEntry{})
	if result.Error != nil {
		return 0, storageErr("prune audit entries", result.Error)
	}
	return result.RowsAffected, nil
}
