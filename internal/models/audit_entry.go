package models

import (
	"time"
)

// EntryType distinguishes the two kinds of signals the engine records.
type EntryType string

const (
	EntryTypeLogin   EntryType = "login_attempt"
	EntryTypeRequest EntryType = "blocked_request"
)

// EntryStatus is the outcome recorded with an audit entry. Logins use
// success/failed/blocked; generic requests use not_blocked/blocked.
type EntryStatus string

const (
	StatusSuccess    EntryStatus = "success"
	StatusFailed     EntryStatus = "failed"
	StatusBlocked    EntryStatus = "blocked"
	StatusNotBlocked EntryStatus = "not_blocked"
)

// AuditEntry is one row of the append-only audit log. The score is computed
// once at write time and never recomputed; IsThreat is derived from it. The
// only permitted mutation is flipping a request row from not_blocked to
// blocked within the evaluation that wrote it.
type AuditEntry struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	UUID      string      `json:"uuid" gorm:"uniqueIndex"`
	Type      EntryType   `json:"type" gorm:"index"`
	IP        string      `json:"ip" gorm:"index"`
	Username  string      `json:"username,omitempty"`
	URI       string      `json:"uri,omitempty" gorm:"type:text"`
	UserAgent string      `json:"user_agent,omitempty" gorm:"type:text"`
	Referer   string      `json:"referer,omitempty" gorm:"type:text"`
	Status    EntryStatus `json:"status" gorm:"index"`
	Score     int         `json:"score"`
	IsThreat  bool        `json:"is_threat"`
	Details   string      `json:"details" gorm:"type:text"`
	CreatedAt time.Time   `json:"created_at" gorm:"index"`
}
