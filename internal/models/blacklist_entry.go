package models

import (
	"time"
)

// BlacklistEntry caches the rate limiter's derived verdict for an IP so the
// host can list blocked addresses and so repeat offenses escalate the
// lockout. The entry is owned by the rate limiter: one logically-active row
// per IP, updated in place when the threshold is crossed again. An IP is
// blacklisted iff its entry's ExpiresAt is in the future; expiry is evaluated
// lazily on read, never by a background sweep.
type BlacklistEntry struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	UUID            string    `json:"uuid" gorm:"uniqueIndex"`
	IP              string    `json:"ip" gorm:"index"`
	BlockedAt       time.Time `json:"blocked_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	CumulativeScore int       `json:"cumulative_score"`
	Offenses        int       `json:"offenses"` // threshold crossings within the lookback
	Reason          string    `json:"reason" gorm:"type:text"`
}

// ActiveAt reports whether the block is in force at the given instant.
func (e *BlacklistEntry) ActiveAt(t time.Time) bool {
	return e.ExpiresAt.After(t)
}
