package models

import (
	"time"
)

// Rule is the verdict an allow/deny entry applies to its IP.
type Rule string

const (
	// RuleAllow exempts the IP from all scoring and blacklisting.
	RuleAllow Rule = "allow"
	// RuleDeny blocks the IP unconditionally, equivalent to a permanent blacklist.
	RuleDeny Rule = "deny"
)

// Valid reports whether the rule is one of the known values.
func (r Rule) Valid() bool {
	return r == RuleAllow || r == RuleDeny
}

// AllowDenyEntry is an operator-managed IP rule. Entries are never mutated:
// they are added, optionally expire, and can be deleted. At most one active
// (unexpired) entry exists per IP; expired rows stay around as history.
type AllowDenyEntry struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UUID      string     `json:"uuid" gorm:"uniqueIndex"`
	IP        string     `json:"ip" gorm:"index"` // canonical textual form
	Rule      Rule       `json:"rule"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil = never expires
	Note      string     `json:"note" gorm:"type:text"`
	CreatedAt time.Time  `json:"created_at"`
}

// ActiveAt reports whether the entry is in force at the given instant.
func (e *AllowDenyEntry) ActiveAt(t time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(t)
}
