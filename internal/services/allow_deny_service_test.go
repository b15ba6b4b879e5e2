package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sovereignstack/gatekeep/internal/models"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.AllowDenyEntry{}, &models.AuditEntry{}, &models.BlacklistEntry{})
	require.NoError(t, err)

	return db
}

func TestAllowDenyService_AddAndLookup(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	entry, err := svc.Add("203.0.113.5", models.RuleAllow, 7, "office")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.UUID)
	assert.Equal(t, "203.0.113.5", entry.IP)
	require.NotNil(t, entry.ExpiresAt)
	assert.True(t, entry.ExpiresAt.After(time.Now().Add(6*24*time.Hour)))

	got, err := svc.Lookup("203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, models.RuleAllow, got.Rule)
	assert.True(t, svc.IsAllowed("203.0.113.5"))
	assert.False(t, svc.IsDenied("203.0.113.5"))
}

func TestAllowDenyService_Add_Validation(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	_, err := svc.Add("not-an-ip", models.RuleAllow, 7, "")
	assert.ErrorIs(t, err, ErrInvalidIPAddress)

	_, err = svc.Add("203.0.113.5", models.Rule("observe"), 7, "")
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = svc.Add("203.0.113.5", models.RuleAllow, 0, "")
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestAllowDenyService_Add_DuplicateActive(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	_, err := svc.Add("203.0.113.5", models.RuleAllow, 7, "")
	require.NoError(t, err)

	_, err = svc.Add("203.0.113.5", models.RuleDeny, 7, "")
	assert.ErrorIs(t, err, ErrDuplicateActive)
}

func TestAllowDenyService_Add_Forever(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	entry, err := svc.Add("198.51.100.9", models.RuleDeny, TTLForever, "known scanner")
	require.NoError(t, err)
	assert.Nil(t, entry.ExpiresAt)
	assert.True(t, svc.IsDenied("198.51.100.9"))
}

func TestAllowDenyService_Lookup_ExpiredIsAbsent(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	_, err := svc.Add("203.0.113.5", models.RuleDeny, 1, "")
	require.NoError(t, err)
	assert.True(t, svc.IsDenied("203.0.113.5"))

	// Advance the clock past the one-day TTL; the entry becomes inert
	// without any cleanup running.
	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err = svc.Lookup("203.0.113.5")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.False(t, svc.IsDenied("203.0.113.5"))

	// The IP is free for a new rule once the old one expired.
	_, err = svc.Add("203.0.113.5", models.RuleAllow, 7, "")
	assert.NoError(t, err)
}

func TestAllowDenyService_CanonicalIP(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	_, err := svc.Add("2001:0db8:0000:0000:0000:0000:0000:0001", models.RuleAllow, 7, "")
	require.NoError(t, err)

	// Lookup with the shortened form finds the same rule.
	got, err := svc.Lookup("2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", got.IP)
}

func TestAllowDenyService_Delete(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	entry, err := svc.Add("203.0.113.5", models.RuleAllow, 7, "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(entry.ID))
	assert.ErrorIs(t, svc.Delete(entry.ID), ErrRuleNotFound)

	_, err = svc.Lookup("203.0.113.5")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestAllowDenyService_List_Pagination(t *testing.T) {
	svc := NewAllowDenyService(setupServiceTestDB(t), time.Second)

	for i := 0; i < 30; i++ {
		_, err := svc.Add(testIP(i), models.RuleDeny, TTLForever, "")
		require.NoError(t, err)
	}

	entries, total, err := svc.List(1, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)
	assert.Len(t, entries, 25)

	entries, _, err = svc.List(2, 25)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func testIP(i int) string {
	return fmt.Sprintf("203.0.113.%d", i+1)
}
