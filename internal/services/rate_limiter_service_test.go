package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sovereignstack/gatekeep/internal/models"
)

var testLimiterConfig = RateLimiterConfig{
	Threshold:       3,
	Window:          time.Hour,
	BackoffSchedule: []time.Duration{10 * time.Minute, time.Hour, 6 * time.Hour},
	OffenseLookback: 7 * 24 * time.Hour,
}

// limiterFixture wires a limiter and audit log over one DB with a mutable
// clock shared by both.
type limiterFixture struct {
	db      *gorm.DB
	audit   *AuditLogService
	limiter *RateLimiterService
	now     time.Time
}

func newLimiterFixture(t *testing.T) *limiterFixture {
	db := setupServiceTestDB(t)
	f := &limiterFixture{db: db, now: time.Now()}

	f.audit = NewAuditLogService(db, time.Second)
	f.audit.now = func() time.Time { return f.now }

	f.limiter = NewRateLimiterService(db, f.audit, testLimiterConfig, time.Second)
	f.limiter.now = func() time.Time { return f.now }

	return f
}

func (f *limiterFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *limiterFixture) recordThreat(t *testing.T, ip string, score int) {
	t.Helper()
	require.NoError(t, f.audit.Append(&models.AuditEntry{
		Type:      models.EntryTypeLogin,
		IP:        ip,
		Status:    models.StatusFailed,
		Score:     score,
		CreatedAt: f.now,
	}))
}

func TestRateLimiter_BelowThresholdStaysClean(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 2)

	entry, promoted, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.False(t, promoted)

	blocked, _, err := f.limiter.IsBlacklisted("203.0.113.5")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRateLimiter_PromotesOnThreshold(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 1)
	f.recordThreat(t, "203.0.113.5", 2)

	entry, promoted, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, promoted)
	assert.Equal(t, 3, entry.CumulativeScore)
	assert.Equal(t, 1, entry.Offenses)
	assert.Equal(t, f.now.Add(10*time.Minute), entry.ExpiresAt)

	blocked, got, err := f.limiter.IsBlacklisted("203.0.113.5")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, entry.ID, got.ID)
}

func TestRateLimiter_IsBlacklisted_Idempotent(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 3)
	_, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)

	var first *models.BlacklistEntry
	for i := 0; i < 5; i++ {
		blocked, entry, err := f.limiter.IsBlacklisted("203.0.113.5")
		require.NoError(t, err)
		require.True(t, blocked)
		if first == nil {
			first = entry
		}
		// Polling never extends the lockout.
		assert.Equal(t, first.ExpiresAt, entry.ExpiresAt)
		assert.Equal(t, first.Offenses, entry.Offenses)
	}
}

func TestRateLimiter_ActiveBlockIsNotExtended(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 3)
	entry, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	expires := entry.ExpiresAt

	// More events land while blocked; re-evaluation keeps the lockout as is.
	f.advance(time.Minute)
	f.recordThreat(t, "203.0.113.5", 3)
	again, promoted, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.True(t, expires.Equal(again.ExpiresAt))
	assert.Equal(t, 1, again.Offenses)
}

func TestRateLimiter_ExpiresExactlyAtDeadline(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 3)
	entry, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)

	// One instant before expiry: still blocked.
	f.now = entry.ExpiresAt.Add(-time.Nanosecond)
	blocked, _, err := f.limiter.IsBlacklisted("203.0.113.5")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Exactly at expiry: clean, with no cleanup having run.
	f.now = entry.ExpiresAt
	blocked, _, err = f.limiter.IsBlacklisted("203.0.113.5")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRateLimiter_RepeatOffenseEscalatesBackoff(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 3)
	first, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(10*time.Minute), first.ExpiresAt)

	// Outwait the first lockout, then cross the threshold again while still
	// inside the offense lookback.
	f.advance(20 * time.Minute)
	f.recordThreat(t, "203.0.113.5", 3)
	second, promoted, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.Equal(t, 2, second.Offenses)
	assert.Equal(t, f.now.Add(time.Hour), second.ExpiresAt)
	// Still a single cached row per IP.
	assert.Equal(t, first.ID, second.ID)

	// Third crossing uses the next step; further crossings would repeat it.
	f.advance(2 * time.Hour)
	f.recordThreat(t, "203.0.113.5", 3)
	third, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, 3, third.Offenses)
	assert.Equal(t, f.now.Add(6*time.Hour), third.ExpiresAt)
}

func TestRateLimiter_OffenseLookbackResetsEscalation(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 3)
	_, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)

	// Well past the lookback the slate is clean again.
	f.advance(8 * 24 * time.Hour)
	f.recordThreat(t, "203.0.113.5", 3)
	entry, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Offenses)
	assert.Equal(t, f.now.Add(10*time.Minute), entry.ExpiresAt)
}

func TestRateLimiter_ScoreIsMonotonicWithinWindow(t *testing.T) {
	f := newLimiterFixture(t)

	prev := 0
	for i := 0; i < 5; i++ {
		f.recordThreat(t, "203.0.113.5", 1)
		sum, err := f.audit.SumScoreRecent("203.0.113.5", testLimiterConfig.Window)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sum, prev)
		prev = sum
		f.advance(time.Minute)
	}
	assert.Equal(t, 5, prev)
}

func TestRateLimiter_ListActiveAndPrune(t *testing.T) {
	f := newLimiterFixture(t)

	f.recordThreat(t, "203.0.113.5", 3)
	_, _, err := f.limiter.ReEvaluate("203.0.113.5")
	require.NoError(t, err)

	active, err := f.limiter.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// After lockout and lookback both lapse the row is prunable.
	f.advance(8 * 24 * time.Hour)
	active, err = f.limiter.ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	pruned, err := f.limiter.PruneExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
