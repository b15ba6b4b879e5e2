package firewall

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sovereignstack/gatekeep/internal/logger"
	"github.com/sovereignstack/gatekeep/internal/metrics"
	"github.com/sovereignstack/gatekeep/internal/models"
	"github.com/sovereignstack/gatekeep/internal/services"
	"github.com/sovereignstack/gatekeep/internal/threat"
)

// LoginSignal is one observed login attempt as reported by the host.
type LoginSignal struct {
	IP       string
	Username string
	// Succeeded is the outcome of the host's own credential check.
	Succeeded bool
	// XMLRPC marks the automated request channel; it is treated as a threat
	// regardless of outcome.
	XMLRPC bool
}

// RequestSignal is one generic HTTP request as reported by the host.
type RequestSignal struct {
	IP        string
	URI       string
	UserAgent string
	Referer   string
}

// Verdict is the engine's answer for a signal. When Allowed is false the
// host must reject the attempt; WaitHint is phrased for end users.
type Verdict struct {
	Allowed    bool
	Score      int
	WaitHint   string
	RetryAfter time.Duration
	// Degraded marks a fail-open verdict: the store was unavailable, so the
	// signal was permitted without full evaluation.
	Degraded bool
}

// RequestState carries per-request-cycle evaluation state. Hosts create one
// per inbound request and pass it to every Evaluate call made during that
// request, so repeated invocations in one cycle cannot escalate the
// blacklist twice.
type RequestState struct {
	blacklistChecked bool
	blacklisted      bool
	entry            *models.BlacklistEntry
}

// NewRequestState returns a fresh state for one host request cycle.
func NewRequestState() *RequestState {
	return &RequestState{}
}

// Scoring weights for the login flow.
type Config struct {
	ScoreFailedLogin int
	ScoreBadUsername int
	ScoreXMLRPC      int
}

// Notifier receives blacklist promotions; implementations must not block.
type Notifier interface {
	BlacklistPromoted(entry *models.BlacklistEntry)
}

// Engine composes the allow/deny list, threat detector, audit log and rate
// limiter into one verdict per signal. The allow/deny lookup is always the
// first read: explicit operator rules are never starved by blacklist state.
type Engine struct {
	detector *threat.Detector
	rules    *services.AllowDenyService
	audit    *services.AuditLogService
	limiter  *services.RateLimiterService
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

func NewEngine(
	detector *threat.Detector,
	rules *services.AllowDenyService,
	audit *services.AuditLogService,
	limiter *services.RateLimiterService,
	notifier Notifier,
	cfg Config,
) *Engine {
	return &Engine{
		detector: detector,
		rules:    rules,
		audit:    audit,
		limiter:  limiter,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// EvaluateLogin decides whether a login attempt may proceed. The attempt is
// always recorded; the verdict depends on operator rules first, then on the
// blacklist state machine.
func (e *Engine) EvaluateLogin(state *RequestState, sig LoginSignal) (Verdict, error) {
	ip, err := validIP(sig.IP)
	if err != nil {
		return Verdict{}, err
	}
	metrics.IncEvaluated()

	rule := e.activeRule(ip)
	if rule != nil && rule.Rule == models.RuleAllow {
		entry := &models.AuditEntry{
			Type:     models.EntryTypeLogin,
			IP:       ip,
			Username: sig.Username,
			Status:   loginStatus(sig.Succeeded),
			Details:  "IP has an active allow rule.",
		}
		if err := e.audit.Append(entry); err != nil {
			return e.failOpen(ip, err), nil
		}
		return Verdict{Allowed: true}, nil
	}

	score, details := e.scoreLogin(sig)
	entry := &models.AuditEntry{
		Type:     models.EntryTypeLogin,
		IP:       ip,
		Username: sig.Username,
		Status:   loginStatus(sig.Succeeded),
		Score:    score,
		Details:  details,
	}
	if err := e.audit.Append(entry); err != nil {
		return e.failOpen(ip, err), nil
	}
	if score > 0 {
		metrics.IncThreat()
	}

	blocked, blEntry, err := e.checkBlacklist(state, ip)
	if err != nil {
		return e.failOpen(ip, err), nil
	}

	denied := rule != nil && rule.Rule == models.RuleDeny
	if !blocked && !denied {
		return Verdict{Allowed: true, Score: score}, nil
	}

	record := &models.AuditEntry{
		Type:     models.EntryTypeLogin,
		IP:       ip,
		Username: sig.Username,
		Status:   models.StatusBlocked,
		Details:  blockDetails(denied),
	}
	if err := e.audit.Append(record); err != nil {
		// The block verdict stands; only the audit trail is degraded.
		logger.WithFields(logrus.Fields{"ip": ip}).WithError(err).Warn("failed to record blocked login")
	}
	metrics.IncBlocked()

	return e.blockedVerdict(score, rule, blEntry), nil
}

// EvaluateRequest decides whether a generic HTTP request may proceed. Only
// threat-bearing or blocked requests are recorded; clean traffic from clean
// IPs leaves no row.
func (e *Engine) EvaluateRequest(state *RequestState, sig RequestSignal) (Verdict, error) {
	ip, err := validIP(sig.IP)
	if err != nil {
		return Verdict{}, err
	}
	metrics.IncEvaluated()

	rule := e.activeRule(ip)
	if rule != nil && rule.Rule == models.RuleAllow {
		return Verdict{Allowed: true}, nil
	}

	score, details := e.scoreRequest(sig)

	var recorded *models.AuditEntry
	if score > 0 {
		metrics.IncThreat()
		recorded = &models.AuditEntry{
			Type:      models.EntryTypeRequest,
			IP:        ip,
			URI:       sig.URI,
			UserAgent: sig.UserAgent,
			Referer:   sig.Referer,
			Status:    models.StatusNotBlocked,
			Score:     score,
			Details:   details,
		}
		if err := e.audit.Append(recorded); err != nil {
			return e.failOpen(ip, err), nil
		}
	}

	blocked, blEntry, err := e.checkBlacklist(state, ip)
	if err != nil {
		return e.failOpen(ip, err), nil
	}

	denied := rule != nil && rule.Rule == models.RuleDeny
	if !blocked && !denied {
		return Verdict{Allowed: true, Score: score}, nil
	}

	if recorded != nil {
		if err := e.audit.MarkBlocked(recorded.ID, details+" "+blockDetails(denied)); err != nil {
			logger.WithFields(logrus.Fields{"ip": ip}).WithError(err).Warn("failed to mark request blocked")
		}
	} else {
		record := &models.AuditEntry{
			Type:      models.EntryTypeRequest,
			IP:        ip,
			URI:       sig.URI,
			UserAgent: sig.UserAgent,
			Referer:   sig.Referer,
			Status:    models.StatusBlocked,
			Details:   blockDetails(denied),
		}
		if err := e.audit.Append(record); err != nil {
			logger.WithFields(logrus.Fields{"ip": ip}).WithError(err).Warn("failed to record blocked request")
		}
	}
	metrics.IncBlocked()

	return e.blockedVerdict(score, rule, blEntry), nil
}

// checkBlacklist runs the rate limiter at most once per request cycle. The
// first call after a new event may escalate; later calls in the same cycle
// only re-read the cached outcome.
func (e *Engine) checkBlacklist(state *RequestState, ip string) (bool, *models.BlacklistEntry, error) {
	if state.blacklistChecked {
		return state.blacklisted, state.entry, nil
	}

	blocked, entry, err := e.limiter.IsBlacklisted(ip)
	if err != nil {
		return false, nil, err
	}
	if !blocked {
		var promoted bool
		entry, promoted, err = e.limiter.ReEvaluate(ip)
		if err != nil {
			return false, nil, err
		}
		blocked = entry != nil
		if promoted {
			metrics.IncBlacklistPromotion()
			logger.WithFields(logrus.Fields{
				"ip":      ip,
				"expires": entry.ExpiresAt,
				"score":   entry.CumulativeScore,
			}).Info("IP promoted to blacklist")
			if e.notifier != nil {
				e.notifier.BlacklistPromoted(entry)
			}
		}
	}

	state.blacklistChecked = true
	state.blacklisted = blocked
	state.entry = entry
	return blocked, entry, nil
}

func (e *Engine) scoreLogin(sig LoginSignal) (int, string) {
	score := 0
	details := ""

	if sig.XMLRPC {
		score += e.cfg.ScoreXMLRPC
		if sig.Succeeded {
			details = "XML-RPC login successful."
		} else {
			details = "XML-RPC login attempt."
		}
	}
	if !sig.Succeeded {
		score += e.cfg.ScoreFailedLogin
	}
	if e.detector.ScoreUsername(sig.Username) > 0 {
		score += e.cfg.ScoreBadUsername
		if sig.Succeeded && details == "" {
			details = "This username is too common. Consider changing it."
		}
	}

	return score, details
}

func (e *Engine) scoreRequest(sig RequestSignal) (int, string) {
	score := 0
	details := ""

	if e.detector.ScoreFilename(sig.URI) > 0 {
		score++
		details = "URI contains a sensitive file name."
	}
	if e.detector.ScoreFileExtension(sig.URI) > 0 {
		score++
		details = "URI targets an archive or backup file."
	}
	score += e.detector.ScoreURI(sig.URI)

	return score, details
}

// activeRule is the precedence read that opens every path. Storage errors
// degrade to "no rule" so a broken store cannot block an evaluation here;
// the scoring path surfaces its own storage errors later.
func (e *Engine) activeRule(ip string) *models.AllowDenyEntry {
	rule, err := e.rules.Lookup(ip)
	if err != nil {
		return nil
	}
	return rule
}

func (e *Engine) blockedVerdict(score int, rule *models.AllowDenyEntry, entry *models.BlacklistEntry) Verdict {
	v := Verdict{Allowed: false, Score: score}

	var expires *time.Time
	if entry != nil {
		expires = &entry.ExpiresAt
	} else if rule != nil && rule.ExpiresAt != nil {
		expires = rule.ExpiresAt
	}
	if expires != nil {
		if remaining := expires.Sub(e.now()); remaining > 0 {
			v.RetryAfter = remaining
			v.WaitHint = WaitHint(remaining)
		}
	}

	return v
}

// failOpen turns a storage failure into a permissive, flagged verdict. This
// is a deliberate availability choice: a broken audit path must not lock out
// legitimate users. Deployments preferring fail-closed need to change this
// knowingly, not by accident.
func (e *Engine) failOpen(ip string, err error) Verdict {
	if !services.IsStorageError(err) {
		// Non-storage errors on this path are still treated as degraded
		// rather than fatal; every evaluation is isolated.
		logger.WithFields(logrus.Fields{"ip": ip}).WithError(err).Error("unexpected evaluation error, failing open")
	} else {
		logger.WithFields(logrus.Fields{"ip": ip}).WithError(err).Warn("storage unavailable, failing open")
	}
	metrics.IncDegraded()
	return Verdict{Allowed: true, Degraded: true}
}

// validIP rejects malformed addresses before any scoring happens and
// normalizes the rest to canonical form.
func validIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", services.ErrInvalidIPAddress
	}
	return parsed.String(), nil
}

func loginStatus(succeeded bool) models.EntryStatus {
	if succeeded {
		return models.StatusSuccess
	}
	return models.StatusFailed
}

func blockDetails(denied bool) string {
	if denied {
		return "IP has an active deny rule."
	}
	return "IP is blacklisted."
}

// WaitHint renders a lockout duration for end users: whole days when at
// least a day remains, else whole hours, else whole minutes, floored, with
// singular wording at exactly one unit.
func WaitHint(remaining time.Duration) string {
	switch {
	case remaining >= 24*time.Hour:
		days := int(remaining.Hours()) / 24
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case remaining >= time.Hour:
		hours := int(remaining.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		minutes := int(remaining.Minutes())
		if minutes <= 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
}
