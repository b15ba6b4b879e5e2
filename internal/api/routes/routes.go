package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/sovereignstack/gatekeep/internal/api/handlers"
	"github.com/sovereignstack/gatekeep/internal/api/middleware"
	"github.com/sovereignstack/gatekeep/internal/config"
	"github.com/sovereignstack/gatekeep/internal/firewall"
	"github.com/sovereignstack/gatekeep/internal/metrics"
	"github.com/sovereignstack/gatekeep/internal/models"
	"github.com/sovereignstack/gatekeep/internal/notify"
	"github.com/sovereignstack/gatekeep/internal/services"
	"github.com/sovereignstack/gatekeep/internal/threat"
)

// Register wires up API routes, performs automatic migrations and starts the
// retention sweeper. The returned stop function halts background jobs.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (func(), error) {
	if err := db.AutoMigrate(
		&models.AllowDenyEntry{},
		&models.AuditEntry{},
		&models.BlacklistEntry{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	rules := services.NewAllowDenyService(db, cfg.StoreTimeout)
	audit := services.NewAuditLogService(db, cfg.StoreTimeout)
	limiter := services.NewRateLimiterService(db, audit, services.RateLimiterConfig{
		Threshold:       cfg.BlacklistThreshold,
		Window:          cfg.ScoreWindow,
		BackoffSchedule: cfg.BackoffSchedule,
		OffenseLookback: cfg.OffenseLookback,
	}, cfg.StoreTimeout)

	engine := firewall.NewEngine(
		threat.NewDetector(cfg.BadUsernames),
		rules,
		audit,
		limiter,
		notify.New(cfg.NotifyURL),
		firewall.Config{
			ScoreFailedLogin: cfg.ScoreFailedLogin,
			ScoreBadUsername: cfg.ScoreBadUsername,
			ScoreXMLRPC:      cfg.ScoreXMLRPC,
		},
	)

	retention := services.NewRetentionService(audit, limiter, cfg.RetentionDays)
	if err := retention.Start(); err != nil {
		return nil, fmt.Errorf("start retention sweeper: %w", err)
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery(cfg.Environment == "development"))

	evaluateHandler := handlers.NewEvaluateHandler(engine)
	ruleHandler := handlers.NewRuleHandler(rules)
	entriesHandler := handlers.NewEntriesHandler(audit, limiter)

	router.GET("/healthz", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/evaluate/login", evaluateHandler.Login)
		v1.POST("/evaluate/request", evaluateHandler.Request)

		v1.POST("/rules", ruleHandler.Create)
		v1.GET("/rules", ruleHandler.List)
		v1.DELETE("/rules/:id", ruleHandler.Delete)

		v1.GET("/entries", entriesHandler.List)
		v1.GET("/blacklist", entriesHandler.Blacklist)
	}

	return retention.Stop, nil
}
