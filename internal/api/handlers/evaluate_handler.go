package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sovereignstack/gatekeep/internal/firewall"
	"github.com/sovereignstack/gatekeep/internal/services"
)

// EvaluateHandler exposes the engine's two decision flows to the host. Each
// HTTP call is one host request cycle, so a fresh firewall.RequestState is
// created per invocation.
type EvaluateHandler struct {
	engine *firewall.Engine
}

func NewEvaluateHandler(engine *firewall.Engine) *EvaluateHandler {
	return &EvaluateHandler{engine: engine}
}

type loginRequest struct {
	IP        string `json:"ip" binding:"required"`
	Username  string `json:"username"`
	Succeeded bool   `json:"succeeded"`
	XMLRPC    bool   `json:"xmlrpc"`
}

type requestRequest struct {
	IP        string `json:"ip" binding:"required"`
	URI       string `json:"uri"`
	UserAgent string `json:"user_agent"`
	Referer   string `json:"referer"`
}

type verdictResponse struct {
	Verdict    string `json:"verdict"`
	Score      int    `json:"score"`
	WaitHint   string `json:"wait_hint,omitempty"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
}

// Login handles POST /api/v1/evaluate/login
func (h *EvaluateHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.engine.EvaluateLogin(firewall.NewRequestState(), firewall.LoginSignal{
		IP:        req.IP,
		Username:  req.Username,
		Succeeded: req.Succeeded,
		XMLRPC:    req.XMLRPC,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidIPAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toResponse(verdict))
}

// Request handles POST /api/v1/evaluate/request
func (h *EvaluateHandler) Request(c *gin.Context) {
	var req requestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.engine.EvaluateRequest(firewall.NewRequestState(), firewall.RequestSignal{
		IP:        req.IP,
		URI:       req.URI,
		UserAgent: req.UserAgent,
		Referer:   req.Referer,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidIPAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toResponse(verdict))
}

func toResponse(v firewall.Verdict) verdictResponse {
	resp := verdictResponse{
		Verdict:  "permitted",
		Score:    v.Score,
		Degraded: v.Degraded,
	}
	if !v.Allowed {
		resp.Verdict = "blocked"
		resp.WaitHint = v.WaitHint
		resp.RetryAfter = int64(v.RetryAfter.Seconds())
	}
	return resp
}
