package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"futures-decision-engine/internal/auth"
	"futures-decision-engine/internal/engine"
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbStatus := "disabled"
	dbHealthy := true
	if s.repo != nil {
		dbStatus = "healthy"
		if err := s.repo.HealthCheck(ctx); err != nil {
			dbStatus = "unhealthy"
			dbHealthy = false
		}
	}

	cacheStatus := "disabled"
	if s.cacheSvc != nil {
		cacheStatus = "healthy"
		if !s.cacheSvc.IsHealthy() {
			cacheStatus = "degraded"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !dbHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":   status,
		"database": dbStatus,
		"cache":    cacheStatus,
		"uptime":   time.Since(s.startedAt).String(),
	})
}

// handleStatus returns the engine status
func (s *Server) handleStatus(c *gin.Context) {
	status := s.engine.Status()
	status["ws_clients"] = s.wsHub.GetClientCount()
	status["started_at"] = s.startedAt

	c.JSON(http.StatusOK, status)
}

// handleRegime returns the current market regime and recent history
func (s *Server) handleRegime(c *gin.Context) {
	history := s.engine.RegimeHistory()

	resp := gin.H{"history": history}
	if len(history) > 0 {
		resp["current"] = history[len(history)-1]
	}

	c.JSON(http.StatusOK, resp)
}

// handleProtection returns the state of all protective layers
func (s *Server) handleProtection(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ProtectionStatus())
}

// handleRecentDecisions returns the latest persisted decisions
func (s *Server) handleRecentDecisions(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	decisions, err := s.repo.RecentDecisions(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to load decisions: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// handleRecentOutcomes returns the latest persisted trade outcomes
func (s *Server) handleRecentOutcomes(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	outcomes, err := s.repo.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to load outcomes: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

// handleEvaluate runs one full evaluation cycle over the posted instruments
func (s *Server) handleEvaluate(c *gin.Context) {
	var req engine.CycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Instruments) == 0 {
		errorResponse(c, http.StatusBadRequest, "instruments are required")
		return
	}

	result := s.engine.EvaluateCycle(req)
	c.JSON(http.StatusOK, result)
}

// handleReviewPositions runs protective review over the posted open positions
func (s *Server) handleReviewPositions(c *gin.Context) {
	var req engine.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	reviews := s.engine.ReviewPositions(req)
	c.JSON(http.StatusOK, gin.H{
		"reviews": reviews,
		"count":   len(reviews),
	})
}

// handleRecordOutcome feeds a closed trade back into the engine
func (s *Server) handleRecordOutcome(c *gin.Context) {
	var closure engine.TradeClosure
	if err := c.ShouldBindJSON(&closure); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if closure.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}
	if closure.ExitReason == "" {
		errorResponse(c, http.StatusBadRequest, "exit_reason is required")
		return
	}

	s.engine.RecordTradeClosure(closure)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Outcome recorded",
		"protection": s.engine.ProtectionStatus(),
	})
}

// handleForceResume lifts an active crash pause
func (s *Server) handleForceResume(c *gin.Context) {
	s.engine.CrashProtector().ForceResume()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Crash pause lifted",
		"status":  s.engine.CrashProtector().Status(),
	})
}

// handleResetBreaker clears the stop-loss circuit breaker
func (s *Server) handleResetBreaker(c *gin.Context) {
	s.engine.CircuitBreaker().ForceReset()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Circuit breaker reset",
		"status":  s.engine.CircuitBreaker().Status(time.Now()),
	})
}

// handleIssueToken exchanges the operator password for a bearer token
func (s *Server) handleIssueToken(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "password is required")
		return
	}

	resp, err := s.authService.Login(req.Password)
	if err != nil {
		authErr, ok := err.(auth.AuthError)
		if !ok {
			errorResponse(c, http.StatusInternalServerError, "Failed to issue token")
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   authErr.Code,
			"message": authErr.Message,
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
