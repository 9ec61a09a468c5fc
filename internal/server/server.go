// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pacepass/pacepass/internal/audit"
	"github.com/pacepass/pacepass/internal/auth"
	"github.com/pacepass/pacepass/internal/config"
	"github.com/pacepass/pacepass/internal/health"
	"github.com/pacepass/pacepass/internal/idgen"
	"github.com/pacepass/pacepass/internal/logging"
	"github.com/pacepass/pacepass/internal/members"
	"github.com/pacepass/pacepass/internal/metrics"
	"github.com/pacepass/pacepass/internal/ratelimit"
	"github.com/pacepass/pacepass/internal/realtime"
	"github.com/pacepass/pacepass/internal/secrets"
	"github.com/pacepass/pacepass/internal/security"
	"github.com/pacepass/pacepass/internal/token"
	"github.com/pacepass/pacepass/internal/traces"
	"github.com/pacepass/pacepass/internal/validation"
	"github.com/pacepass/pacepass/internal/verifier"
	"github.com/pacepass/pacepass/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	members     members.Store
	secretsMgr  *secrets.Manager
	authMgr     *auth.Manager
	verifier    *verifier.Verifier
	audits      audit.Logger
	dispatcher  *webhooks.Dispatcher
	emitter     *webhooks.Emitter
	webhookSub  webhooks.Store
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	s.healthReg = health.NewRegistry()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		s.healthReg.Register("database", health.PingChecker("database", db))

		memberStore := members.NewPostgresStore(db)
		if err := memberStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate member store", "error", err)
		}
		s.members = memberStore

		secretStore := secrets.NewPostgresStore(db)
		if err := secretStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate secret store", "error", err)
		}
		s.secretsMgr = secrets.NewManager(secretStore)

		authStore := auth.NewPostgresStore(db)
		if err := authStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate auth store", "error", err)
		}
		s.authMgr = auth.NewManager(authStore)

		auditLogger := audit.NewPostgresLogger(db)
		if err := auditLogger.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate audit store", "error", err)
		}
		s.audits = auditLogger
		s.logger.Info("check-in audit trail enabled")

		webhookStore := webhooks.NewPostgresStore(db)
		if err := webhookStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate webhook store", "error", err)
		}
		s.webhookSub = webhookStore
		s.logger.Info("webhooks enabled")
	} else {
		s.members = members.NewMemoryStore()
		s.secretsMgr = secrets.NewManager(secrets.NewMemoryStore())
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.audits = audit.NewMemoryLogger()
		s.webhookSub = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.dispatcher = webhooks.NewDispatcher(s.webhookSub)
	s.emitter = webhooks.NewEmitter(s.dispatcher, s.logger)

	// Verifier: the decision engine for scanned payloads
	params := token.Params{
		WindowSeconds: cfg.WindowSeconds,
		SkewWindows:   cfg.SkewWindows,
	}
	s.verifier = verifier.New(
		s.secretsMgr,
		s.members,
		s.audits,
		params,
		verifier.WithLegacyEnabled(cfg.LegacyEnabled),
		verifier.WithLogger(s.logger),
	)
	s.logger.Info("verifier configured",
		"window_seconds", params.WindowSeconds,
		"skew_windows", params.SkewWindows,
		"legacy_enabled", cfg.LegacyEnabled,
	)

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rateCfg := ratelimit.DefaultConfig()
	rateCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	rateCfg.BurstSize = s.cfg.RateLimitRPS * 2
	s.rateLimiter = ratelimit.New(rateCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Lobby screen - live check-in board
	s.router.GET("/", lobbyPageHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :memberId URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.MemberParamMiddleware())

	// PUBLIC ROUTES (no auth required)
	// Scanning terminals hit /checkins with no credentials; the signed payload
	// is the proof.
	v1.POST("/checkins", s.checkinHandler)
	v1.GET("/checkins/recent", s.recentCheckinsHandler)
	v1.GET("/members/:memberId", s.getMemberHandler)
	v1.GET("/stats", s.statsHandler)

	// REGISTRATION (public but returns a session key)
	v1.POST("/members", s.registerMemberHandler)

	// AUTH INFO (public)
	authHandler := auth.NewHandler(s.authMgr)
	v1.GET("/auth/info", authHandler.Info)

	// PROTECTED ROUTES (require session key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		// Secret access is owner-only: the session must belong to the member
		// named in the URL. There is no admin override.
		protected.GET("/members/:memberId/secret", auth.RequireOwnership(s.authMgr, "memberId"), s.getSecretHandler)
		protected.POST("/members/:memberId/secret/rotate", auth.RequireOwnership(s.authMgr, "memberId"), s.rotateSecretHandler)

		// Own check-in history
		protected.GET("/members/:memberId/checkins", auth.RequireOwnership(s.authMgr, "memberId"), s.memberCheckinsHandler)

		// Device session management
		protected.GET("/auth/sessions", authHandler.ListKeys)
		protected.POST("/auth/sessions", authHandler.CreateKey)
		protected.DELETE("/auth/sessions/:sessionId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.GetCurrentMember)
	}

	// ADMIN ROUTES (operator endpoints)
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAdmin())
	{
		webhookHandler := webhooks.NewHandler(s.webhookSub, s.dispatcher)
		webhookHandler.RegisterRoutes(admin)

		admin.GET("/checkins", s.adminCheckinsHandler)
		admin.POST("/members/:memberId/tier", s.updateTierHandler)
	}
}

// -----------------------------------------------------------------------------
// Check-in handlers
// -----------------------------------------------------------------------------

// CheckinRequest is what a scanning terminal posts after decoding a QR code.
type CheckinRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// checkinHandler handles POST /v1/checkins.
//
// The response is always 200: accepted/rejected is a business outcome, not a
// transport error. Terminals branch on the "accepted" field.
func (s *Server) checkinHandler(c *gin.Context) {
	var req CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON with a 'payload' field",
		})
		return
	}

	ctx := c.Request.Context()
	ctx = audit.WithScannerIP(ctx, c.ClientIP())
	ctx = audit.WithRequestID(ctx, logging.RequestID(ctx))

	ctx, span := traces.StartSpan(ctx, "checkin.verify")
	decision := s.verifier.Verify(ctx, req.Payload)
	span.SetAttributes(
		traces.MemberID(decision.MemberID),
		traces.Decision(decisionLabel(decision.Accepted)),
		traces.Reason(decision.Reason),
		traces.TokenKind(decision.Kind),
	)
	span.End()

	metrics.RecordVerification(decision.Accepted, decision.Reason, decision.Kind == audit.KindLegacy)

	if decision.Accepted {
		s.realtimeHub.BroadcastCheckin(map[string]interface{}{
			"memberId":     decision.MemberID,
			"displayName":  decision.DisplayName,
			"tier":         decision.Tier,
			"lowAssurance": decision.LowAssurance,
		})
		s.emitter.EmitCheckinAccepted(decision.MemberID, decision.DisplayName, decision.Tier, decision.LowAssurance)
	} else {
		s.emitter.EmitCheckinRejected(decision.MemberID, decision.Reason)
	}

	c.JSON(http.StatusOK, decision)
}

func decisionLabel(accepted bool) string {
	if accepted {
		return audit.DecisionAccepted
	}
	return audit.DecisionRejected
}

// recentCheckinsHandler handles GET /v1/checkins/recent.
// Feeds the lobby screen: accepted check-ins only, newest first.
func (s *Server) recentCheckinsHandler(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20, 100)

	entries, err := s.audits.RecentAccepted(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load recent check-ins", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load recent check-ins",
		})
		return
	}

	checkins := make([]gin.H, len(entries))
	for i, e := range entries {
		checkins[i] = gin.H{
			"memberId":     e.MemberID,
			"kind":         e.Kind,
			"lowAssurance": e.LowAssurance,
			"at":           e.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"checkins": checkins,
		"count":    len(checkins),
	})
}

// memberCheckinsHandler handles GET /v1/members/:memberId/checkins.
// Owner-only audit history, accepted and rejected.
func (s *Server) memberCheckinsHandler(c *gin.Context) {
	memberID := c.Param("memberId")
	limit := parseLimit(c.Query("limit"), 50, 500)
	decision := c.Query("decision")

	entries, err := s.audits.Query(c.Request.Context(), memberID, time.Time{}, time.Time{}, decision, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to query check-in history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load check-in history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memberId": memberID,
		"checkins": entriesJSON(entries),
		"count":    len(entries),
	})
}

// adminCheckinsHandler handles GET /v1/admin/checkins with optional
// memberId / decision / limit query filters.
func (s *Server) adminCheckinsHandler(c *gin.Context) {
	memberID := c.Query("memberId")
	decision := c.Query("decision")
	limit := parseLimit(c.Query("limit"), 100, 1000)

	if memberID != "" && !validation.IsValidMemberID(memberID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_member_id",
			"message": "memberId must be 1-64 letters, digits, underscore or dash",
		})
		return
	}

	entries, err := s.audits.Query(c.Request.Context(), memberID, time.Time{}, time.Time{}, decision, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to query audit trail", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to query audit trail",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkins": entriesJSON(entries),
		"count":    len(entries),
	})
}

func entriesJSON(entries []*audit.Entry) []gin.H {
	out := make([]gin.H, len(entries))
	for i, e := range entries {
		out[i] = gin.H{
			"memberId":     e.MemberID,
			"decision":     e.Decision,
			"kind":         e.Kind,
			"reason":       e.Reason,
			"lowAssurance": e.LowAssurance,
			"scannerIp":    e.ScannerIP,
			"at":           e.CreatedAt,
		}
	}
	return out
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// -----------------------------------------------------------------------------
// Member handlers
// -----------------------------------------------------------------------------

// RegisterMemberRequest is the request body for POST /v1/members
type RegisterMemberRequest struct {
	MemberID    string `json:"memberId"`
	DisplayName string `json:"displayName" binding:"required"`
	Tier        string `json:"tier"`
}

// registerMemberHandler handles POST /v1/members.
// Provisions the member, their check-in secret, and a first device session.
func (s *Server) registerMemberHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req RegisterMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if req.MemberID == "" {
		req.MemberID = idgen.WithPrefix("mem_")
	}
	if !validation.IsValidMemberID(req.MemberID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_member_id",
			"message": "memberId must be 1-64 letters, digits, underscore or dash",
		})
		return
	}

	req.DisplayName = validation.SanitizeString(req.DisplayName, validation.MaxDisplayNameLength)
	if req.DisplayName == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_display_name",
			"message": "displayName is required",
		})
		return
	}

	if req.Tier == "" {
		req.Tier = members.TierBronze
	}
	if !members.ValidTier(req.Tier) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_tier",
			"message": "tier must be bronze, silver, or gold",
		})
		return
	}

	member := &members.Member{
		ID:          req.MemberID,
		DisplayName: req.DisplayName,
		Tier:        req.Tier,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.members.Create(ctx, member); err != nil {
		if errors.Is(err, members.ErrExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "member_exists",
				"message": "A member with this ID is already registered",
			})
			return
		}
		s.logger.Error("failed to create member", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register member",
		})
		return
	}

	// Provision the check-in secret
	if _, err := s.secretsMgr.Issue(ctx, member.ID); err != nil {
		s.logger.Error("failed to issue secret", "member_id", member.ID, "error", err)
		c.JSON(http.StatusCreated, gin.H{
			"member":  member,
			"warning": "Member registered but secret provisioning failed. Contact support.",
		})
		return
	}

	// Generate first device session key
	rawKey, keyInfo, err := s.authMgr.GenerateKey(ctx, member.ID, "Primary device")
	if err != nil {
		s.logger.Error("failed to generate session key", "member_id", member.ID, "error", err)
		c.JSON(http.StatusCreated, gin.H{
			"member":  member,
			"warning": "Member registered but session key generation failed. Contact support.",
		})
		return
	}

	metrics.MembersRegisteredTotal.Inc()
	s.realtimeHub.Broadcast(&realtime.Event{
		Type:      realtime.EventMemberJoined,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"memberId":    member.ID,
			"displayName": member.DisplayName,
			"tier":        member.Tier,
		},
	})
	s.emitter.EmitMemberJoined(member.ID, member.DisplayName, member.Tier)

	s.logger.Info("member registered",
		"member_id", member.ID,
		"tier", member.Tier,
		"session_id", keyInfo.ID,
	)

	c.JSON(http.StatusCreated, gin.H{
		"member":     member,
		"sessionKey": rawKey,
		"sessionId":  keyInfo.ID,
		"warning":    "Store this session key securely. It will not be shown again.",
		"usage":      "Include 'Authorization: Bearer <sessionKey>' header, then GET /v1/members/{memberId}/secret to provision the badge.",
	})
}

// getMemberHandler handles GET /v1/members/:memberId (public profile)
func (s *Server) getMemberHandler(c *gin.Context) {
	memberID := c.Param("memberId")

	m, err := s.members.Get(c.Request.Context(), memberID)
	if err != nil {
		if errors.Is(err, members.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "member_not_found",
				"message": "No member with that ID",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get member", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load member",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"member": m})
}

// updateTierHandler handles POST /v1/admin/members/:memberId/tier
func (s *Server) updateTierHandler(c *gin.Context) {
	memberID := c.Param("memberId")

	var req struct {
		Tier string `json:"tier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !members.ValidTier(req.Tier) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_tier",
			"message": "tier must be bronze, silver, or gold",
		})
		return
	}

	if err := s.members.UpdateTier(c.Request.Context(), memberID, req.Tier); err != nil {
		if errors.Is(err, members.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "member_not_found",
				"message": "No member with that ID",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to update tier", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update tier",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memberId": memberID,
		"tier":     req.Tier,
	})
}

// -----------------------------------------------------------------------------
// Secret handlers
// -----------------------------------------------------------------------------

// getSecretHandler handles GET /v1/members/:memberId/secret (owner only)
func (s *Server) getSecretHandler(c *gin.Context) {
	memberID := c.Param("memberId")
	caller := auth.GetAuthenticatedMember(c)

	sec, err := s.secretsMgr.GetForOwner(c.Request.Context(), memberID, caller)
	if err != nil {
		if errors.Is(err, secrets.ErrNotOwner) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Secrets are owner-only",
			})
			return
		}
		if errors.Is(err, secrets.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "secret_not_found",
				"message": "No secret on file. Contact support.",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get secret", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load secret",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memberId":  sec.MemberID,
		"secret":    sec.Secret,
		"createdAt": sec.CreatedAt,
		"rotatedAt": sec.RotatedAt,
	})
}

// rotateSecretHandler handles POST /v1/members/:memberId/secret/rotate.
// Every previously generated token is invalid the moment this returns.
func (s *Server) rotateSecretHandler(c *gin.Context) {
	memberID := c.Param("memberId")
	caller := auth.GetAuthenticatedMember(c)

	ctx, span := traces.StartSpan(c.Request.Context(), "secret.rotate", traces.MemberID(memberID))
	sec, err := s.secretsMgr.Rotate(ctx, memberID, caller)
	span.End()
	if err != nil {
		if errors.Is(err, secrets.ErrNotOwner) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Secrets are owner-only",
			})
			return
		}
		if errors.Is(err, secrets.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "secret_not_found",
				"message": "No secret on file. Contact support.",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to rotate secret", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to rotate secret",
		})
		return
	}

	metrics.SecretRotationsTotal.Inc()
	s.realtimeHub.Broadcast(&realtime.Event{
		Type:      realtime.EventSecretRotated,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"memberId": memberID},
	})
	s.emitter.EmitSecretRotated(memberID)

	s.logger.Info("secret rotated", "member_id", memberID)

	c.JSON(http.StatusOK, gin.H{
		"memberId":  sec.MemberID,
		"secret":    sec.Secret,
		"rotatedAt": sec.RotatedAt,
		"warning":   "All previously issued tokens and static badges are now invalid.",
	})
}

// -----------------------------------------------------------------------------
// Info handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":          "Pacepass",
		"description":   "QR check-in for the running club loyalty program",
		"version":       "0.1.0",
		"windowSeconds": s.cfg.WindowSeconds,
		"legacyBadges":  s.cfg.LegacyEnabled,
	})
}

// statsHandler returns aggregate platform stats for the lobby screen
func (s *Server) statsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	stats := gin.H{}

	count, err := s.members.Count(ctx)
	if err == nil {
		stats["totalMembers"] = count
	}

	recent, err := s.audits.RecentAccepted(ctx, 100)
	if err == nil {
		today := 0
		cutoff := time.Now().Add(-24 * time.Hour)
		for _, e := range recent {
			if e.CreatedAt.After(cutoff) {
				today++
			}
		}
		stats["checkinsLast24h"] = today
	}

	if s.realtimeHub != nil {
		stats["realtime"] = s.realtimeHub.Stats()
	}

	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	if s.realtimeHub != nil {
		go s.realtimeHub.Run(runCtx)
	}

	// DB pool stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
