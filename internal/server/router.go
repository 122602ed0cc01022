package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/ingest"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	subjectContextKey = "orbit_subject"

	defaultHeartbeatInterval = 25 * time.Second
	defaultMaxUploadBytes    = 10 << 20
)

var (
	errMissingGraphService  = errors.New("graph service dependency required")
	errMissingIngester      = errors.New("ingest pipeline dependency required")
	errInvalidAuthorization = errors.New("authorization token missing or invalid")
)

// Ingester runs the text ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, text string) (ingest.Result, error)
}

// SessionValidator authenticates requests. A nil validator leaves the API open.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Graph             *graph.Service
	Ingester          Ingester
	Sessions          SessionValidator
	Realtime          *realtime.Dispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	MaxUploadBytes    int64
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Graph == nil {
		return nil, errMissingGraphService
	}
	if deps.Ingester == nil {
		return nil, errMissingIngester
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(corsMiddleware())

	handler := &httpHandler{
		graph:          deps.Graph,
		ingester:       deps.Ingester,
		sessions:       deps.Sessions,
		realtime:       deps.Realtime,
		logger:         logger,
		heartbeat:      heartbeat,
		maxUploadBytes: maxUpload,
	}
	handler.procedures = handler.procedureTable()

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/rpc/:procedure", handler.handleProcedure)
	protected.GET("/media/:id", handler.handleMedia)
	protected.GET("/realtime/stream", handler.handleRealtimeStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	graph          *graph.Service
	ingester       Ingester
	sessions       SessionValidator
	realtime       *realtime.Dispatcher
	logger         *zap.Logger
	heartbeat      time.Duration
	maxUploadBytes int64
	procedures     map[string]procedureFunc
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.graph.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.sessions == nil {
		c.Next()
		return
	}
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken), errors.Is(err, jwt.ErrTokenExpired):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": errInvalidAuthorization.Error(),
		})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Next()
}

func (h *httpHandler) publish(eventType string, nodeIDs, eventIDs, mediaIDs []string) {
	if h.realtime == nil {
		return
	}
	h.realtime.Publish(realtime.Message{
		EventType: eventType,
		NodeIDs:   nodeIDs,
		EventIDs:  eventIDs,
		MediaIDs:  mediaIDs,
		Timestamp: time.Now().UTC(),
	})
}
