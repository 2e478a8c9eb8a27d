package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/auth"
	"github.com/satriahrh/geminiplay/internal/websocket"
	"github.com/satriahrh/geminiplay/usecase"
)

const (
	maxUploadBytes       = 10 << 20
	defaultConversations = 20
	maxConversations     = 100
	previewQuality       = 80
	claimsKey            = "claims"
)

// Controller is the live session driven by the API
type Controller interface {
	websocket.Commander
	Status() usecase.Status
	Conversation(ctx context.Context, id string) (*entities.Conversation, error)
	RecentConversations(ctx context.Context, limit int) ([]*entities.Conversation, error)
}

// ShareTarget receives shared images
type ShareTarget interface {
	Deliver(still repositories.Still) error
}

// Previewer renders the current frame of a capture preview
type Previewer interface {
	JPEG(quality int) ([]byte, error)
}

// Dependencies are what the routes are served from. Signer, Uploads and
// Metrics are optional.
type Dependencies struct {
	Controller    Controller
	Hub           *websocket.Hub
	Signer        *auth.Signer
	ControlSecret string
	Uploads       ShareTarget
	Previews      map[string]Previewer
	Metrics       http.Handler
	Logger        *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "geminiplay",
		})
	})

	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/auth/token", func(c echo.Context) error {
		return issueToken(c, deps, logger)
	})

	control := v1.Group("", requireToken(deps.Signer, logger))

	// Session
	control.POST("/session/connect", func(c echo.Context) error {
		var req ConnectRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid request format")
		}
		if err := deps.Controller.Connect(c.Request().Context(), req.APIKey); err != nil {
			return commandError(c, err, logger)
		}
		return c.JSON(http.StatusOK, deps.Controller.Status())
	})
	control.POST("/session/disconnect", func(c echo.Context) error {
		if err := deps.Controller.Disconnect(); err != nil {
			return commandError(c, err, logger)
		}
		return c.JSON(http.StatusOK, deps.Controller.Status())
	})
	control.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, deps.Controller.Status())
	})
	control.POST("/text", func(c echo.Context) error {
		var req TextRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid request format")
		}
		if err := deps.Controller.SendText(c.Request().Context(), req.Text); err != nil {
			return commandError(c, err, logger)
		}
		return c.NoContent(http.StatusAccepted)
	})

	// Captures
	control.POST("/mic/toggle", toggle(deps.Controller.ToggleMic, logger))
	control.POST("/camera/toggle", toggle(deps.Controller.ToggleCamera, logger))
	control.POST("/screen/toggle", toggle(deps.Controller.ToggleScreen, logger))
	control.POST("/screen/upload", func(c echo.Context) error {
		return uploadScreen(c, deps.Uploads, logger)
	})
	control.GET("/preview/:kind", func(c echo.Context) error {
		p, ok := deps.Previews[c.Param("kind")]
		if !ok {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Unknown preview"})
		}
		data, err := p.JPEG(previewQuality)
		if err != nil {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "no_preview", Message: err.Error()})
		}
		return c.Blob(http.StatusOK, "image/jpeg", data)
	})

	// Conversation history
	control.GET("/conversations", func(c echo.Context) error {
		limit := defaultConversations
		if v := c.QueryParam("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return badRequest(c, "limit must be a positive integer")
			}
			limit = min(n, maxConversations)
		}
		conversations, err := deps.Controller.RecentConversations(c.Request().Context(), limit)
		if err != nil {
			return commandError(c, err, logger)
		}
		return c.JSON(http.StatusOK, conversations)
	})
	control.GET("/conversations/:id", func(c echo.Context) error {
		conversation, err := deps.Controller.Conversation(c.Request().Context(), c.Param("id"))
		if err != nil {
			return commandError(c, err, logger)
		}
		return c.JSON(http.StatusOK, conversation)
	})

	// WebSocket endpoint; browsers cannot set headers so the token may come
	// in the query string
	e.GET("/ws", func(c echo.Context) error {
		clientID := uuid.New().String()
		if claims, ok := c.Get(claimsKey).(*auth.JWTClaims); ok {
			clientID = claims.ClientID
		}
		logger.Info("WebSocket connection accepted", zap.String("client_id", clientID))
		return deps.Hub.HandleWebSocket(c, clientID)
	}, requireToken(deps.Signer, logger))
}

func issueToken(c echo.Context, deps Dependencies, logger *zap.Logger) error {
	if deps.Signer == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Authentication is not configured",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind token request", zap.Error(err))
		return badRequest(c, "Invalid request format")
	}
	if req.Secret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Secret is required",
		})
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(deps.ControlSecret)) != 1 {
		logger.Warn("Token request rejected", zap.String("remote", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid control secret",
		})
	}

	token, claims, err := deps.Signer.GenerateToken()
	if err != nil {
		logger.Error("Failed to generate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Control token issued", zap.String("client_id", claims.ClientID))
	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		ClientID:  claims.ClientID,
	})
}

// requireToken validates a Bearer token or a token query parameter. A nil
// signer lets every request through.
func requireToken(signer *auth.Signer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if signer == nil {
				return next(c)
			}

			token := c.QueryParam("token")
			if h := c.Request().Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
			if token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required",
				})
			}

			claims, err := signer.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func toggle(fn func(ctx context.Context) (bool, error), logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		active, err := fn(c.Request().Context())
		if err != nil {
			return commandError(c, err, logger)
		}
		return c.JSON(http.StatusOK, ToggleResponse{Active: active})
	}
}

func uploadScreen(c echo.Context, uploads ShareTarget, logger *zap.Logger) error {
	if uploads == nil {
		return c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:   "share_unavailable",
			Message: "Sharing is not enabled",
		})
	}

	header, err := c.FormFile("image")
	if err != nil {
		return badRequest(c, "An image file is required")
	}
	f, err := header.Open()
	if err != nil {
		return badRequest(c, "Failed to read upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return badRequest(c, "Failed to read upload")
	}
	if len(data) > maxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "too_large",
			Message: "Image exceeds the upload limit",
		})
	}

	still := repositories.Still{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}
	if err := uploads.Deliver(still); err != nil {
		logger.Warn("Share rejected", zap.Error(err))
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "share_pending",
			Message: "An earlier image has not been picked up yet",
		})
	}
	return c.NoContent(http.StatusAccepted)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: message})
}

// commandError maps a domain failure onto an HTTP response
func commandError(c echo.Context, err error, logger *zap.Logger) error {
	if errors.Is(err, domain.ErrConversationNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	}

	status := http.StatusInternalServerError
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindPermissionDenied:
		status = http.StatusForbidden
	case domain.KindNotSupported:
		status = http.StatusNotImplemented
	case domain.KindValidationFailed:
		status = http.StatusBadRequest
	case domain.KindConnectFailed:
		status = http.StatusBadGateway
	case domain.KindStartFailed, domain.KindSendFailed, domain.KindStopFailed:
		status = http.StatusConflict
	case domain.KindShareFailed, domain.KindFilePickFailed:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logger.Error("Command failed", zap.Error(err))
	}

	message := err.Error()
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Message != "" {
		message = derr.Message
	}
	return c.JSON(status, ErrorResponse{Error: kind.String(), Message: message})
}
