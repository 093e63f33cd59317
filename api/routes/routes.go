package routes

import (
	"novacore/api/handler"
	"novacore/api/middleware"
	"novacore/config"
	"novacore/internal/service"

	"github.com/labstack/echo/v4"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	Keys           *handler.APIKeyHandler
	Compliance     *handler.ComplianceHandler
	Audit          *handler.AuditHandler
	AuthMiddleware middleware.AuthMiddleware
	KeyMiddleware  middleware.KeyMiddleware
	AuthRate       *middleware.RateLimiter
	LoginRate      *middleware.RateLimiter
}

func NewRouter(
	e *echo.Echo,
	auth *handler.AuthHandler,
	keys *handler.APIKeyHandler,
	compliance *handler.ComplianceHandler,
	audit *handler.AuditHandler,
	authMiddleware middleware.AuthMiddleware,
	keyMiddleware middleware.KeyMiddleware,
	auditService *service.AuditService,
	cfg config.Config,
) *Router {
	return &Router{
		Echo:           e,
		Auth:           auth,
		Keys:           keys,
		Compliance:     compliance,
		Audit:          audit,
		AuthMiddleware: authMiddleware,
		KeyMiddleware:  keyMiddleware,
		AuthRate: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Name:    "auth",
			PerSec:  cfg.AuthRatePerSec,
			Burst:   cfg.AuthRateBurst,
			IdleTTL: cfg.RateLimitIdle,
		}, auditService),
		LoginRate: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Name:    "login",
			PerSec:  cfg.LoginRatePerSec,
			Burst:   cfg.LoginRateBurst,
			IdleTTL: cfg.RateLimitIdle,
		}, auditService),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo

	e.POST("/auth/register", r.Auth.Register, r.AuthRate.Middleware())
	e.POST("/auth/login", r.Auth.Login, r.LoginRate.Middleware())
	e.POST("/auth/login/challenge", r.Auth.LoginChallenge, r.LoginRate.Middleware())
	e.POST("/auth/2fa/enroll", r.Auth.EnrollTwoFactor, r.AuthMiddleware.RequireAuth)
	e.POST("/auth/2fa/confirm", r.Auth.ConfirmTwoFactor, r.AuthMiddleware.RequireAuth)
	e.POST("/auth/2fa/disable", r.Auth.DisableTwoFactor, r.AuthMiddleware.RequireAuth)
	e.POST("/auth/2fa/backup-codes", r.Auth.RegenerateBackupCodes, r.AuthMiddleware.RequireAuth)
	e.POST("/auth/2fa/email-code", r.Auth.SendEmailCode, r.AuthMiddleware.RequireAuth)
	e.GET("/me", r.Auth.Me, r.AuthMiddleware.RequireAuth)

	e.POST("/keys", r.Keys.Create, r.AuthMiddleware.RequireAuth)
	e.GET("/keys", r.Keys.List, r.AuthMiddleware.RequireAuth)
	e.GET("/keys/stats", r.Keys.Stats, r.AuthMiddleware.RequireAuth)
	e.POST("/keys/:id/rotate", r.Keys.Rotate, r.AuthMiddleware.RequireAuth)
	e.DELETE("/keys/:id", r.Keys.Revoke, r.AuthMiddleware.RequireAuth)
	e.POST("/keys/authorize", r.Keys.Authorize, r.AuthRate.Middleware())

	e.POST("/compliance/consent", r.Compliance.RecordConsent, r.AuthMiddleware.RequireAuth)
	e.GET("/compliance/consent", r.Compliance.ConsentHistory, r.AuthMiddleware.RequireAuth)
	e.POST("/compliance/requests/access", r.Compliance.FileAccessRequest, r.AuthMiddleware.RequireAuth)
	e.POST("/compliance/requests/portability", r.Compliance.FilePortabilityRequest, r.AuthMiddleware.RequireAuth)
	e.POST("/compliance/requests/erasure", r.Compliance.FileErasureRequest, r.AuthMiddleware.RequireAuth)
	e.POST("/compliance/requests/rectification", r.Compliance.FileRectificationRequest, r.AuthMiddleware.RequireAuth)
	e.DELETE("/compliance/requests/erasure/:id", r.Compliance.CancelErasure, r.AuthMiddleware.RequireAuth)
	e.GET("/compliance/requests", r.Compliance.ListRequests, r.AuthMiddleware.RequireAuth)
	e.GET("/compliance/requests/:id", r.Compliance.GetRequest, r.AuthMiddleware.RequireAuth)
	e.GET("/compliance/legal-changes", r.Compliance.ListLegalChanges, r.AuthMiddleware.RequireAuth)

	// Service-to-service surface, gated by API key scope rather than a
	// user session.
	e.POST("/admin/legal-changes", r.Compliance.RegisterLegalChange, r.KeyMiddleware.RequireScope("compliance:write"))
	e.GET("/admin/compliance/dashboard", r.Compliance.Dashboard, r.KeyMiddleware.RequireScope("compliance:read"))
	e.GET("/admin/audit/events", r.Audit.Query, r.KeyMiddleware.RequireScope("audit:read"))
	e.GET("/admin/audit/events/:id", r.Audit.GetEvent, r.KeyMiddleware.RequireScope("audit:read"))
	e.GET("/admin/audit/report", r.Audit.Report, r.KeyMiddleware.RequireScope("audit:read"))
}
