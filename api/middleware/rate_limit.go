package middleware

import (
	"net/http"
	"sync"
	"time"

	"novacore/internal/entity"
	"novacore/internal/service"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiterConfig tunes one named per-IP throttle; rates and burst come
// from config, not literals at the registration site.
type RateLimiterConfig struct {
	Name    string
	PerSec  float64
	Burst   int
	IdleTTL time.Duration
}

// RateLimiter throttles unauthenticated endpoints per source IP. A limited
// request is refused in the API's error shape and recorded as a security
// event, the same way every other denial in the system is.
type RateLimiter struct {
	audit *service.AuditService
	cfg   RateLimiterConfig

	mutex    sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

func NewRateLimiter(cfg RateLimiterConfig, audit *service.AuditService) *RateLimiter {
	return &RateLimiter{
		audit:    audit,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !l.getLimiter(ip).Allow() {
				l.auditLimited(c, ip)
				return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "too many requests"})
			}
			return next(c)
		}
	}
}

func (l *RateLimiter) auditLimited(c echo.Context, ip string) {
	if l.audit == nil {
		return
	}
	_ = l.audit.Record(c.Request().Context(), service.AuditEntry{
		Category: entity.CategorySecurity,
		Actor:    entity.ActorAnonymous,
		Action:   "request_rate_limited",
		Outcome:  entity.OutcomeFailure,
		Metadata: map[string]any{
			"limiter":   l.cfg.Name,
			"source_ip": ip,
			"path":      c.Path(),
		},
	})
}

func (l *RateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if limiter, ok := l.limiters[ip]; ok {
		l.lastSeen[ip] = time.Now()
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(l.cfg.PerSec), l.cfg.Burst)
	l.limiters[ip] = limiter
	l.lastSeen[ip] = time.Now()
	l.cleanup()
	return limiter
}

func (l *RateLimiter) cleanup() {
	if l.cfg.IdleTTL == 0 {
		return
	}
	cutoff := time.Now().Add(-l.cfg.IdleTTL)
	for ip, last := range l.lastSeen {
		if last.Before(cutoff) {
			delete(l.lastSeen, ip)
			delete(l.limiters, ip)
		}
	}
}
