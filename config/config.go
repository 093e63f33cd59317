package config

import (
	"os"
	"strconv"
	"time"

	"novacore/internal/entity"
)

// Config carries the tunables of the security core. Retention is a matrix,
// not a constant: regulators change their minds, operators change env vars.
type Config struct {
	HTTPAddr    string
	DatabaseURL string

	JWTSecret      []byte
	JWTIssuer      string
	AccessTokenTTL time.Duration

	ChallengeTokenTTL time.Duration
	TOTPIssuer        string

	LockoutThreshold int
	LockoutDuration  time.Duration

	APIKeyTTL         time.Duration
	RotationGrace     time.Duration
	AuthzAuditSample  int
	BackupCodeCount   int
	EmailCodeTTL      time.Duration
	EmailCodeAttempts int

	ErasureGrace time.Duration

	AuthRatePerSec  float64
	AuthRateBurst   int
	LoginRatePerSec float64
	LoginRateBurst  int
	RateLimitIdle   time.Duration

	Retention map[entity.AuditCategory]time.Duration

	SweepInterval time.Duration

	ResendAPIKey string
	EmailFrom    string
}

func Load() Config {
	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret:      []byte(os.Getenv("JWT_SECRET")),
		JWTIssuer:      getEnv("JWT_ISSUER", "novacore"),
		AccessTokenTTL: getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),

		ChallengeTokenTTL: getDuration("CHALLENGE_TOKEN_TTL", 5*time.Minute),
		TOTPIssuer:        getEnv("TOTP_ISSUER", "NovaCore"),

		LockoutThreshold: getInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  getDuration("LOCKOUT_DURATION", 30*time.Minute),

		APIKeyTTL:         getDuration("API_KEY_TTL", 30*24*time.Hour),
		RotationGrace:     getDuration("API_KEY_ROTATION_GRACE", 24*time.Hour),
		AuthzAuditSample:  getInt("AUTHZ_AUDIT_SAMPLE", 100),
		BackupCodeCount:   getInt("BACKUP_CODE_COUNT", 10),
		EmailCodeTTL:      getDuration("EMAIL_CODE_TTL", 10*time.Minute),
		EmailCodeAttempts: getInt("EMAIL_CODE_ATTEMPTS", 3),

		ErasureGrace: getDuration("ERASURE_GRACE", 30*24*time.Hour),

		AuthRatePerSec:  getFloat("AUTH_RATE_PER_SEC", 5),
		AuthRateBurst:   getInt("AUTH_RATE_BURST", 10),
		LoginRatePerSec: getFloat("LOGIN_RATE_PER_SEC", 2),
		LoginRateBurst:  getInt("LOGIN_RATE_BURST", 4),
		RateLimitIdle:   getDuration("RATE_LIMIT_IDLE_TTL", 10*time.Minute),

		Retention: map[entity.AuditCategory]time.Duration{
			entity.CategoryAuth:       getDuration("RETENTION_AUTH", 1095*24*time.Hour),
			entity.CategorySecurity:   getDuration("RETENTION_SECURITY", 1095*24*time.Hour),
			entity.CategoryAPI:        getDuration("RETENTION_API", 1095*24*time.Hour),
			entity.CategoryGDPR:       getDuration("RETENTION_GDPR", 2555*24*time.Hour),
			entity.CategoryCompliance: getDuration("RETENTION_COMPLIANCE", 2555*24*time.Hour),
		},

		SweepInterval: getDuration("SWEEP_INTERVAL", time.Hour),

		ResendAPIKey: os.Getenv("RESEND_API_KEY"),
		EmailFrom:    os.Getenv("EMAIL_FROM"),
	}
	return cfg
}

func getEnv(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
