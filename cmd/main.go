package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"novacore/api/handler"
	apiMiddleware "novacore/api/middleware"
	"novacore/api/routes"
	"novacore/config"
	"novacore/internal/repository"
	"novacore/internal/service"
	"novacore/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()
	validate := validator.New()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if len(cfg.JWTSecret) == 0 {
		logger.Fatal("JWT_SECRET is required")
	}

	db := config.ConnectDB(cfg.DatabaseURL)

	accessManager := utils.JWTManager{
		Secret:         cfg.JWTSecret,
		Issuer:         cfg.JWTIssuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
	}
	accessIssuer := service.JWTAccessIssuer{Manager: &accessManager}
	challengeIssuer := service.ChallengeTokenIssuer{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.ChallengeTokenTTL,
	}

	accountRepo := repository.NewAccountRepository(db)
	twoFactorRepo := repository.NewTwoFactorRepository(db)
	emailCodeRepo := repository.NewEmailCodeRepository(db)
	apiKeyRepo := repository.NewAPIKeyRepository(db)
	auditRepo := repository.NewAuditEventRepository(db)
	consentRepo := repository.NewConsentRepository(db)
	requestRepo := repository.NewSubjectRequestRepository(db)
	legalRepo := repository.NewLegalChangeRepository(db)

	clock := service.RealClock{}
	auditService := service.NewAuditService(auditRepo, logger, clock, cfg.Retention)

	var sender service.EmailSender
	if cfg.ResendAPIKey != "" {
		sender = service.NewResendEmailSender(cfg.ResendAPIKey, cfg.EmailFrom)
	}
	notifier := service.NewNotifier(sender, auditService, logger)

	credentialService := service.NewCredentialService(
		accountRepo,
		twoFactorRepo,
		consentRepo,
		legalRepo,
		auditService,
		service.BcryptPasswordHasher{},
		accessIssuer,
		challengeIssuer,
		clock,
		service.CredentialConfig{
			LockoutThreshold: cfg.LockoutThreshold,
			LockoutDuration:  cfg.LockoutDuration,
		},
	)

	twoFactorService := service.NewTwoFactorService(
		accountRepo,
		twoFactorRepo,
		emailCodeRepo,
		auditService,
		service.NewOTPProvider(cfg.TOTPIssuer),
		challengeIssuer,
		notifier,
		clock,
		service.TwoFactorConfig{
			BackupCodeCount:   cfg.BackupCodeCount,
			EmailCodeTTL:      cfg.EmailCodeTTL,
			EmailCodeAttempts: cfg.EmailCodeAttempts,
		},
	)

	apiKeyService := service.NewAPIKeyService(
		apiKeyRepo,
		accountRepo,
		auditService,
		notifier,
		clock,
		service.APIKeyConfig{
			DefaultTTL:       cfg.APIKeyTTL,
			RotationGrace:    cfg.RotationGrace,
			AuthzAuditSample: cfg.AuthzAuditSample,
		},
	)

	complianceService := service.NewComplianceService(
		accountRepo,
		consentRepo,
		requestRepo,
		legalRepo,
		apiKeyRepo,
		twoFactorRepo,
		emailCodeRepo,
		auditService,
		notifier,
		logger,
		clock,
		service.ComplianceConfig{ErasureGrace: cfg.ErasureGrace},
	)

	scheduler := service.NewScheduler(apiKeyService, auditService, complianceService, logger, clock, cfg.SweepInterval)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go scheduler.Run(schedulerCtx)

	authHandler := handler.NewAuthHandler(credentialService, twoFactorService, validate)
	keyHandler := handler.NewAPIKeyHandler(apiKeyService, validate)
	complianceHandler := handler.NewComplianceHandler(complianceService, validate)
	auditHandler := handler.NewAuditHandler(auditService)

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status": v.Status,
				"method": v.Method,
				"uri":    v.URI,
				"ip":     v.RemoteIP,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	authMiddleware := apiMiddleware.AuthMiddleware{JWT: &accessManager}
	keyMiddleware := apiMiddleware.KeyMiddleware{Keys: apiKeyService}
	router := routes.NewRouter(app, authHandler, keyHandler, complianceHandler, auditHandler, authMiddleware, keyMiddleware, auditService, cfg)
	router.RegisterRoutes()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server started")
		if err := app.StartServer(server); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}
}
