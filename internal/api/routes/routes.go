package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rail-service/wallet_ledger/internal/api/handlers"
	"github.com/rail-service/wallet_ledger/internal/api/middleware"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/di"
)

const serviceName = "wallet-ledger"

// Version is reported by the health endpoints
var Version = "dev"

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	if container.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Global middleware, tracing first so every later step is inside the span
	router.Use(middleware.Tracing(serviceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(container.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(container.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(container.HealthChecks(), container.ZapLog, Version)
	ledgerHandlers := handlers.NewLedgerHandlers(container.Movement, container.Logger)

	var reconciler handlers.Reconciler
	if container.Scheduler != nil {
		reconciler = container.Scheduler
	}
	adminHandlers := handlers.NewAdminHandlers(container.Movement, reconciler, container.Addresses, container.Logger)

	router.GET("/health", healthHandler.Readiness)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Typed nils must not reach the middleware interfaces.
	var limiter middleware.MovementLimiter
	if container.MovementLimiter != nil {
		limiter = container.MovementLimiter
	}
	var otpAttempts middleware.OTPAttempts
	if container.OTPAttempts != nil {
		otpAttempts = container.OTPAttempts
	}
	limit := func(endpoint string) gin.HandlerFunc {
		return middleware.UserRateLimit(limiter, endpoint, container.Logger)
	}
	adminOTP := middleware.RequireAdminOTPWithLockout(container.Config.Admin.TOTPSecret, otpAttempts, container.Logger)

	jwtCfg := container.Config.JWT
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authentication(jwtCfg.Issuer, jwtCfg.Secret))
	{
		wallets := v1.Group("/wallets")
		{
			wallets.POST("", ledgerHandlers.CreateWallet)
			wallets.DELETE("/:wallet_id", ledgerHandlers.DeleteWallet)
			wallets.GET("/:wallet_id/balance", ledgerHandlers.GetBalance)
			wallets.GET("/:wallet_id/entries", ledgerHandlers.ListEntries)
		}

		v1.POST("/withdrawals", limit("withdraw"), ledgerHandlers.RequestWithdraw)
		v1.POST("/swaps", limit("swap"), ledgerHandlers.RequestSwap)
		v1.POST("/transfers", limit("transfer"), ledgerHandlers.RequestTransfer)
		v1.POST("/stakes", limit("stake"), ledgerHandlers.Stake)
		v1.GET("/movements/:request_id", ledgerHandlers.GetMovement)
		v1.GET("/dues/balance", ledgerHandlers.GetDueBalance)

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			withdrawals := admin.Group("/withdrawals/:request_id")
			{
				withdrawals.POST("/approve", adminOTP, adminHandlers.ApproveWithdraw)
				withdrawals.POST("/reject", adminOTP, adminHandlers.RejectWithdraw)
				withdrawals.POST("/confirm", adminHandlers.ConfirmWithdraw)
				withdrawals.POST("/fail", adminHandlers.FailWithdraw)
			}

			admin.POST("/deposits", adminHandlers.RecordDeposit)
			admin.POST("/dues", adminHandlers.ChargeDue)
			admin.POST("/deposit-addresses", adminHandlers.RegisterAddress)
			admin.GET("/movements/:request_id", adminHandlers.GetMovement)
			admin.POST("/reconciliation/run", adminHandlers.RunReconciliation)
			admin.GET("/reconciliation/latest", adminHandlers.LatestReconciliation)
		}
	}

	return router
}
