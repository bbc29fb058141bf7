// Package server assembles the service graph and the HTTP router shared by
// the API binary, the sweep binary and the end-to-end tests.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"ledgercore/internal/config"
	"ledgercore/internal/events"
	"ledgercore/internal/handlers"
	"ledgercore/internal/logger"
	"ledgercore/internal/middleware"
	"ledgercore/internal/notify"
	"ledgercore/internal/services"
)

// Services is the wired service graph. The alert service observes every
// ledger-changing service.
type Services struct {
	User         services.UserServicer
	Audit        services.AuditServicer
	Account      services.AccountServicer
	Category     services.CategoryServicer
	Rule         services.RuleServicer
	Budget       services.BudgetServicer
	Notification services.NotificationServicer
	Alert        services.AlertServicer
	Transaction  services.TransactionServicer
	Recurring    services.RecurringServicer
	Import       services.ImportServicer
	Sweep        services.SweepServicer
}

// NewServices wires every service against db.
func NewServices(db *gorm.DB, email services.EmailSender, publisher services.AlertPublisher, sweepConcurrency int) *Services {
	s := &Services{
		User:         services.NewUserService(db),
		Audit:        services.NewAuditService(db),
		Account:      services.NewAccountService(db),
		Category:     services.NewCategoryService(db),
		Rule:         services.NewRuleService(db),
		Budget:       services.NewBudgetService(db),
		Notification: services.NewNotificationService(db),
		Alert:        services.NewAlertService(db, email, publisher),
	}
	s.Transaction = services.NewTransactionService(db, s.Account, s.Rule, s.Alert)
	s.Recurring = services.NewRecurringService(db, s.Account, s.Alert)
	s.Import = services.NewImportService(db, s.Account, s.Rule, s.Alert)
	s.Sweep = services.NewSweepService(s.User, s.Recurring, s.Alert, s.Audit, sweepConcurrency)
	return s
}

// NewEmailSender returns an SMTP sender when SMTP_HOST is set and a sender
// that only logs otherwise.
func NewEmailSender(cfg *config.Config) services.EmailSender {
	if cfg.SMTPHost == "" {
		logger.Get().Info("SMTP_HOST not set, alert emails will be logged only")
		return notify.LogSender{}
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

// NewPublisher connects to the broker when AMQP_URL is set. A broker that is
// down at startup disables publishing instead of failing the process. The
// returned func closes the connection.
func NewPublisher(cfg *config.Config) (services.AlertPublisher, func()) {
	if cfg.AMQPURL == "" {
		return events.NopPublisher{}, func() {}
	}
	publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		logger.Get().Warnw("Alert event publishing disabled", "error", err)
		return events.NopPublisher{}, func() {}
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Get().Warnw("Failed to close AMQP publisher", "error", err)
		}
	}
}

// NewRouter registers every route under /api/v1. sweepAPIKey guards the
// internal sweep trigger; an empty key disables it.
func NewRouter(s *Services, sweepAPIKey string) *gin.Engine {
	authHandler := handlers.NewAuthHandler(s.User, s.Audit)
	accountHandler := handlers.NewAccountHandler(s.Account, s.Audit)
	categoryHandler := handlers.NewCategoryHandler(s.Category, s.Audit)
	transactionHandler := handlers.NewTransactionHandler(s.Transaction, s.Recurring, s.Audit)
	ruleHandler := handlers.NewRuleHandler(s.Rule, s.Audit)
	budgetHandler := handlers.NewBudgetHandler(s.Budget, s.Audit)
	importHandler := handlers.NewImportHandler(s.Import, s.Audit)
	notificationHandler := handlers.NewNotificationHandler(s.Notification, s.Alert)
	sweepHandler := handlers.NewSweepHandler(s.Sweep)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.ErrorHandler())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")

	// Public routes
	auth := v1.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	// Scheduler routes
	internal := v1.Group("/internal")
	internal.Use(middleware.APIKeyMiddleware(sweepAPIKey))
	internal.POST("/sweep", sweepHandler.RunSweep)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware())

	protected.GET("/profile", authHandler.GetProfile)

	accounts := protected.Group("/accounts")
	accounts.POST("", accountHandler.CreateAccount)
	accounts.GET("", accountHandler.GetUserAccounts)
	accounts.GET("/:id", accountHandler.GetAccountByID)
	accounts.PUT("/:id", accountHandler.UpdateAccount)
	accounts.GET("/:id/transactions", transactionHandler.GetAccountTransactions)

	transactions := protected.Group("/transactions")
	transactions.POST("", transactionHandler.CreateTransaction)
	transactions.GET("", transactionHandler.GetUserTransactions)
	transactions.POST("/recurring/run", transactionHandler.RunRecurring)
	transactions.GET("/:id", transactionHandler.GetTransactionByID)
	transactions.PUT("/:id", transactionHandler.UpdateTransaction)
	transactions.DELETE("/:id", transactionHandler.DeleteTransaction)

	categories := protected.Group("/categories")
	categories.POST("", categoryHandler.CreateCategory)
	categories.GET("", categoryHandler.GetUserCategories)
	categories.GET("/:id", categoryHandler.GetCategoryByID)
	categories.PUT("/:id", categoryHandler.UpdateCategory)
	categories.DELETE("/:id", categoryHandler.DeleteCategory)

	rules := protected.Group("/rules")
	rules.POST("", ruleHandler.CreateRule)
	rules.GET("", ruleHandler.GetUserRules)
	rules.POST("/match", ruleHandler.MatchRule)
	rules.PUT("/:id", ruleHandler.UpdateRule)
	rules.DELETE("/:id", ruleHandler.DeleteRule)

	budgets := protected.Group("/budgets")
	budgets.POST("", budgetHandler.CreateBudget)
	budgets.GET("", budgetHandler.GetBudgets)
	budgets.GET("/:id", budgetHandler.GetBudget)
	budgets.PUT("/:id", budgetHandler.UpdateBudget)
	budgets.DELETE("/:id", budgetHandler.DeleteBudget)
	budgets.GET("/:id/progress", budgetHandler.GetBudgetProgress)
	budgets.GET("/:id/alert-preferences", budgetHandler.GetAlertPreference)
	budgets.PUT("/:id/alert-preferences", budgetHandler.UpdateAlertPreference)

	imports := protected.Group("/imports")
	imports.POST("/csv/preview", importHandler.PreviewImport)
	imports.POST("/csv", importHandler.ImportCSV)

	protected.POST("/alerts/evaluate", notificationHandler.EvaluateAlerts)

	notifications := protected.Group("/notifications")
	notifications.GET("", notificationHandler.GetNotifications)
	notifications.PUT("/read-all", notificationHandler.MarkAllNotificationsRead)
	notifications.PUT("/:id/read", notificationHandler.MarkNotificationRead)

	return router
}
