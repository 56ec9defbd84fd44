package router

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/Vivekb0311/sla/handlers"
	"github.com/Vivekb0311/sla/services"
)

func NewGinRouter(pg *sql.DB, redisClient *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize services
	directoryService := services.NewDirectoryService(pg)
	escalationService := services.NewEscalationService(pg, directoryService)
	templateService := services.NewSlaTemplateService(pg, redisClient)
	historyService := services.NewSlaHistoryService(pg, redisClient, templateService, escalationService)
	reportService := services.NewReportService(pg)
	apiKeyService := services.NewAPIKeyService(pg)

	// Initialize handlers
	templateHandler := handlers.NewTemplateHandler(templateService)
	historyHandler := handlers.NewHistoryHandler(historyService, escalationService)
	reportHandler := handlers.NewReportHandler(reportService, escalationService)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService)

	// Initialize middleware
	authMiddleware := handlers.NewAuthMiddleware(apiKeyService)

	// PUBLIC ENDPOINTS (no authentication required)
	r.GET("/health", func(c *gin.Context) {
		if err := pg.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// PROTECTED ENDPOINTS (JWT or API key)
	protected := r.Group("/api")
	protected.Use(authMiddleware.RequireAuth())
	{
		// TEMPLATE MANAGEMENT
		templateRoutes := protected.Group("/templates")
		{
			templateRoutes.GET("", templateHandler.ListTemplates)
			templateRoutes.POST("", templateHandler.CreateTemplate)
			templateRoutes.GET("/:id", templateHandler.GetTemplate)
			templateRoutes.PUT("/:id", templateHandler.UpdateTemplate)
			templateRoutes.POST("/:id/activate", templateHandler.ActivateTemplate)
			templateRoutes.POST("/:id/deactivate", templateHandler.DeactivateTemplate)
		}

		// EVENT INGESTION
		protected.POST("/events", historyHandler.TriggerEvent)

		// HISTORY / INSTANCE INSPECTION
		historyRoutes := protected.Group("/histories")
		{
			historyRoutes.GET("", historyHandler.ListHistories)
			historyRoutes.GET("/:id", historyHandler.GetHistory)
			historyRoutes.GET("/:id/escalations", historyHandler.GetHistoryEscalations)
		}

		// REPORTING
		reportRoutes := protected.Group("/reports")
		{
			reportRoutes.GET("/dashboard", reportHandler.GetDashboard)
			reportRoutes.GET("/activity", reportHandler.GetThirtyDayActivity)
			reportRoutes.GET("/breach-proximity", reportHandler.GetBreachProximity)
			reportRoutes.GET("/top-breached", reportHandler.GetTopBreached)
			reportRoutes.GET("/top-triggered", reportHandler.GetTopTriggered)
			reportRoutes.GET("/top-escalated", reportHandler.GetTopEscalated)
			reportRoutes.GET("/level-breaches", reportHandler.GetLevelWiseBreaches)
		}

		// API KEY MANAGEMENT
		apiKeyRoutes := protected.Group("/api-keys")
		{
			apiKeyRoutes.POST("", apiKeyHandler.CreateAPIKey)
			apiKeyRoutes.DELETE("/:id", apiKeyHandler.RevokeAPIKey)
		}
	}

	return r
}
