package router

import (
	"github.com/cuongbtq/transcode-pipeline/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	authHandler := handler.NewAuthHandler(deps)
	mediaHandler := handler.NewMediaHandler(deps)
	deadLetterHandler := handler.NewDeadLetterHandler(deps)

	r.GET("/health", healthHandler.Health)
	r.POST("/login", authHandler.Login)

	// Upload authorizes inside the admission service
	r.POST("/upload", mediaHandler.Upload)

	authed := r.Group("")
	authed.Use(BearerMiddleware(deps.Gate, deps.Logger))
	{
		authed.GET("/me", authHandler.Me)
		authed.GET("/download", mediaHandler.Download)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(BearerMiddleware(deps.Gate, deps.Logger), AdminMiddleware())
	{
		// GET /api/v1/dead-letters - List poison messages with pagination
		v1.GET("/dead-letters", deadLetterHandler.ListDeadLetters)
	}

	return r
}
