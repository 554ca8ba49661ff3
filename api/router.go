package api

import (
	"net/http"

	"pdfconvapi/config"
	"pdfconvapi/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const Version = "1.0.0"

func SetupRouter(tm *task.Manager, formats CapabilityLister, inspector Inspector, keys KeyStore, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	logger = logger.Named("http")

	r := gin.New()
	r.Use(TraceMiddleware(), LoggerMiddleware(logger), RecoveryMiddleware(logger))
	h := NewHandler(tm, formats, inspector, cfg, logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(keys, cfg.IsProduction()))
	{
		conv := v1.Group("/conversion")
		conv.GET("", h.handleListFormats)
		conv.POST("", h.handleCreateConversion)
		conv.POST("/validate", h.handleValidate)
		conv.GET("/:task_id", h.handleGetStatus)
		conv.GET("/:task_id/download", h.handleDownload)
		conv.DELETE("/:task_id", h.handleCancel)
	}
	return r
}
