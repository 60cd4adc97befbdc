// Package router provides RAG service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/rag/handler"
)

// Register registers the RAG service routes.
func Register(engine *gin.Engine, h *handler.RAGHandler) {
	engine.GET("/", h.Root)
	engine.GET("/health", h.Health)
	engine.POST("/ask", h.Ask)
	engine.GET("/stats", h.Stats)
	engine.GET("/metrics", h.Metrics)

	logger.Infow("HTTP routes registered", "routes", len(engine.Routes()))
}
