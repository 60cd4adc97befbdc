// Package handler provides HTTP handlers for RAG service.
package handler

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/rag/biz"
	"github.com/kart-io/finrag/internal/rag/metrics"
	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/response"
)

// Service is the part of biz.RAGService the handlers use.
type Service interface {
	Ask(ctx context.Context, question string) (*model.AnswerResult, error)
	Stats(ctx context.Context) (*biz.ServiceStats, error)
	Metrics() *metrics.RAGMetrics
}

// Config configures RAGHandler.
type Config struct {
	// AskTimeout bounds a whole /ask request.
	AskTimeout time.Duration
	// MaxSources is used when the request leaves max_sources out.
	MaxSources int
	// Version is reported by the root endpoint.
	Version string
}

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	svc Service
	cfg Config
}

// NewRAGHandler creates a new RAGHandler.
func NewRAGHandler(svc Service, cfg Config) *RAGHandler {
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = 60 * time.Second
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = biz.DefaultTopK
	}
	return &RAGHandler{svc: svc, cfg: cfg}
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Question   string `json:"question" binding:"required"`
	MaxSources *int   `json:"max_sources" binding:"omitempty,min=0"`
}

// Ask answers a question from the indexed documents.
func (h *RAGHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, errors.ErrRAGInvalidRequest.WithMessage(err.Error()))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		response.Fail(c, errors.ErrRAGInvalidRequest.WithMessage("question must not be empty"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.AskTimeout)
	defer cancel()

	result, err := h.svc.Ask(ctx, req.Question)
	if err != nil {
		errno := errors.FromError(err)
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			errno = errors.ErrRAGQueryTimeout.WithCause(err)
		}
		logger.Errorw("ask failed",
			"request_id", c.GetString(response.ContextKeyRequestID),
			"code", errno.Code,
			"error", err.Error(),
		)
		// Every pipeline failure is reported as 500; the code tells them apart.
		response.FailWithStatus(c, http.StatusInternalServerError, errno)
		return
	}

	maxSources := h.cfg.MaxSources
	if req.MaxSources != nil {
		maxSources = *req.MaxSources
	}
	c.JSON(http.StatusOK, result.Limit(maxSources))
}

// Stats returns lifecycle state, index size and service counters.
func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.Fail(c, errors.FromError(err))
		return
	}
	response.OK(c, stats)
}

// Metrics exports the service counters in Prometheus text format.
func (h *RAGHandler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(h.svc.Metrics().Export("finrag", "rag")))
}

// Health reports liveness.
func (h *RAGHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Root reports that the API is up along with the build version.
func (h *RAGHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "API running", "version": h.cfg.Version})
}
