package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirogateway/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// ModelsHandler implements GET /v1/models.
type ModelsHandler struct {
	catalog service.ModelCatalog
	logger  *zap.Logger
}

// NewModelsHandler constructs a ModelsHandler.
func NewModelsHandler(catalog service.ModelCatalog, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{catalog: catalog, logger: logger.With(zap.String("component", "models-handler"))}
}

// ListModels handles GET /v1/models.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	descriptors := h.catalog.List(c.Request.Context())
	c.JSON(http.StatusOK, toModelsResponse(descriptors, time.Now().Unix()))
}
