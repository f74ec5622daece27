package api

import (
	"errors"
	"net/http"

	"jewelry-store/internal/models"
	"jewelry-store/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps a service error onto an HTTP response
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		notFound  *models.NotFoundError
		stock     *models.InsufficientStockError
		invalid   *models.InvalidOperationError
		duplicate *models.DuplicateResourceError
	)

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not found",
			"details": notFound.Error(),
		})
	case errors.As(err, &stock):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Insufficient stock",
			"details":   stock.Error(),
			"product":   stock.ProductName,
			"available": stock.Available,
			"requested": stock.Requested,
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid operation",
			"details": invalid.Error(),
		})
	case errors.As(err, &duplicate):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Duplicate resource",
			"details": duplicate.Error(),
		})
	case errors.Is(err, service.ErrPaymentInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Payment confirmation in progress",
			"details": err.Error(),
		})
	case errors.Is(err, service.ErrOrderRequestInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Order request in progress",
			"details": err.Error(),
		})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
	}
}
