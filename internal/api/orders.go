package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"jewelry-store/internal/models"
	"jewelry-store/internal/service"

	"github.com/gin-gonic/gin"
)

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type trackingRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
}

type paymentReferenceRequest struct {
	PaymentReferenceID string `json:"payment_reference_id" binding:"required"`
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) recentOrders(c *gin.Context) {
	orders, err := h.orderService.GetRecentOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) ordersByCustomer(c *gin.Context) {
	orders, err := h.orderService.GetOrdersByCustomer(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) ordersByStatus(c *gin.Context) {
	status := models.OrderStatus(strings.ToUpper(c.Param("status")))
	orders, err := h.orderService.GetOrdersByStatus(c.Request.Context(), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// totalSales reports paid revenue between two RFC3339 instants
func (h *Handler) totalSales(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start", "details": err.Error()})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end", "details": err.Error()})
		return
	}

	total, err := h.orderService.CalculateTotalSales(c.Request.Context(), start, end)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"start": start,
		"end":   end,
		"total": total,
	})
}

func (h *Handler) updateOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Status != nil {
		upper := models.OrderStatus(strings.ToUpper(string(*req.Status)))
		req.Status = &upper
	}

	order, err := h.orderService.UpdateOrderDetails(c.Request.Context(), id, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	status := models.OrderStatus(strings.ToUpper(req.Status))
	order, err := h.orderService.UpdateOrderStatus(c.Request.Context(), id, status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateTracking(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req trackingRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orderService.UpdateTrackingNumber(c.Request.Context(), id, req.TrackingNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) attachPaymentReference(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req paymentReferenceRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orderService.AttachPaymentReference(c.Request.Context(), id, req.PaymentReferenceID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// paymentWebhook receives payment confirmations from the provider
func (h *Handler) paymentWebhook(c *gin.Context) {
	if h.webhookSecret != "" {
		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
			return
		}
	}

	var req paymentReferenceRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.paymentService.ConfirmPayment(c.Request.Context(), service.SourceWebhook, req.PaymentReferenceID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
