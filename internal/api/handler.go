package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"jewelry-store/internal/service"
	"jewelry-store/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	productService *service.ProductService
	orderService   *service.OrderService
	paymentService *service.PaymentService
	webhookSecret  string
	readiness      map[string]Pinger
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	productService *service.ProductService,
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	webhookSecret string,
) *Handler {
	return &Handler{
		productService: productService,
		orderService:   orderService,
		paymentService: paymentService,
		webhookSecret:  webhookSecret,
		readiness:      map[string]Pinger{},
		logger:         util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.readiness[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.GET("", h.listProducts)
		products.POST("", h.createProduct)
		products.GET("/sku/:sku", h.getProductBySKU)
		products.GET("/:id", h.getProduct)
		products.PUT("/:id", h.updateProduct)
		products.PATCH("/:id", h.patchProduct)
		products.DELETE("/:id", h.deleteProduct)
		products.PATCH("/:id/stock", h.updateStock)
		products.PATCH("/:id/price", h.updatePrice)
		products.POST("/:id/stock/reduce", h.reduceStock)
		products.POST("/:id/stock/increase", h.increaseStock)

		orders := v1.Group("/orders")
		orders.POST("", h.createOrder)
		orders.GET("/recent", h.recentOrders)
		orders.GET("/sales", h.totalSales)
		orders.GET("/customer/:email", h.ordersByCustomer)
		orders.GET("/status/:status", h.ordersByStatus)
		orders.GET("/:id", h.getOrder)
		orders.PATCH("/:id", h.updateOrder)
		orders.PATCH("/:id/status", h.updateOrderStatus)
		orders.PATCH("/:id/tracking", h.updateTracking)
		orders.PATCH("/:id/cancel", h.cancelOrder)
		orders.POST("/:id/payment-reference", h.attachPaymentReference)

		v1.POST("/payments/webhook", h.paymentWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// parseID reads a numeric path parameter, answering 400 when it is not one
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// bindJSON decodes the body, answering 400 on failure
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
