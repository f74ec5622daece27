package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order creations",
	}, []string{"reason"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked as paid",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of committed order status transitions",
	}, []string{"from", "to"})

	StockReversalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reversals_total",
		Help: "Total number of orders whose stock was returned to inventory",
	}, []string{"status"})

	StockInsufficientTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_insufficient_total",
		Help: "Total number of stock checks that failed",
	}, []string{"stage"})

	PaymentWebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Total number of payment confirmations received",
	}, []string{"source", "result"})

	PaymentReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_reconcile_latency_seconds",
		Help:    "Latency of marking an order as paid",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of dispatched notifications",
	}, []string{"kind", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
