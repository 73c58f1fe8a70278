// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsCreated tracks maintenance requests created per category.
	RequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_requests_created_total",
			Help: "Total maintenance requests created",
		},
		[]string{"category"},
	)

	// Transitions tracks applied status transitions.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_transitions_total",
			Help: "Total request status transitions applied",
		},
		[]string{"status"},
	)

	// Notifications tracks notification deliveries by event and outcome.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_notifications_total",
			Help: "Notification delivery attempts",
		},
		[]string{"event", "result"},
	)

	// DeliveryDuration tracks how long single deliveries take.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repair_notification_delivery_seconds",
			Help:    "Duration of a single notification delivery",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"event"},
	)

	// Updates tracks inbound chat updates by kind.
	Updates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_updates_total",
			Help: "Inbound chat updates",
		},
		[]string{"kind"},
	)
)

// RecordDelivery records the outcome of one notification delivery.
func RecordDelivery(event string, ok bool, seconds float64) {
	result := "delivered"
	if !ok {
		result = "failed"
	}
	Notifications.WithLabelValues(event, result).Inc()
	DeliveryDuration.WithLabelValues(event).Observe(seconds)
}
