// Package metrics holds the daemon's prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	deliveryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatterbox_delivery_writes_total",
			Help: "Delivery-state compare-and-set writes by stage and result.",
		},
		[]string{"stage", "result"},
	)
	deliveryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatterbox_delivery_transitions_total",
			Help: "Messages whose delivery state actually advanced.",
		},
		[]string{"stage"},
	)
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatterbox_thread_fetches_total",
			Help: "Full thread refetches by result (ok, error, stale).",
		},
		[]string{"result"},
	)
	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatterbox_thread_fetch_duration_seconds",
			Help:    "Thread refetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatterbox_sends_total",
			Help: "Message sends by result.",
		},
		[]string{"result"},
	)
	changeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatterbox_change_events_total",
			Help: "Change-feed events delivered to open threads.",
		},
		[]string{"table", "type"},
	)
	viewClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatterbox_view_clients",
			Help: "Attached view connections.",
		},
	)
	busDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatterbox_bus_dropped_total",
			Help: "Events dropped because a bus subscriber was full.",
		},
	)
	grpcHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatterbox_grpc_handled_total",
			Help: "Control API calls by method and code.",
		},
		[]string{"method", "code"},
	)
)

func init() {
	prometheus.MustRegister(
		deliveryWritesTotal,
		deliveryTransitionsTotal,
		fetchesTotal,
		fetchDuration,
		sendsTotal,
		changeEventsTotal,
		viewClients,
		busDroppedTotal,
		grpcHandledTotal,
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DeliveryWrite records one compare-and-set write and how many messages it
// advanced.
func DeliveryWrite(stage string, changed int, err error) {
	deliveryWritesTotal.WithLabelValues(stage, result(err)).Inc()
	if changed > 0 {
		deliveryTransitionsTotal.WithLabelValues(stage).Add(float64(changed))
	}
}

// Fetch records a thread refetch. stale marks a result discarded because a
// newer fetch had already been applied.
func Fetch(start time.Time, stale bool, err error) {
	fetchDuration.Observe(time.Since(start).Seconds())
	r := result(err)
	if stale && err == nil {
		r = "stale"
	}
	fetchesTotal.WithLabelValues(r).Inc()
}

// Send records a message send.
func Send(err error) {
	sendsTotal.WithLabelValues(result(err)).Inc()
}

// ChangeEvent records a change-feed event reaching an open thread.
func ChangeEvent(table, typ string) {
	changeEventsTotal.WithLabelValues(table, typ).Inc()
}

// ViewAttached adjusts the attached view gauge by delta.
func ViewAttached(delta int) {
	viewClients.Add(float64(delta))
}

// BusDropped counts one dropped bus delivery.
func BusDropped() {
	busDroppedTotal.Inc()
}

// UnaryServerInterceptor counts control API calls.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		grpcHandledTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}
