package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_events_published_total",
		Help: "Total number of events published to the exchange",
	}, []string{"routing_key"})

	MessagesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_messages_handled_total",
		Help: "Messages handled per queue, by outcome (ack, requeue, dead_letter, skipped)",
	}, []string{"queue", "routing_key", "outcome"})

	DeadLetters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_dead_letters_total",
		Help: "Total number of messages parked in the dead-letter sink",
	}, []string{"queue"})

	HandlerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_handler_duration_seconds",
		Help:    "Handler execution latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	Reservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_order_reservations_total",
		Help: "Order reservation attempts by result (reserved, rejected, duplicate)",
	}, []string{"result"})

	Payments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_processed_total",
		Help: "Payment captures by status",
	}, []string{"status"})

	OrderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Applied order status transitions",
	}, []string{"to"})
)

func init() {
	prometheus.MustRegister(
		EventsPublished,
		MessagesHandled,
		DeadLetters,
		HandlerLatency,
		Reservations,
		Payments,
		OrderTransitions,
	)
}

// ObserveSince records the elapsed handler time for queue.
func ObserveSince(queue string, start time.Time) {
	HandlerLatency.WithLabelValues(queue).Observe(time.Since(start).Seconds())
}

// Serve starts a /metrics endpoint on addr (e.g. ":2112") for stages that
// have no HTTP surface of their own. The returned server is shut down by the
// caller.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()

	return srv
}
