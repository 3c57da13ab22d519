// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_ingested_total",
		Help: "Total number of events accepted at the ingest endpoint",
	})
	EventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Total number of events popped from the queue by workers",
	})
	EventsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_stored_total",
		Help: "Total number of events durably written to the event store",
	})
	EventsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_failed_total",
		Help: "Total number of store-write failures",
	})
	EventsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_retried_total",
		Help: "Total number of in-process store-write retries",
	})
	EventsDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_dead_letter_total",
		Help: "Total number of events moved to the dead letter queue",
	})
	EventProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "event_processing_duration_seconds",
		Help:    "Histogram of per-event store-write durations",
		Buckets: prometheus.DefBuckets,
	})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "Current best-effort length of the broker's lists",
	}, []string{"queue"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the circuit breaker transitioned to Open",
	})
	ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reaper_recovered_total",
		Help: "Total number of events recovered by the reaper from abandoned processing lists",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active",
		Help: "Number of active worker goroutines",
	})
	LiveBusSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_bus_subscribers",
		Help: "Number of currently registered live update subscribers",
	})
	LiveBusDisconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_bus_disconnects_total",
		Help: "Total number of subscribers disconnected for a full send buffer",
	})
)

func init() {
	prometheus.MustRegister(
		EventsIngested, EventsConsumed, EventsStored, EventsFailed, EventsRetried,
		EventsDeadLetter, EventProcessingDuration, QueueLength, CircuitBreakerState,
		CircuitBreakerTrips, ReaperRecovered, WorkerActive, LiveBusSubscribers, LiveBusDisconnects,
	)
}
