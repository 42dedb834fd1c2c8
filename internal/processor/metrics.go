package processor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "pipeline",
		Name:      "events_processed_total",
		Help:      "Number of webhook events fully aggregated, by activity type and whether milestones fired.",
	}, []string{"activity_type", "milestones"})

	duplicateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "pipeline",
		Name:      "duplicate_events_total",
		Help:      "Number of deliveries dropped by the dedup claim.",
	})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "pipeline",
		Name:      "events_skipped_total",
		Help:      "Number of events dropped before aggregation, by reason.",
	}, []string{"reason"})

	fetchFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "pipeline",
		Name:      "fetch_failures_total",
		Help:      "Number of events abandoned because the activity fetch failed.",
	})

	dispatchFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "pipeline",
		Name:      "dispatch_failures_total",
		Help:      "Number of outbound dispatch failures, by target.",
	}, []string{"target"})

	consumedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors per topic.",
	}, []string{"topic"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stravatotwitter",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(
		processedCounter,
		duplicateCounter,
		skippedCounter,
		fetchFailureCounter,
		dispatchFailureCounter,
		consumedCounter,
		handlerErrorCounter,
		decodeErrorCounter,
		lastMessageGauge,
	)
}

func recordProcessed(activityType string, tagCount int) {
	processedCounter.WithLabelValues(activityType, strconv.FormatBool(tagCount > 0)).Inc()
}

func recordDuplicate() {
	duplicateCounter.Inc()
}

func recordSkipped(reason string) {
	skippedCounter.WithLabelValues(reason).Inc()
}

func recordFetchFailure() {
	fetchFailureCounter.Inc()
}

func recordDispatchFailure(target string) {
	dispatchFailureCounter.WithLabelValues(target).Inc()
}

func recordConsumed(msg kafka.Message) {
	consumedCounter.WithLabelValues(msg.Topic).Inc()
	if !msg.Time.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Time.Unix()))
	}
}

func recordHandlerError(topic string) {
	handlerErrorCounter.WithLabelValues(topic).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
