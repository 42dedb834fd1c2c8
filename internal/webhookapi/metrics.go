package webhookapi

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Number of webhook deliveries received, by outcome.",
	}, []string{"outcome"})

	verificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "webhook",
		Name:      "verifications_total",
		Help:      "Number of subscription handshake attempts, by token match.",
	}, []string{"matched"})

	registrationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravatotwitter",
		Subsystem: "webhook",
		Name:      "registrations_total",
		Help:      "Number of completed athlete registrations.",
	})
)

func init() {
	prometheus.MustRegister(eventCounter, verificationCounter, registrationCounter)
}

func recordEvent(outcome string) {
	eventCounter.WithLabelValues(outcome).Inc()
}

func recordVerification(matched bool) {
	verificationCounter.WithLabelValues(strconv.FormatBool(matched)).Inc()
}

func recordRegistration() {
	registrationCounter.Inc()
}
