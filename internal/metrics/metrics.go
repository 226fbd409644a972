package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by rate type.",
		},
		[]string{"rate_type"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled.",
		},
	)

	overstayDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "overstay_detected_total",
			Help:      "Count of overstay conflicts detected by the monitor.",
		},
	)

	conflictResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "conflict_resolved_total",
			Help:      "Count of slot conflicts resolved by outcome.",
		},
		[]string{"outcome"},
	)

	barrierCommand = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "barrier_command_total",
			Help:      "Count of barrier commands by command and decision.",
		},
		[]string{"command", "decision"},
	)

	notificationEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "notification_emitted_total",
			Help:      "Count of notifications written by type.",
		},
		[]string{"type"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	otpVerification = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "otp_verification_total",
			Help:      "Count of OTP verification attempts by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingCancelled,
			overstayDetected,
			conflictResolved,
			barrierCommand,
			notificationEmitted,
			httpRequests,
			otpVerification,
		)
	})
}

func IncBookingCreated(rateType string) {
	bookingCreated.WithLabelValues(rateType).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncOverstayDetected() {
	overstayDetected.Inc()
}

func IncConflictResolved(outcome string) {
	conflictResolved.WithLabelValues(outcome).Inc()
}

func IncBarrierCommand(command, decision string) {
	barrierCommand.WithLabelValues(command, decision).Inc()
}

func IncNotificationEmitted(notificationType string) {
	notificationEmitted.WithLabelValues(notificationType).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncOTPVerification(result string) {
	otpVerification.WithLabelValues(result).Inc()
}
