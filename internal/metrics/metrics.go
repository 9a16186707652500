package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clubcore"

// Metrics holds the counters exported by the booking and wallet engines.
type Metrics struct {
	BookingsConfirmed     prometheus.Counter
	BookingsConflicted    prometheus.Counter
	BookingsPaymentFailed prometheus.Counter
	BookingsCancelled     prometheus.Counter
	WalletDebits          prometheus.Counter
	WalletCredits         prometheus.Counter
	WalletReversals       prometheus.Counter
}

// New registers the counter set on the given registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		BookingsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "confirmed_total",
			Help:      "Occurrences that reserved a slot and settled payment.",
		}),
		BookingsConflicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "conflicted_total",
			Help:      "Occurrences skipped because the slot was taken.",
		}),
		BookingsPaymentFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "payment_failed_total",
			Help:      "Occurrences cancelled for insufficient funds.",
		}),
		BookingsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "cancelled_total",
			Help:      "Bookings cancelled by a member or admin.",
		}),
		WalletDebits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "debits_total",
			Help:      "Completed wallet debits.",
		}),
		WalletCredits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "credits_total",
			Help:      "Completed wallet credits.",
		}),
		WalletReversals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "reversals_total",
			Help:      "Completed wallet reversals.",
		}),
	}
}
