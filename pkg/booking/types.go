package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clubware/clubcore/pkg/wallet"
)

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// CourtID identifies a court.
type CourtID struct {
	value string
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id BookingID) IsZero() bool {
	return id.value == ""
}

// NewCourtID validates and normalizes a court id.
func NewCourtID(raw string) (CourtID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CourtID{}, fmt.Errorf("%w: empty value", ErrInvalidCourtID)
	}
	return CourtID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CourtID) String() string {
	return id.value
}

// TimeRange is a half-open interval [Start, End) in UTC.
type TimeRange struct {
	start time.Time
	end   time.Time
}

// NewTimeRange validates a range, normalizing both endpoints to UTC.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() {
		return TimeRange{}, fmt.Errorf("%w: zero endpoint", ErrInvalidTimeRange)
	}
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return TimeRange{}, fmt.Errorf("%w: end must be after start", ErrInvalidTimeRange)
	}
	return TimeRange{start: start, end: end}, nil
}

// Start returns the inclusive lower bound.
func (timeRange TimeRange) Start() time.Time {
	return timeRange.start
}

// End returns the exclusive upper bound.
func (timeRange TimeRange) End() time.Time {
	return timeRange.end
}

// Duration returns End minus Start.
func (timeRange TimeRange) Duration() time.Duration {
	return timeRange.end.Sub(timeRange.start)
}

// Overlaps reports half-open interval intersection; touching boundaries do
// not conflict.
func (timeRange TimeRange) Overlaps(other TimeRange) bool {
	return timeRange.start.Before(other.end) && timeRange.end.After(other.start)
}

// Shift returns the range moved forward by the given offset.
func (timeRange TimeRange) Shift(offset time.Duration) TimeRange {
	return TimeRange{start: timeRange.start.Add(offset), end: timeRange.end.Add(offset)}
}

// BookingStatus defines the booking lifecycle.
type BookingStatus string

const (
	StatusPendingPayment BookingStatus = "pending_payment"
	StatusConfirmed      BookingStatus = "confirmed"
	StatusCancelled      BookingStatus = "cancelled"
	StatusCompleted      BookingStatus = "completed"
)

// CanTransition reports whether moving to the target status is legal.
// Cancelled and completed are terminal.
func (status BookingStatus) CanTransition(to BookingStatus) bool {
	switch status {
	case StatusPendingPayment:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is legal.
func (status BookingStatus) IsTerminal() bool {
	return status == StatusCancelled || status == StatusCompleted
}

// String returns the lifecycle label.
func (status BookingStatus) String() string {
	return string(status)
}

// ParseBookingStatus validates a stored status label.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(raw) {
	case StatusPendingPayment, StatusConfirmed, StatusCancelled, StatusCompleted:
		return BookingStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
}

// Court is the catalog view consumed by the scheduler. Price changes never
// touch historical bookings, which carry their own quoted total.
type Court struct {
	CourtID           CourtID
	Name              string
	PricePerHourCents wallet.AmountCents
	Active            bool
}

// Booking is one reserved occurrence on a court. A recurring series is a
// shallow tree: children reference the anchor via ParentBookingID plus a
// sequence number.
type Booking struct {
	BookingID       BookingID
	CourtID         CourtID
	MemberID        wallet.MemberID
	Range           TimeRange
	TotalPriceCents wallet.AmountCents
	TransactionID   wallet.TransactionID
	Recurring       bool
	RecurrenceRule  string
	ParentBookingID BookingID
	Sequence        int
	Status          BookingStatus
	CreatedUnixUTC  int64
}

// BookingInput carries the fields of a placeholder row to reserve; the store
// assigns the BookingID.
type BookingInput struct {
	CourtID         CourtID
	MemberID        wallet.MemberID
	Range           TimeRange
	TotalPriceCents wallet.AmountCents
	Recurring       bool
	RecurrenceRule  string
	ParentBookingID BookingID
	Sequence        int
	Status          BookingStatus
	CreatedUnixUTC  int64
}

// OutcomeKind classifies the fate of one requested occurrence.
type OutcomeKind string

const (
	OutcomeConfirmed       OutcomeKind = "confirmed"
	OutcomeSlotUnavailable OutcomeKind = "slot_unavailable"
	OutcomePaymentFailed   OutcomeKind = "payment_failed"
)

// OccurrenceOutcome itemizes what happened to one occurrence of a request.
type OccurrenceOutcome struct {
	Range         TimeRange
	Kind          OutcomeKind
	BookingID     BookingID
	TransactionID wallet.TransactionID
}

// BookingResult enumerates per-occurrence outcomes of CreateBooking. Partial
// failure never collapses into a single opaque error.
type BookingResult struct {
	Outcomes []OccurrenceOutcome
}

// ConfirmedCount returns how many occurrences ended confirmed.
func (result BookingResult) ConfirmedCount() int {
	count := 0
	for _, outcome := range result.Outcomes {
		if outcome.Kind == OutcomeConfirmed {
			count++
		}
	}
	return count
}

// CreateBookingRequest describes one user-facing booking call.
type CreateBookingRequest struct {
	CourtID  CourtID
	MemberID wallet.MemberID
	Range    TimeRange
	// Rule is nil for a single, non-recurring booking.
	Rule *Rule
}

// Actor identifies who is asking for a mutation.
type Actor struct {
	MemberID wallet.MemberID
	Admin    bool
}

// Ledger is the narrow wallet contract the scheduler drives payments through.
type Ledger interface {
	Debit(ctx context.Context, memberID wallet.MemberID, amount wallet.PositiveAmountCents, transactionType wallet.TransactionType, relatedRef wallet.RelatedRef, description string) (wallet.Transaction, error)
	Reverse(ctx context.Context, transactionID wallet.TransactionID) (wallet.Transaction, error)
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetCourt(ctx context.Context, courtID CourtID) (Court, error)
	// ReserveSlot atomically re-checks availability and inserts the
	// placeholder row; the overlap check and the insert happen in a single
	// storage transaction so two racing reservations cannot both succeed.
	// Returns ErrSlotConflict when the range is taken.
	ReserveSlot(ctx context.Context, input BookingInput) (Booking, error)
	CountOverlapping(ctx context.Context, courtID CourtID, timeRange TimeRange) (int64, error)
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID BookingID) (Booking, error)
	// UpdateBookingStatus performs a guarded transition; it fails when the
	// row is no longer in the expected source status.
	UpdateBookingStatus(ctx context.Context, bookingID BookingID, from, to BookingStatus) error
	AttachTransaction(ctx context.Context, bookingID BookingID, transactionID wallet.TransactionID) error
	// DeleteBooking removes a placeholder row that never reached a terminal
	// decision; used only to compensate infrastructure failures mid-request.
	DeleteBooking(ctx context.Context, bookingID BookingID) error
	ListBookings(ctx context.Context, memberID wallet.MemberID, limit int) ([]Booking, error)
}
