package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clubware/clubcore/pkg/wallet"
)

// Service is the booking scheduler: it validates a requested slot, expands
// recurrence, reserves each occurrence, and drives payment through the
// wallet ledger.
type Service struct {
	store       Store
	ledger      Ledger
	nowFn       func() int64
	logger      OperationLogger
	minDuration time.Duration
	maxDuration time.Duration
}

// NewService wires a Service.
func NewService(store Store, ledger Ledger, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:       store,
		ledger:      ledger,
		nowFn:       now,
		minDuration: defaultMinDuration,
		maxDuration: defaultMaxDuration,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.minDuration <= 0 || service.maxDuration < service.minDuration {
		return nil, fmt.Errorf("%w: duration bounds", ErrInvalidServiceConfig)
	}
	return service, nil
}

// CreateBooking reserves and pays for every occurrence of the request.
// Validation failures abort with no side effect; per-occurrence conflicts and
// payment failures degrade only that occurrence's outcome.
func (service *Service) CreateBooking(ctx context.Context, request CreateBookingRequest) (BookingResult, error) {
	court, occurrences, err := service.validateRequest(ctx, request)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationCreate, CourtID: request.CourtID, Error: err})
		return BookingResult{}, err
	}

	ruleText := ""
	recurring := request.Rule != nil
	if recurring {
		ruleText = request.Rule.String()
	}

	result := BookingResult{Outcomes: make([]OccurrenceOutcome, 0, len(occurrences))}
	var parentID BookingID
	for sequence, occurrence := range occurrences {
		outcome, reserveErr := service.processOccurrence(ctx, court, request, occurrence, sequence, recurring, ruleText, &parentID)
		if reserveErr != nil {
			service.logOperation(ctx, OperationLog{
				Operation:   operationCreate,
				CourtID:     request.CourtID,
				Occurrences: len(occurrences),
				Confirmed:   result.ConfirmedCount(),
				Error:       reserveErr,
			})
			return BookingResult{}, reserveErr
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	entry := OperationLog{
		Operation:   operationCreate,
		CourtID:     request.CourtID,
		BookingID:   parentID,
		Occurrences: len(occurrences),
		Confirmed:   result.ConfirmedCount(),
	}
	if entry.Confirmed < entry.Occurrences {
		entry.Status = operationStatusPartial
	}
	service.logOperation(ctx, entry)
	return result, nil
}

func (service *Service) validateRequest(ctx context.Context, request CreateBookingRequest) (Court, []TimeRange, error) {
	duration := request.Range.Duration()
	if duration < service.minDuration || duration > service.maxDuration {
		return Court{}, nil, fmt.Errorf("%w: duration %s outside [%s, %s]", ErrInvalidRequest, duration, service.minDuration, service.maxDuration)
	}
	court, err := service.store.GetCourt(ctx, request.CourtID)
	if err != nil {
		return Court{}, nil, err
	}
	if !court.Active {
		return Court{}, nil, fmt.Errorf("%w: court %s", ErrCourtInactive, request.CourtID.String())
	}
	occurrences := []TimeRange{request.Range}
	if request.Rule != nil {
		occurrences, err = request.Rule.Expand(request.Range)
		if err != nil {
			return Court{}, nil, err
		}
	}
	return court, occurrences, nil
}

// processOccurrence runs the reserve-then-pay sequence for one occurrence.
// Reservation and payment are two separate steps with an explicit
// compensating rollback, never one combined storage transaction.
func (service *Service) processOccurrence(ctx context.Context, court Court, request CreateBookingRequest, occurrence TimeRange, sequence int, recurring bool, ruleText string, parentID *BookingID) (OccurrenceOutcome, error) {
	input := BookingInput{
		CourtID:         request.CourtID,
		MemberID:        request.MemberID,
		Range:           occurrence,
		TotalPriceCents: priceCents(court, occurrence),
		Recurring:       recurring,
		ParentBookingID: *parentID,
		Sequence:        sequence,
		Status:          StatusPendingPayment,
		CreatedUnixUTC:  service.nowFn(),
	}
	if parentID.IsZero() {
		input.RecurrenceRule = ruleText
	}

	reserved, err := service.store.ReserveSlot(ctx, input)
	if errors.Is(err, ErrSlotConflict) {
		return OccurrenceOutcome{Range: occurrence, Kind: OutcomeSlotUnavailable}, nil
	}
	if err != nil {
		return OccurrenceOutcome{}, err
	}
	if parentID.IsZero() {
		*parentID = reserved.BookingID
	}

	transactionID, err := service.chargeReservation(ctx, request.MemberID, reserved)
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		if cancelErr := service.store.UpdateBookingStatus(ctx, reserved.BookingID, StatusPendingPayment, StatusCancelled); cancelErr != nil {
			return OccurrenceOutcome{}, cancelErr
		}
		return OccurrenceOutcome{Range: occurrence, Kind: OutcomePaymentFailed, BookingID: reserved.BookingID}, nil
	}
	if err != nil {
		// Infrastructure failure: remove the placeholder so no partial row
		// survives the aborted request.
		_ = service.store.DeleteBooking(ctx, reserved.BookingID)
		return OccurrenceOutcome{}, err
	}
	return OccurrenceOutcome{
		Range:         occurrence,
		Kind:          OutcomeConfirmed,
		BookingID:     reserved.BookingID,
		TransactionID: transactionID,
	}, nil
}

// chargeReservation debits the quoted price and promotes the placeholder to
// confirmed. A zero-priced slot confirms without touching the ledger.
func (service *Service) chargeReservation(ctx context.Context, memberID wallet.MemberID, reserved Booking) (wallet.TransactionID, error) {
	if reserved.TotalPriceCents.Int64() == 0 {
		return wallet.TransactionID{}, service.store.UpdateBookingStatus(ctx, reserved.BookingID, StatusPendingPayment, StatusConfirmed)
	}
	amount, err := wallet.NewPositiveAmountCents(reserved.TotalPriceCents.Int64())
	if err != nil {
		return wallet.TransactionID{}, err
	}
	description := fmt.Sprintf("court %s %s-%s", reserved.CourtID.String(), reserved.Range.Start().Format(time.RFC3339), reserved.Range.End().Format(time.RFC3339))
	charge, err := service.ledger.Debit(ctx, memberID, amount, wallet.TxBookingCharge, wallet.NewRelatedRef(reserved.BookingID.String()), description)
	if err != nil {
		return wallet.TransactionID{}, err
	}
	confirmErr := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.UpdateBookingStatus(ctx, reserved.BookingID, StatusPendingPayment, StatusConfirmed); err != nil {
			return err
		}
		return transactionStore.AttachTransaction(ctx, reserved.BookingID, charge.TransactionID)
	})
	if confirmErr != nil {
		// Compensate: the charge must not survive a booking that could not
		// be confirmed.
		_, _ = service.ledger.Reverse(ctx, charge.TransactionID)
		return wallet.TransactionID{}, confirmErr
	}
	return charge.TransactionID, nil
}

// CancelBooking marks the booking cancelled and refunds its completed charge
// through the ledger. Cancelling a series anchor never touches its children.
func (service *Service) CancelBooking(ctx context.Context, bookingID BookingID, actor Actor) error {
	var refundTransactionID wallet.TransactionID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		target, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !actor.Admin && actor.MemberID != target.MemberID {
			return ErrForbidden
		}
		if target.Status.IsTerminal() {
			return ErrAlreadyCancelled
		}
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, target.Status, StatusCancelled); err != nil {
			return err
		}
		refundTransactionID = target.TransactionID
		return nil
	})
	if operationError == nil && refundTransactionID.String() != "" {
		// Refund runs after the cancellation commits: the compensating
		// reversal is a second step, mirroring the reserve-then-pay split.
		_, operationError = service.ledger.Reverse(ctx, refundTransactionID)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCancel,
		BookingID: bookingID,
		Error:     operationError,
	})
	return operationError
}

// CompleteBooking moves a confirmed booking whose slot has passed to the
// terminal completed status.
func (service *Service) CompleteBooking(ctx context.Context, bookingID BookingID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		target, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if target.Status != StatusConfirmed {
			return ErrBookingNotCompletable
		}
		if target.Range.End().Unix() > service.nowFn() {
			return fmt.Errorf("%w: slot has not ended", ErrBookingNotCompletable)
		}
		return transactionStore.UpdateBookingStatus(ctx, bookingID, StatusConfirmed, StatusCompleted)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationComplete,
		BookingID: bookingID,
		Error:     operationError,
	})
	return operationError
}

// IsAvailable reports whether no pending or confirmed booking overlaps the
// range on the court.
func (service *Service) IsAvailable(ctx context.Context, courtID CourtID, timeRange TimeRange) (bool, error) {
	overlapping, err := service.store.CountOverlapping(ctx, courtID, timeRange)
	if err != nil {
		return false, err
	}
	return overlapping == 0, nil
}

// ListBookings lists a member's bookings, newest first.
func (service *Service) ListBookings(ctx context.Context, memberID wallet.MemberID, limit int) ([]Booking, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidServiceConfig)
	}
	return service.store.ListBookings(ctx, memberID, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// priceCents snapshots the quoted total from the court's current hourly rate.
func priceCents(court Court, timeRange TimeRange) wallet.AmountCents {
	minutes := int64(timeRange.Duration() / time.Minute)
	return wallet.AmountCents(court.PricePerHourCents.Int64() * minutes / minutesPerHour)
}
