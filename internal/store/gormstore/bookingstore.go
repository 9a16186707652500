package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/clubware/clubcore/pkg/booking"
	"github.com/clubware/clubcore/pkg/wallet"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookingStore implements booking.Store using GORM.
type BookingStore struct {
	db *gorm.DB
}

// NewBookingStore returns a BookingStore backed by gorm.DB.
func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *BookingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &BookingStore{db: transaction})
	})
}

func (store *BookingStore) GetCourt(ctx context.Context, courtID booking.CourtID) (booking.Court, error) {
	var row Court
	err := store.db.WithContext(ctx).Where("court_id = ?", courtID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Court{}, wrapBookingError(errorSubjectCourt, errorCodeGet, booking.ErrCourtNotFound)
		}
		return booking.Court{}, wrapBookingError(errorSubjectCourt, errorCodeGet, err)
	}
	court, err := mapCourt(row)
	if err != nil {
		return booking.Court{}, wrapBookingError(errorSubjectCourt, errorCodeInvalid, err)
	}
	return court, nil
}

// ReserveSlot checks for overlapping rows and, when none are blocking,
// inserts the placeholder in the same transaction. A free slot has no row
// for the overlap query to lock, so on Postgres the check-then-insert is
// serialized per court with a transaction-scoped advisory lock; SQLite's
// single writer already serializes concurrent transactions.
func (store *BookingStore) ReserveSlot(ctx context.Context, input booking.BookingInput) (booking.Booking, error) {
	var reserved booking.Booking
	err := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockCourtForReservation(tx, input.CourtID); err != nil {
			return err
		}

		var blocking Booking
		err := tx.Model(&Booking{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("court_id = ? AND status IN ?", input.CourtID.String(), activeStatuses()).
			Where("start_time < ? AND end_time > ?", input.Range.End(), input.Range.Start()).
			Take(&blocking).Error
		if err == nil {
			return booking.ErrSlotConflict
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := toBookingRow(input)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		reserved, err = mapBooking(row)
		return err
	})
	if errors.Is(err, booking.ErrSlotConflict) {
		return booking.Booking{}, wrapBookingError(errorSubjectBooking, errorCodeReserve, booking.ErrSlotConflict)
	}
	if err != nil {
		return booking.Booking{}, wrapBookingError(errorSubjectBooking, errorCodeReserve, err)
	}
	return reserved, nil
}

func (store *BookingStore) CountOverlapping(ctx context.Context, courtID booking.CourtID, timeRange booking.TimeRange) (int64, error) {
	var total int64
	err := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("court_id = ? AND status IN ?", courtID.String(), activeStatuses()).
		Where("start_time < ? AND end_time > ?", timeRange.End(), timeRange.Start()).
		Count(&total).Error
	if err != nil {
		return 0, wrapBookingError(errorSubjectBooking, errorCodeCountOverlap, err)
	}
	return total, nil
}

func (store *BookingStore) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	return store.getBooking(ctx, bookingID, false)
}

func (store *BookingStore) GetBookingForUpdate(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	return store.getBooking(ctx, bookingID, true)
}

func (store *BookingStore) getBooking(ctx context.Context, bookingID booking.BookingID, lock bool) (booking.Booking, error) {
	query := store.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row Booking
	err := query.Where("booking_id = ?", bookingID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapBookingError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
		}
		return booking.Booking{}, wrapBookingError(errorSubjectBooking, errorCodeGet, err)
	}
	mapped, err := mapBooking(row)
	if err != nil {
		return booking.Booking{}, wrapBookingError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *BookingStore) UpdateBookingStatus(ctx context.Context, bookingID booking.BookingID, from, to booking.BookingStatus) error {
	if !from.CanTransition(to) {
		return wrapBookingError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrInvalidBookingStatus)
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND status = ?", bookingID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapBookingError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapBookingError(errorSubjectBooking, errorCodeTransitionRaced, booking.ErrInvalidBookingStatus)
	}
	return nil
}

func (store *BookingStore) AttachTransaction(ctx context.Context, bookingID booking.BookingID, transactionID wallet.TransactionID) error {
	value := transactionID.String()
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", bookingID.String()).
		Update("transaction_id", &value)
	if result.Error != nil {
		return wrapBookingError(errorSubjectBooking, errorCodeAttach, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapBookingError(errorSubjectBooking, errorCodeAttach, booking.ErrBookingNotFound)
	}
	return nil
}

func (store *BookingStore) DeleteBooking(ctx context.Context, bookingID booking.BookingID) error {
	result := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Delete(&Booking{})
	if result.Error != nil {
		return wrapBookingError(errorSubjectBooking, errorCodeDelete, result.Error)
	}
	return nil
}

func (store *BookingStore) ListBookings(ctx context.Context, memberID wallet.MemberID, limit int) ([]booking.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("member_id = ?", memberID.String()).
		Order("start_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapBookingError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapBooking(row)
		if err != nil {
			return nil, wrapBookingError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, mapped)
	}
	return bookings, nil
}

// CreateCourt inserts a court row; not part of booking.Store, used by the
// bootstrap surface and tests.
func (store *BookingStore) CreateCourt(ctx context.Context, court *Court) error {
	err := store.db.WithContext(ctx).Create(court).Error
	if isUniqueViolation(err) {
		return wrapBookingError(errorSubjectCourt, errorCodeDuplicate, ErrDuplicateRecord)
	}
	if err != nil {
		return wrapBookingError(errorSubjectCourt, errorCodeCreate, err)
	}
	return nil
}

func wrapBookingError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

// lockCourtForReservation holds a Postgres advisory lock on the court until
// the surrounding transaction ends. Other dialects serialize writers at the
// database level and need no extra lock.
func lockCourtForReservation(tx *gorm.DB, courtID booking.CourtID) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", courtID.String()).Error
}

func activeStatuses() []string {
	return []string{booking.StatusPendingPayment.String(), booking.StatusConfirmed.String()}
}

func toBookingRow(input booking.BookingInput) Booking {
	row := Booking{
		CourtID:         input.CourtID.String(),
		MemberID:        input.MemberID.String(),
		StartTime:       input.Range.Start(),
		EndTime:         input.Range.End(),
		TotalPriceCents: input.TotalPriceCents.Int64(),
		Recurring:       input.Recurring,
		RecurrenceRule:  input.RecurrenceRule,
		Sequence:        input.Sequence,
		Status:          input.Status.String(),
		CreatedAt:       time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if input.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	if !input.ParentBookingID.IsZero() {
		value := input.ParentBookingID.String()
		row.ParentBookingID = &value
	}
	return row
}

func mapCourt(row Court) (booking.Court, error) {
	courtID, err := booking.NewCourtID(row.CourtID)
	if err != nil {
		return booking.Court{}, err
	}
	price, err := wallet.NewAmountCents(row.PricePerHourCents)
	if err != nil {
		return booking.Court{}, err
	}
	return booking.Court{
		CourtID:           courtID,
		Name:              row.Name,
		PricePerHourCents: price,
		Active:            row.Active,
	}, nil
}

func mapBooking(row Booking) (booking.Booking, error) {
	bookingID, err := booking.NewBookingID(row.BookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	courtID, err := booking.NewCourtID(row.CourtID)
	if err != nil {
		return booking.Booking{}, err
	}
	memberID, err := wallet.NewMemberID(row.MemberID)
	if err != nil {
		return booking.Booking{}, err
	}
	timeRange, err := booking.NewTimeRange(row.StartTime, row.EndTime)
	if err != nil {
		return booking.Booking{}, err
	}
	price, err := wallet.NewAmountCents(row.TotalPriceCents)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(row.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	mapped := booking.Booking{
		BookingID:       bookingID,
		CourtID:         courtID,
		MemberID:        memberID,
		Range:           timeRange,
		TotalPriceCents: price,
		Recurring:       row.Recurring,
		RecurrenceRule:  row.RecurrenceRule,
		Sequence:        row.Sequence,
		Status:          status,
		CreatedUnixUTC:  row.CreatedAt.Unix(),
	}
	if row.TransactionID != nil {
		transactionID, err := wallet.NewTransactionID(*row.TransactionID)
		if err != nil {
			return booking.Booking{}, err
		}
		mapped.TransactionID = transactionID
	}
	if row.ParentBookingID != nil {
		parentID, err := booking.NewBookingID(*row.ParentBookingID)
		if err != nil {
			return booking.Booking{}, err
		}
		mapped.ParentBookingID = parentID
	}
	return mapped, nil
}
