package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Member represents the members table. BalanceCents is the denormalized
// ledger cache, written only together with a transaction append.
type Member struct {
	MemberID        string    `gorm:"type:uuid;primaryKey"`
	DisplayName     string    `gorm:"not null"`
	BalanceCents    int64     `gorm:"not null"`
	TotalSpentCents int64     `gorm:"not null"`
	Tier            int       `gorm:"not null"`
	Active          bool      `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (Member) TableName() string { return "members" }

func (member *Member) BeforeCreate(tx *gorm.DB) error {
	if member.MemberID == "" {
		member.MemberID = uuid.NewString()
	}
	return nil
}

// Court represents the courts table.
type Court struct {
	CourtID           string    `gorm:"type:uuid;primaryKey"`
	Name              string    `gorm:"not null;index:uniq_courts_name,unique"`
	PricePerHourCents int64     `gorm:"not null"`
	Active            bool      `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (Court) TableName() string { return "courts" }

func (court *Court) BeforeCreate(tx *gorm.DB) error {
	if court.CourtID == "" {
		court.CourtID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the wallet_transactions table.
type WalletTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	MemberID      string         `gorm:"type:uuid;not null;index:idx_wallet_tx_member_created,priority:1"`
	AmountCents   int64          `gorm:"not null"`
	Type          string         `gorm:"not null"`
	Status        string         `gorm:"not null;index"`
	RelatedRef    *string        `gorm:"index"`
	Description   string         `gorm:""`
	ProofURL      *string        `gorm:""`
	Metadata      datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_wallet_tx_member_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Booking mirrors the bookings table. ParentBookingID is a restrict self
// reference forming a recurring series.
type Booking struct {
	BookingID       string    `gorm:"type:uuid;primaryKey"`
	CourtID         string    `gorm:"type:uuid;not null;index:idx_bookings_court_window,priority:1"`
	MemberID        string    `gorm:"type:uuid;not null;index"`
	StartTime       time.Time `gorm:"not null;index:idx_bookings_court_window,priority:2"`
	EndTime         time.Time `gorm:"not null;index:idx_bookings_court_window,priority:3"`
	TotalPriceCents int64     `gorm:"not null"`
	TransactionID   *string   `gorm:"type:uuid;index"`
	Recurring       bool      `gorm:"not null"`
	RecurrenceRule  string    `gorm:""`
	ParentBookingID *string   `gorm:"type:uuid;index"`
	Sequence        int       `gorm:"not null"`
	Status          string    `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Member{}, &Court{}, &WalletTransaction{}, &Booking{}}
}
