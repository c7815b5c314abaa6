package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. The stored balance is kept equal
// to the ledger replay by construction: both mutate in one transaction.
type Account struct {
	UserID         string    `gorm:"primaryKey"`
	BalanceMinutes int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Booking mirrors the bookings table. Rows are never deleted; terminal
// bookings remain as exchange history.
type Booking struct {
	BookingID          string    `gorm:"type:uuid;primaryKey"`
	ListingID          string    `gorm:"not null;index:idx_bookings_listing"`
	RequesterID        string    `gorm:"not null;index:idx_bookings_requester"`
	ProviderID         string    `gorm:"not null;index:idx_bookings_provider"`
	DurationMinutes    int64     `gorm:"not null"`
	Status             string    `gorm:"not null;index:idx_bookings_status"`
	RequesterConfirmed bool      `gorm:"not null"`
	ProviderConfirmed  bool      `gorm:"not null"`
	ScheduledDate      string    `gorm:""`
	ScheduledTime      string    `gorm:""`
	Message            string    `gorm:""`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the append-only ledger_entries table. The composite
// unique index on (booking_id, kind) enforces at most one service and at
// most one refund entry per booking; grant rows carry a NULL booking_id and
// never collide.
type LedgerEntry struct {
	EntryID       string         `gorm:"type:uuid;primaryKey"`
	FromUserID    *string        `gorm:"index:idx_ledger_from"`
	ToUserID      string         `gorm:"not null;index:idx_ledger_to"`
	AmountMinutes int64          `gorm:"not null"`
	Kind          string         `gorm:"not null;index:uniq_ledger_booking_kind,unique,priority:2"`
	BookingID     *string        `gorm:"index:uniq_ledger_booking_kind,unique,priority:1"`
	Description   string         `gorm:""`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_ledger_created"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Listing mirrors the listings table (the bookable offerings). The core
// only reads it; the surrounding system owns writes.
type Listing struct {
	ListingID       string    `gorm:"type:uuid;primaryKey"`
	ProviderID      string    `gorm:"not null;index:idx_listings_provider"`
	Title           string    `gorm:"not null"`
	DurationMinutes int64     `gorm:"not null"`
	Active          bool      `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (Listing) TableName() string { return "listings" }

func (listing *Listing) BeforeCreate(tx *gorm.DB) error {
	if listing.ListingID == "" {
		listing.ListingID = uuid.NewString()
	}
	return nil
}

// Review mirrors the reviews table. The core only checks existence for the
// eligibility gate; the review subsystem owns the rows.
type Review struct {
	ReviewID   string    `gorm:"type:uuid;primaryKey"`
	BookingID  string    `gorm:"not null;index:uniq_reviews_booking_reviewer,unique,priority:1"`
	ReviewerID string    `gorm:"not null;index:uniq_reviews_booking_reviewer,unique,priority:2"`
	Rating     int       `gorm:"not null"`
	Comment    string    `gorm:""`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Review) TableName() string { return "reviews" }

func (review *Review) BeforeCreate(tx *gorm.DB) error {
	if review.ReviewID == "" {
		review.ReviewID = uuid.NewString()
	}
	return nil
}
