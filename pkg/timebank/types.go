package timebank

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// AmountMinutes is a strictly positive credit amount in whole minutes.
type AmountMinutes int64

// UserID identifies a member (and their account).
type UserID struct {
	value string
}

// BookingID identifies a single exchange negotiation.
type BookingID struct {
	value string
}

// ListingID identifies a bookable service offering.
type ListingID struct {
	value string
}

// MetadataJSON stores arbitrary entry metadata.
type MetadataJSON struct {
	value string
}

// BookingStatus defines the booking lifecycle.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusDeclined  BookingStatus = "declined"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// String returns the stored status value.
func (status BookingStatus) String() string {
	return string(status)
}

// Terminal reports whether no further transitions are permitted.
func (status BookingStatus) Terminal() bool {
	switch status {
	case BookingStatusDeclined, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// ParseBookingStatus validates a stored status value.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	status := BookingStatus(raw)
	switch status {
	case BookingStatusPending, BookingStatusAccepted, BookingStatusDeclined, BookingStatusCancelled, BookingStatusCompleted:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryInitial EntryKind = "initial"
	EntryBonus   EntryKind = "bonus"
	EntryService EntryKind = "service"
	EntryRefund  EntryKind = "refund"
)

// String returns the stored kind value.
func (kind EntryKind) String() string {
	return string(kind)
}

// ParseEntryKind validates a stored kind value.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(raw)
	switch kind {
	case EntryInitial, EntryBonus, EntryService, EntryRefund:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// RoleFilter selects which side of a booking a listing query matches.
type RoleFilter string

const (
	RoleAny       RoleFilter = ""
	RoleRequester RoleFilter = "requester"
	RoleProvider  RoleFilter = "provider"
)

// ParseRoleFilter validates a role filter value.
func ParseRoleFilter(raw string) (RoleFilter, error) {
	filter := RoleFilter(strings.TrimSpace(raw))
	switch filter {
	case RoleAny, RoleRequester, RoleProvider:
		return filter, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRoleFilter, raw)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
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

// NewListingID validates and normalizes a listing id.
func NewListingID(raw string) (ListingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ListingID{}, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	return ListingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ListingID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountMinutes validates an amount and ensures it is strictly positive.
func NewAmountMinutes(raw int64) (AmountMinutes, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountMinutes)
	}
	return AmountMinutes(raw), nil
}

// AmountMinutesFromHours converts a positive decimal hour value with whole-minute precision.
func AmountMinutesFromHours(hours float64) (AmountMinutes, error) {
	minutes, err := minutesFromHours(hours)
	if err != nil {
		return 0, err
	}
	return NewAmountMinutes(minutes)
}

// Int64 unwraps the amount.
func (amount AmountMinutes) Int64() int64 {
	return int64(amount)
}

// Hours renders the amount as decimal hours.
func (amount AmountMinutes) Hours() float64 {
	return float64(amount) / minutesPerHour
}

func minutesFromHours(hours float64) (int64, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return 0, fmt.Errorf("%w: not a finite value", ErrInvalidAmountMinutes)
	}
	scaled := hours * minutesPerHour
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > minuteConversionTolerance {
		return 0, fmt.Errorf("%w: %v hours is not whole minutes", ErrInvalidAmountMinutes, hours)
	}
	return int64(rounded), nil
}

// SignedMinutesFromHours converts an hour value that may be negative (balance floors).
func SignedMinutesFromHours(hours float64) (int64, error) {
	return minutesFromHours(hours)
}

// HoursFromMinutes renders signed minutes as decimal hours.
func HoursFromMinutes(minutes int64) float64 {
	return float64(minutes) / minutesPerHour
}

// Account is one member's balance row.
type Account struct {
	UserID         string
	BalanceMinutes int64
	CreatedUnixUTC int64
}

// Booking is one exchange negotiation between a requester and a provider.
type Booking struct {
	BookingID          string
	ListingID          string
	RequesterID        string
	ProviderID         string
	DurationMinutes    AmountMinutes
	Status             BookingStatus
	RequesterConfirmed bool
	ProviderConfirmed  bool
	ScheduledDate      string
	ScheduledTime      string
	Message            string
	CreatedUnixUTC     int64
	UpdatedUnixUTC     int64
}

// Participant reports whether the user is one of the two booking parties.
func (booking Booking) Participant(userID UserID) bool {
	return booking.RequesterID == userID.String() || booking.ProviderID == userID.String()
}

// Counterparty returns the other participant's id.
func (booking Booking) Counterparty(userID UserID) string {
	if booking.RequesterID == userID.String() {
		return booking.ProviderID
	}
	return booking.RequesterID
}

// LedgerEntry is a single immutable line in the ledger.
// FromUserID is empty for system-originated grants; BookingID is set only
// for service and refund kinds.
type LedgerEntry struct {
	EntryID        string
	FromUserID     string
	ToUserID       string
	AmountMinutes  AmountMinutes
	Kind           EntryKind
	BookingID      string
	Description    string
	Metadata       string
	CreatedUnixUTC int64
}

// Listing is the bookable service offering a booking copies its duration from.
type Listing struct {
	ListingID       string
	ProviderID      string
	Title           string
	DurationMinutes AmountMinutes
	Active          bool
}

// UserStats aggregates one member's exchange activity.
type UserStats struct {
	BalanceMinutes     int64
	EarnedMinutes      int64
	SpentMinutes       int64
	CompletedExchanges int64
}

// ReviewEligibility is the outcome of the review gate.
type ReviewEligibility struct {
	Eligible bool
	Reason   string
}

// CreateBookingInput carries the requester's booking request.
type CreateBookingInput struct {
	ListingID     ListingID
	RequesterID   UserID
	ScheduledDate string
	ScheduledTime string
	Message       string
}

// Store is the persistence contract used by Engine and BookingService.
// Every method may be called inside WithTx; implementations must scope all
// reads and writes to that transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	GetAccountForUpdate(ctx context.Context, userID UserID) (Account, error)
	AdjustBalance(ctx context.Context, userID UserID, deltaMinutes int64) error

	InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	GetServiceEntry(ctx context.Context, bookingID BookingID) (LedgerEntry, error)
	ListEntriesForUser(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]LedgerEntry, error)
	SumCredits(ctx context.Context, userID UserID) (int64, error)
	SumDebits(ctx context.Context, userID UserID) (int64, error)

	CreateBooking(ctx context.Context, booking Booking) (Booking, error)
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID BookingID) (Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID BookingID, from, to BookingStatus, atUnixUTC int64) error
	UpdateBookingConfirmations(ctx context.Context, bookingID BookingID, requesterConfirmed, providerConfirmed bool, atUnixUTC int64) error
	ListBookingsForUser(ctx context.Context, userID UserID, role RoleFilter) ([]Booking, error)
	CountCompletedBookings(ctx context.Context, userID UserID) (int64, error)

	GetListing(ctx context.Context, listingID ListingID) (Listing, error)
	HasReview(ctx context.Context, bookingID BookingID, reviewerID UserID) (bool, error)
}
