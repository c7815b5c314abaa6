package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/hourbank/timebank/pkg/timebank"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorSubjectAccount = "account"
	errorSubjectBooking = "booking"
	errorSubjectEntry   = "entry"
	errorSubjectListing = "listing"
	errorSubjectReview  = "review"

	errorCodeAdjust  = "adjust_balance"
	errorCodeCreate  = "create"
	errorCodeCount   = "count"
	errorCodeGet     = "get"
	errorCodeHas     = "has"
	errorCodeInsert  = "insert"
	errorCodeInvalid = "invalid"
	errorCodeList    = "list"
	errorCodeSum     = "sum"
	errorCodeUpdate  = "update"

	dialectPostgres = "postgres"
)

// Store implements timebank.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &Booking{}, &LedgerEntry{}, &Listing{}, &Review{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore timebank.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account timebank.Account) error {
	model := Account{
		UserID:         account.UserID,
		BalanceMinutes: account.BalanceMinutes,
		CreatedAt:      unixTime(account.CreatedUnixUTC),
		UpdatedAt:      unixTime(account.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return timebank.WrapError("store", errorSubjectAccount, errorCodeCreate, timebank.ErrAccountExists)
	}
	if err != nil {
		return timebank.WrapStorageError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, userID timebank.UserID) (timebank.Account, error) {
	return store.getAccount(ctx, userID, false)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, userID timebank.UserID) (timebank.Account, error) {
	return store.getAccount(ctx, userID, true)
}

func (store *Store) getAccount(ctx context.Context, userID timebank.UserID, lock bool) (timebank.Account, error) {
	query := store.db.WithContext(ctx)
	if lock {
		query = store.forUpdate(query)
	}
	var model Account
	err := query.Where("user_id = ?", userID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return timebank.Account{}, timebank.WrapError("store", errorSubjectAccount, errorCodeGet, timebank.ErrAccountNotFound)
	}
	if err != nil {
		return timebank.Account{}, timebank.WrapStorageError(errorSubjectAccount, errorCodeGet, err)
	}
	return timebank.Account{
		UserID:         model.UserID,
		BalanceMinutes: model.BalanceMinutes,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func (store *Store) AdjustBalance(ctx context.Context, userID timebank.UserID, deltaMinutes int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", userID.String()).
		UpdateColumns(map[string]interface{}{
			"balance_minutes": gorm.Expr("balance_minutes + ?", deltaMinutes),
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return timebank.WrapStorageError(errorSubjectAccount, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		return timebank.WrapError("store", errorSubjectAccount, errorCodeAdjust, timebank.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry timebank.LedgerEntry) (timebank.LedgerEntry, error) {
	model := LedgerEntry{
		EntryID:       entry.EntryID,
		FromUserID:    optionalString(entry.FromUserID),
		ToUserID:      entry.ToUserID,
		AmountMinutes: entry.AmountMinutes.Int64(),
		Kind:          entry.Kind.String(),
		BookingID:     optionalString(entry.BookingID),
		Description:   entry.Description,
		Metadata:      datatypesJSON(entry.Metadata),
		CreatedAt:     unixTime(entry.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		switch entry.Kind {
		case timebank.EntryService:
			return timebank.LedgerEntry{}, timebank.WrapError("store", errorSubjectEntry, errorCodeInsert, timebank.ErrDuplicateSettlement)
		case timebank.EntryRefund:
			return timebank.LedgerEntry{}, timebank.WrapError("store", errorSubjectEntry, errorCodeInsert, timebank.ErrDuplicateRefund)
		}
		return timebank.LedgerEntry{}, timebank.WrapStorageError(errorSubjectEntry, errorCodeInsert, err)
	}
	if err != nil {
		return timebank.LedgerEntry{}, timebank.WrapStorageError(errorSubjectEntry, errorCodeInsert, err)
	}
	return mapLedgerEntry(model)
}

func (store *Store) GetServiceEntry(ctx context.Context, bookingID timebank.BookingID) (timebank.LedgerEntry, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where("booking_id = ? AND kind = ?", bookingID.String(), timebank.EntryService.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return timebank.LedgerEntry{}, timebank.WrapError("store", errorSubjectEntry, errorCodeGet, timebank.ErrSettlementNotFound)
	}
	if err != nil {
		return timebank.LedgerEntry{}, timebank.WrapStorageError(errorSubjectEntry, errorCodeGet, err)
	}
	return mapLedgerEntry(model)
}

func (store *Store) ListEntriesForUser(ctx context.Context, userID timebank.UserID, beforeUnixUTC int64, limit int) ([]timebank.LedgerEntry, error) {
	before := unixTime(beforeUnixUTC)
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("(from_user_id = ? OR to_user_id = ?) AND created_at < ?", userID.String(), userID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, timebank.WrapStorageError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]timebank.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) SumCredits(ctx context.Context, userID timebank.UserID) (int64, error) {
	return store.sumEntries(ctx, "to_user_id = ?", userID)
}

func (store *Store) SumDebits(ctx context.Context, userID timebank.UserID) (int64, error) {
	return store.sumEntries(ctx, "from_user_id = ?", userID)
}

func (store *Store) sumEntries(ctx context.Context, condition string, userID timebank.UserID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount_minutes),0) as total").
		Where(condition, userID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, timebank.WrapStorageError(errorSubjectEntry, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) CreateBooking(ctx context.Context, booking timebank.Booking) (timebank.Booking, error) {
	model := Booking{
		BookingID:          booking.BookingID,
		ListingID:          booking.ListingID,
		RequesterID:        booking.RequesterID,
		ProviderID:         booking.ProviderID,
		DurationMinutes:    booking.DurationMinutes.Int64(),
		Status:             booking.Status.String(),
		RequesterConfirmed: booking.RequesterConfirmed,
		ProviderConfirmed:  booking.ProviderConfirmed,
		ScheduledDate:      booking.ScheduledDate,
		ScheduledTime:      booking.ScheduledTime,
		Message:            booking.Message,
		CreatedAt:          unixTime(booking.CreatedUnixUTC),
		UpdatedAt:          unixTime(booking.UpdatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return timebank.Booking{}, timebank.WrapStorageError(errorSubjectBooking, errorCodeCreate, err)
	}
	return mapBooking(model)
}

func (store *Store) GetBooking(ctx context.Context, bookingID timebank.BookingID) (timebank.Booking, error) {
	return store.getBooking(ctx, bookingID, false)
}

func (store *Store) GetBookingForUpdate(ctx context.Context, bookingID timebank.BookingID) (timebank.Booking, error) {
	return store.getBooking(ctx, bookingID, true)
}

func (store *Store) getBooking(ctx context.Context, bookingID timebank.BookingID, lock bool) (timebank.Booking, error) {
	query := store.db.WithContext(ctx)
	if lock {
		query = store.forUpdate(query)
	}
	var model Booking
	err := query.Where("booking_id = ?", bookingID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return timebank.Booking{}, timebank.WrapError("store", errorSubjectBooking, errorCodeGet, timebank.ErrBookingNotFound)
	}
	if err != nil {
		return timebank.Booking{}, timebank.WrapStorageError(errorSubjectBooking, errorCodeGet, err)
	}
	return mapBooking(model)
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID timebank.BookingID, from, to timebank.BookingStatus, atUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND status = ?", bookingID.String(), from.String()).
		UpdateColumns(map[string]interface{}{
			"status":     to.String(),
			"updated_at": unixTime(atUnixUTC),
		})
	if result.Error != nil {
		return timebank.WrapStorageError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return timebank.WrapError("store", errorSubjectBooking, errorCodeUpdate, timebank.ErrInvalidState)
	}
	return nil
}

func (store *Store) UpdateBookingConfirmations(ctx context.Context, bookingID timebank.BookingID, requesterConfirmed, providerConfirmed bool, atUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", bookingID.String()).
		UpdateColumns(map[string]interface{}{
			"requester_confirmed": requesterConfirmed,
			"provider_confirmed":  providerConfirmed,
			"updated_at":          unixTime(atUnixUTC),
		})
	if result.Error != nil {
		return timebank.WrapStorageError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return timebank.WrapError("store", errorSubjectBooking, errorCodeUpdate, timebank.ErrBookingNotFound)
	}
	return nil
}

func (store *Store) ListBookingsForUser(ctx context.Context, userID timebank.UserID, role timebank.RoleFilter) ([]timebank.Booking, error) {
	query := store.db.WithContext(ctx)
	switch role {
	case timebank.RoleRequester:
		query = query.Where("requester_id = ?", userID.String())
	case timebank.RoleProvider:
		query = query.Where("provider_id = ?", userID.String())
	default:
		query = query.Where("requester_id = ? OR provider_id = ?", userID.String(), userID.String())
	}
	var rows []Booking
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, timebank.WrapStorageError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]timebank.Booking, 0, len(rows))
	for _, row := range rows {
		booking, err := mapBooking(row)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

func (store *Store) CountCompletedBookings(ctx context.Context, userID timebank.UserID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("(requester_id = ? OR provider_id = ?) AND status = ?", userID.String(), userID.String(), timebank.BookingStatusCompleted.String()).
		Count(&count).Error
	if err != nil {
		return 0, timebank.WrapStorageError(errorSubjectBooking, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) GetListing(ctx context.Context, listingID timebank.ListingID) (timebank.Listing, error) {
	var model Listing
	err := store.db.WithContext(ctx).Where("listing_id = ?", listingID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return timebank.Listing{}, timebank.WrapError("store", errorSubjectListing, errorCodeGet, timebank.ErrListingNotFound)
	}
	if err != nil {
		return timebank.Listing{}, timebank.WrapStorageError(errorSubjectListing, errorCodeGet, err)
	}
	duration, err := timebank.NewAmountMinutes(model.DurationMinutes)
	if err != nil {
		return timebank.Listing{}, timebank.WrapError("store", errorSubjectListing, errorCodeInvalid, err)
	}
	return timebank.Listing{
		ListingID:       model.ListingID,
		ProviderID:      model.ProviderID,
		Title:           model.Title,
		DurationMinutes: duration,
		Active:          model.Active,
	}, nil
}

func (store *Store) HasReview(ctx context.Context, bookingID timebank.BookingID, reviewerID timebank.UserID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Review{}).
		Where("booking_id = ? AND reviewer_id = ?", bookingID.String(), reviewerID.String()).
		Count(&count).Error
	if err != nil {
		return false, timebank.WrapStorageError(errorSubjectReview, errorCodeHas, err)
	}
	return count > 0, nil
}

// forUpdate takes a row lock on backends that support it. SQLite has no FOR
// UPDATE syntax; its single-writer transactions serialize the same way.
func (store *Store) forUpdate(query *gorm.DB) *gorm.DB {
	if store.db.Dialector.Name() == dialectPostgres {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

type sqlSum struct {
	Total int64
}

func mapBooking(model Booking) (timebank.Booking, error) {
	status, err := timebank.ParseBookingStatus(model.Status)
	if err != nil {
		return timebank.Booking{}, timebank.WrapError("store", errorSubjectBooking, errorCodeInvalid, err)
	}
	duration, err := timebank.NewAmountMinutes(model.DurationMinutes)
	if err != nil {
		return timebank.Booking{}, timebank.WrapError("store", errorSubjectBooking, errorCodeInvalid, err)
	}
	return timebank.Booking{
		BookingID:          model.BookingID,
		ListingID:          model.ListingID,
		RequesterID:        model.RequesterID,
		ProviderID:         model.ProviderID,
		DurationMinutes:    duration,
		Status:             status,
		RequesterConfirmed: model.RequesterConfirmed,
		ProviderConfirmed:  model.ProviderConfirmed,
		ScheduledDate:      model.ScheduledDate,
		ScheduledTime:      model.ScheduledTime,
		Message:            model.Message,
		CreatedUnixUTC:     model.CreatedAt.Unix(),
		UpdatedUnixUTC:     model.UpdatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(model LedgerEntry) (timebank.LedgerEntry, error) {
	kind, err := timebank.ParseEntryKind(model.Kind)
	if err != nil {
		return timebank.LedgerEntry{}, timebank.WrapError("store", errorSubjectEntry, errorCodeInvalid, err)
	}
	amount, err := timebank.NewAmountMinutes(model.AmountMinutes)
	if err != nil {
		return timebank.LedgerEntry{}, timebank.WrapError("store", errorSubjectEntry, errorCodeInvalid, err)
	}
	return timebank.LedgerEntry{
		EntryID:        model.EntryID,
		FromUserID:     stringOrEmpty(model.FromUserID),
		ToUserID:       model.ToUserID,
		AmountMinutes:  amount,
		Kind:           kind,
		BookingID:      stringOrEmpty(model.BookingID),
		Description:    model.Description,
		Metadata:       string(model.Metadata),
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func unixTime(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
