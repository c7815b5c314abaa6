package timebank

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store. WithTx serializes callers and restores a
// snapshot when fn fails, so the no-partial-application contract holds the
// same way it does over a real transactional store.
type stubStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	bookings map[string]Booking
	entries  []LedgerEntry
	listings map[string]Listing
	reviews  map[string]map[string]bool

	bookingSeq int
	entrySeq   int

	insertEntryError  error
	updateStatusError error
	getListingError   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: make(map[string]Account),
		bookings: make(map[string]Booking),
		listings: make(map[string]Listing),
		reviews:  make(map[string]map[string]bool),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

type stubSnapshot struct {
	accounts map[string]Account
	bookings map[string]Booking
	entries  []LedgerEntry
}

func (store *stubStore) snapshot() stubSnapshot {
	accounts := make(map[string]Account, len(store.accounts))
	for key, value := range store.accounts {
		accounts[key] = value
	}
	bookings := make(map[string]Booking, len(store.bookings))
	for key, value := range store.bookings {
		bookings[key] = value
	}
	return stubSnapshot{
		accounts: accounts,
		bookings: bookings,
		entries:  append([]LedgerEntry(nil), store.entries...),
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.accounts = snapshot.accounts
	store.bookings = snapshot.bookings
	store.entries = snapshot.entries
}

func (store *stubStore) CreateAccount(ctx context.Context, account Account) error {
	if _, exists := store.accounts[account.UserID]; exists {
		return ErrAccountExists
	}
	store.accounts[account.UserID] = account
	return nil
}

func (store *stubStore) GetAccount(ctx context.Context, userID UserID) (Account, error) {
	account, ok := store.accounts[userID.String()]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, userID UserID) (Account, error) {
	return store.GetAccount(ctx, userID)
}

func (store *stubStore) AdjustBalance(ctx context.Context, userID UserID, deltaMinutes int64) error {
	account, ok := store.accounts[userID.String()]
	if !ok {
		return ErrAccountNotFound
	}
	account.BalanceMinutes += deltaMinutes
	store.accounts[userID.String()] = account
	return nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	if store.insertEntryError != nil {
		return LedgerEntry{}, store.insertEntryError
	}
	if entry.BookingID != "" {
		for _, existing := range store.entries {
			if existing.BookingID == entry.BookingID && existing.Kind == entry.Kind {
				if entry.Kind == EntryRefund {
					return LedgerEntry{}, ErrDuplicateRefund
				}
				return LedgerEntry{}, ErrDuplicateSettlement
			}
		}
	}
	if entry.EntryID == "" {
		store.entrySeq++
		entry.EntryID = fmt.Sprintf("entry-%d", store.entrySeq)
	}
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) GetServiceEntry(ctx context.Context, bookingID BookingID) (LedgerEntry, error) {
	for _, entry := range store.entries {
		if entry.BookingID == bookingID.String() && entry.Kind == EntryService {
			return entry, nil
		}
	}
	return LedgerEntry{}, ErrSettlementNotFound
}

func (store *stubStore) ListEntriesForUser(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		if entry.FromUserID != userID.String() && entry.ToUserID != userID.String() {
			continue
		}
		if beforeUnixUTC != 0 && entry.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (store *stubStore) SumCredits(ctx context.Context, userID UserID) (int64, error) {
	var sum int64
	for _, entry := range store.entries {
		if entry.ToUserID == userID.String() {
			sum += entry.AmountMinutes.Int64()
		}
	}
	return sum, nil
}

func (store *stubStore) SumDebits(ctx context.Context, userID UserID) (int64, error) {
	var sum int64
	for _, entry := range store.entries {
		if entry.FromUserID == userID.String() {
			sum += entry.AmountMinutes.Int64()
		}
	}
	return sum, nil
}

func (store *stubStore) CreateBooking(ctx context.Context, booking Booking) (Booking, error) {
	if booking.BookingID == "" {
		store.bookingSeq++
		booking.BookingID = fmt.Sprintf("booking-%d", store.bookingSeq)
	}
	store.bookings[booking.BookingID] = booking
	return booking, nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	booking, ok := store.bookings[bookingID.String()]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	return booking, nil
}

func (store *stubStore) GetBookingForUpdate(ctx context.Context, bookingID BookingID) (Booking, error) {
	return store.GetBooking(ctx, bookingID)
}

func (store *stubStore) UpdateBookingStatus(ctx context.Context, bookingID BookingID, from, to BookingStatus, atUnixUTC int64) error {
	if store.updateStatusError != nil {
		return store.updateStatusError
	}
	booking, ok := store.bookings[bookingID.String()]
	if !ok {
		return ErrBookingNotFound
	}
	if booking.Status != from {
		return ErrInvalidState
	}
	booking.Status = to
	booking.UpdatedUnixUTC = atUnixUTC
	store.bookings[bookingID.String()] = booking
	return nil
}

func (store *stubStore) UpdateBookingConfirmations(ctx context.Context, bookingID BookingID, requesterConfirmed, providerConfirmed bool, atUnixUTC int64) error {
	booking, ok := store.bookings[bookingID.String()]
	if !ok {
		return ErrBookingNotFound
	}
	booking.RequesterConfirmed = requesterConfirmed
	booking.ProviderConfirmed = providerConfirmed
	booking.UpdatedUnixUTC = atUnixUTC
	store.bookings[bookingID.String()] = booking
	return nil
}

func (store *stubStore) ListBookingsForUser(ctx context.Context, userID UserID, role RoleFilter) ([]Booking, error) {
	var out []Booking
	for _, booking := range store.bookings {
		asRequester := booking.RequesterID == userID.String()
		asProvider := booking.ProviderID == userID.String()
		switch role {
		case RoleRequester:
			if asRequester {
				out = append(out, booking)
			}
		case RoleProvider:
			if asProvider {
				out = append(out, booking)
			}
		default:
			if asRequester || asProvider {
				out = append(out, booking)
			}
		}
	}
	return out, nil
}

func (store *stubStore) CountCompletedBookings(ctx context.Context, userID UserID) (int64, error) {
	var count int64
	for _, booking := range store.bookings {
		if booking.Status != BookingStatusCompleted {
			continue
		}
		if booking.RequesterID == userID.String() || booking.ProviderID == userID.String() {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) GetListing(ctx context.Context, listingID ListingID) (Listing, error) {
	if store.getListingError != nil {
		return Listing{}, store.getListingError
	}
	listing, ok := store.listings[listingID.String()]
	if !ok {
		return Listing{}, ErrListingNotFound
	}
	return listing, nil
}

func (store *stubStore) HasReview(ctx context.Context, bookingID BookingID, reviewerID UserID) (bool, error) {
	reviewers, ok := store.reviews[bookingID.String()]
	if !ok {
		return false, nil
	}
	return reviewers[reviewerID.String()], nil
}

func (store *stubStore) setBalance(test *testing.T, userID string, balanceMinutes int64) {
	test.Helper()
	account, ok := store.accounts[userID]
	if !ok {
		test.Fatalf("account %s not found", userID)
	}
	account.BalanceMinutes = balanceMinutes
	store.accounts[userID] = account
}

func (store *stubStore) addListing(test *testing.T, listingID, providerID string, durationMinutes int64) Listing {
	test.Helper()
	duration, err := NewAmountMinutes(durationMinutes)
	if err != nil {
		test.Fatalf("listing duration: %v", err)
	}
	listing := Listing{
		ListingID:       listingID,
		ProviderID:      providerID,
		Title:           "listing " + listingID,
		DurationMinutes: duration,
		Active:          true,
	}
	store.listings[listingID] = listing
	return listing
}

func (store *stubStore) addReview(test *testing.T, bookingID, reviewerID string) {
	test.Helper()
	reviewers, ok := store.reviews[bookingID]
	if !ok {
		reviewers = make(map[string]bool)
		store.reviews[bookingID] = reviewers
	}
	reviewers[reviewerID] = true
}

func (store *stubStore) serviceEntries(bookingID string) []LedgerEntry {
	var out []LedgerEntry
	for _, entry := range store.entries {
		if entry.BookingID == bookingID && entry.Kind == EntryService {
			out = append(out, entry)
		}
	}
	return out
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	value, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return value
}

func mustListingID(test *testing.T, raw string) ListingID {
	test.Helper()
	value, err := NewListingID(raw)
	if err != nil {
		test.Fatalf("listing id: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw int64) AmountMinutes {
	test.Helper()
	value, err := NewAmountMinutes(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustNewEngine(test *testing.T, store Store, options ...EngineOption) *Engine {
	test.Helper()
	engine, err := NewEngine(store, DefaultConfig(), func() int64 { return 100 }, options...)
	if err != nil {
		test.Fatalf("new engine: %v", err)
	}
	return engine
}

func mustNewBookingService(test *testing.T, store Store, engine *Engine, options ...BookingServiceOption) *BookingService {
	test.Helper()
	service, err := NewBookingService(store, engine, func() int64 { return 100 }, options...)
	if err != nil {
		test.Fatalf("new booking service: %v", err)
	}
	return service
}

// openTestAccount creates an account via the engine so the stored balance
// and the ledger stay consistent.
func openTestAccount(test *testing.T, engine *Engine, userID UserID) Account {
	test.Helper()
	account, err := engine.OpenAccount(context.Background(), userID)
	if err != nil {
		test.Fatalf("open account: %v", err)
	}
	return account
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (notifier *recordingNotifier) Notify(ctx context.Context, event Event) {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.events = append(notifier.events, event)
}

func (notifier *recordingNotifier) byType(eventType EventType) []Event {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	var out []Event
	for _, event := range notifier.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(ctx context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}
