package timebank

import "context"

// History lists the user's ledger entries before a cutoff time, newest first.
// A zero cutoff means "now"; the limit is clamped to the service maximum.
func (engine *Engine) History(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return engine.store.ListEntriesForUser(ctx, userID, beforeUnixUTC, limit)
}

// Stats aggregates the user's exchange activity: current balance, lifetime
// credits and debits, and the number of completed exchanges.
func (engine *Engine) Stats(ctx context.Context, userID UserID) (UserStats, error) {
	account, err := engine.store.GetAccount(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	earned, err := engine.store.SumCredits(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	spent, err := engine.store.SumDebits(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	completed, err := engine.store.CountCompletedBookings(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	return UserStats{
		BalanceMinutes:     account.BalanceMinutes,
		EarnedMinutes:      earned,
		SpentMinutes:       spent,
		CompletedExchanges: completed,
	}, nil
}

// ReplayBalance recomputes the balance from the ledger alone. The result
// must always equal the stored balance; it exists for audits and tests.
func (engine *Engine) ReplayBalance(ctx context.Context, userID UserID) (int64, error) {
	credits, err := engine.store.SumCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	debits, err := engine.store.SumDebits(ctx, userID)
	if err != nil {
		return 0, err
	}
	return credits - debits, nil
}
