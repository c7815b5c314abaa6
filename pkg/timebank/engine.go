package timebank

import (
	"context"
	"fmt"
)

// Engine performs atomic time-credit movements between accounts. It is the
// only component that writes account balances or ledger entries.
type Engine struct {
	store  Store
	config Config
	nowFn  func() int64
	logger OperationLogger
}

// NewEngine wires an Engine.
func NewEngine(store Store, config Config, now func() int64, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	engine := &Engine{store: store, config: config, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// OpenAccount creates the member's account seeded with the configured
// initial credit, writing the matching initial ledger entry in the same
// transaction.
func (engine *Engine) OpenAccount(ctx context.Context, userID UserID) (Account, error) {
	account := Account{
		UserID:         userID.String(),
		BalanceMinutes: engine.config.InitialGrantMinutes,
		CreatedUnixUTC: engine.nowFn(),
	}
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.CreateAccount(ctx, account); err != nil {
			return err
		}
		if engine.config.InitialGrantMinutes == 0 {
			return nil
		}
		grant, err := NewAmountMinutes(engine.config.InitialGrantMinutes)
		if err != nil {
			return err
		}
		_, err = transactionStore.InsertEntry(ctx, LedgerEntry{
			ToUserID:       userID.String(),
			AmountMinutes:  grant,
			Kind:           EntryInitial,
			Description:    descriptionInitialGrant,
			CreatedUnixUTC: account.CreatedUnixUTC,
		})
		return err
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		ActorID:   userID.String(),
		Amount:    engine.config.InitialGrantMinutes,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// Balance returns the member's account row.
func (engine *Engine) Balance(ctx context.Context, userID UserID) (Account, error) {
	return engine.store.GetAccount(ctx, userID)
}

// Transfer moves the amount from one member to another and writes exactly
// one service entry tagged with the booking. A booking settles at most once.
func (engine *Engine) Transfer(ctx context.Context, fromUserID, toUserID UserID, amount AmountMinutes, bookingID BookingID) error {
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return engine.settle(ctx, transactionStore, fromUserID, toUserID, amount, bookingID)
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationTransfer,
		ActorID:   fromUserID.String(),
		BookingID: bookingID.String(),
		Amount:    amount.Int64(),
		Error:     operationError,
	})
	return operationError
}

// settle runs the transfer inside an already-open transaction. The booking
// state machine invokes it within its own boundary so the status flip and
// the ledger write commit together.
func (engine *Engine) settle(ctx context.Context, transactionStore Store, fromUserID, toUserID UserID, amount AmountMinutes, bookingID BookingID) error {
	fromAccount, _, err := engine.lockAccountPair(ctx, transactionStore, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if fromAccount.BalanceMinutes-amount.Int64() < engine.config.MinBalanceFloorMinutes {
		return ErrInsufficientBalance
	}
	_, err = transactionStore.InsertEntry(ctx, LedgerEntry{
		FromUserID:     fromUserID.String(),
		ToUserID:       toUserID.String(),
		AmountMinutes:  amount,
		Kind:           EntryService,
		BookingID:      bookingID.String(),
		Description:    fmt.Sprintf(descriptionServiceFormat, bookingID.String()),
		CreatedUnixUTC: engine.nowFn(),
	})
	if err != nil {
		return err
	}
	if err := transactionStore.AdjustBalance(ctx, fromUserID, -amount.Int64()); err != nil {
		return err
	}
	return transactionStore.AdjustBalance(ctx, toUserID, amount.Int64())
}

// Bonus credits an administrative grant. Bonuses have no source account and
// bypass the balance floor.
func (engine *Engine) Bonus(ctx context.Context, userID UserID, amount AmountMinutes, reason string) error {
	if reason == "" {
		reason = defaultBonusReason
	}
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.GetAccountForUpdate(ctx, userID); err != nil {
			return err
		}
		_, err := transactionStore.InsertEntry(ctx, LedgerEntry{
			ToUserID:       userID.String(),
			AmountMinutes:  amount,
			Kind:           EntryBonus,
			Description:    reason,
			CreatedUnixUTC: engine.nowFn(),
		})
		if err != nil {
			return err
		}
		return transactionStore.AdjustBalance(ctx, userID, amount.Int64())
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationBonus,
		ActorID:   userID.String(),
		Amount:    amount.Int64(),
		Error:     operationError,
	})
	return operationError
}

// Refund reverses the unique service entry for a booking exactly: the
// original source is credited back and the original destination debited by
// the same amount, with one refund entry appended. A booking refunds at
// most once.
func (engine *Engine) Refund(ctx context.Context, bookingID BookingID) (LedgerEntry, error) {
	var refundEntry LedgerEntry
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		serviceEntry, err := transactionStore.GetServiceEntry(ctx, bookingID)
		if err != nil {
			return err
		}
		originalFrom, err := NewUserID(serviceEntry.FromUserID)
		if err != nil {
			return err
		}
		originalTo, err := NewUserID(serviceEntry.ToUserID)
		if err != nil {
			return err
		}
		if _, _, err := engine.lockAccountPair(ctx, transactionStore, originalFrom, originalTo); err != nil {
			return err
		}
		refundEntry, err = transactionStore.InsertEntry(ctx, LedgerEntry{
			FromUserID:     serviceEntry.ToUserID,
			ToUserID:       serviceEntry.FromUserID,
			AmountMinutes:  serviceEntry.AmountMinutes,
			Kind:           EntryRefund,
			BookingID:      bookingID.String(),
			Description:    fmt.Sprintf(descriptionRefundFormat, bookingID.String()),
			CreatedUnixUTC: engine.nowFn(),
		})
		if err != nil {
			return err
		}
		if err := transactionStore.AdjustBalance(ctx, originalTo, -serviceEntry.AmountMinutes.Int64()); err != nil {
			return err
		}
		return transactionStore.AdjustBalance(ctx, originalFrom, serviceEntry.AmountMinutes.Int64())
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationRefund,
		BookingID: bookingID.String(),
		Amount:    refundEntry.AmountMinutes.Int64(),
		Error:     operationError,
	})
	if operationError != nil {
		return LedgerEntry{}, operationError
	}
	return refundEntry, nil
}

// lockAccountPair takes FOR UPDATE locks on both accounts in deterministic
// id order so concurrent settlements over the same pair cannot deadlock.
func (engine *Engine) lockAccountPair(ctx context.Context, transactionStore Store, fromUserID, toUserID UserID) (Account, Account, error) {
	first, second := fromUserID, toUserID
	if second.String() < first.String() {
		first, second = second, first
	}
	firstAccount, err := transactionStore.GetAccountForUpdate(ctx, first)
	if err != nil {
		return Account{}, Account{}, err
	}
	secondAccount, err := transactionStore.GetAccountForUpdate(ctx, second)
	if err != nil {
		return Account{}, Account{}, err
	}
	if first == fromUserID {
		return firstAccount, secondAccount, nil
	}
	return secondAccount, firstAccount, nil
}

func (engine *Engine) logOperation(ctx context.Context, entry OperationLog) {
	if engine.logger == nil {
		return
	}
	engine.logger.LogOperation(ctx, finishLog(entry))
}
