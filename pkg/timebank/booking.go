package timebank

import (
	"context"
	"fmt"
	"time"
)

// BookingService owns the lifecycle of exchange negotiations. It is the only
// writer of booking status and confirmation flags; settlement is delegated
// to the Engine inside the same transaction boundary.
type BookingService struct {
	store    Store
	engine   *Engine
	nowFn    func() int64
	logger   OperationLogger
	notifier Notifier
}

// NewBookingService wires a BookingService.
func NewBookingService(store Store, engine *Engine, now func() int64, options ...BookingServiceOption) (*BookingService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidConfig)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: engine dependency is nil", ErrInvalidConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidConfig)
	}
	service := &BookingService{store: store, engine: engine, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateBooking opens a pending negotiation for a listing. The duration is
// copied from the listing and frozen. The balance projection here is
// advisory; the authoritative floor check runs again at settlement because
// balances drift between creation and completion.
func (service *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (Booking, error) {
	var booking Booking
	operationError := service.validateSchedule(input)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			listing, err := transactionStore.GetListing(ctx, input.ListingID)
			if err != nil {
				return err
			}
			if !listing.Active {
				return fmt.Errorf("%w: listing is inactive", ErrListingNotFound)
			}
			if listing.ProviderID == input.RequesterID.String() {
				return ErrSelfBooking
			}
			requesterAccount, err := transactionStore.GetAccount(ctx, input.RequesterID)
			if err != nil {
				return err
			}
			if requesterAccount.BalanceMinutes-listing.DurationMinutes.Int64() < service.engine.config.MinBalanceFloorMinutes {
				return ErrInsufficientBalance
			}
			now := service.nowFn()
			booking, err = transactionStore.CreateBooking(ctx, Booking{
				ListingID:       listing.ListingID,
				RequesterID:     input.RequesterID.String(),
				ProviderID:      listing.ProviderID,
				DurationMinutes: listing.DurationMinutes,
				Status:          BookingStatusPending,
				ScheduledDate:   input.ScheduledDate,
				ScheduledTime:   input.ScheduledTime,
				Message:         input.Message,
				CreatedUnixUTC:  now,
				UpdatedUnixUTC:  now,
			})
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCreate,
		ActorID:   input.RequesterID.String(),
		BookingID: booking.BookingID,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.emit(ctx, EventBookingRequest, booking, input.RequesterID)
	return booking, nil
}

// AcceptBooking moves a pending booking to accepted. Only the provider may accept.
func (service *BookingService) AcceptBooking(ctx context.Context, bookingID BookingID, actorID UserID) (Booking, error) {
	return service.resolvePending(ctx, operationAccept, bookingID, actorID, BookingStatusAccepted, EventBookingAccepted)
}

// DeclineBooking moves a pending booking to declined. Only the provider may decline.
func (service *BookingService) DeclineBooking(ctx context.Context, bookingID BookingID, actorID UserID) (Booking, error) {
	return service.resolvePending(ctx, operationDecline, bookingID, actorID, BookingStatusDeclined, EventBookingDeclined)
}

func (service *BookingService) resolvePending(ctx context.Context, operation string, bookingID BookingID, actorID UserID, target BookingStatus, eventType EventType) (Booking, error) {
	var booking Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !current.Participant(actorID) {
			return ErrUnauthorized
		}
		if current.ProviderID != actorID.String() {
			return fmt.Errorf("%w: only the provider may resolve a request", ErrUnauthorized)
		}
		if current.Status != BookingStatusPending {
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, current.Status)
		}
		now := service.nowFn()
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, BookingStatusPending, target, now); err != nil {
			return err
		}
		current.Status = target
		current.UpdatedUnixUTC = now
		booking = current
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operation,
		ActorID:   actorID.String(),
		BookingID: bookingID.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.emit(ctx, eventType, booking, actorID)
	return booking, nil
}

// CancelBooking cancels a pending or accepted booking. Either participant
// may cancel; terminal bookings reject the transition.
func (service *BookingService) CancelBooking(ctx context.Context, bookingID BookingID, actorID UserID) (Booking, error) {
	var booking Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !current.Participant(actorID) {
			return ErrUnauthorized
		}
		if current.Status != BookingStatusPending && current.Status != BookingStatusAccepted {
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, current.Status)
		}
		now := service.nowFn()
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, current.Status, BookingStatusCancelled, now); err != nil {
			return err
		}
		current.Status = BookingStatusCancelled
		current.UpdatedUnixUTC = now
		booking = current
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCancel,
		ActorID:   actorID.String(),
		BookingID: bookingID.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.emit(ctx, EventBookingCancelled, booking, actorID)
	return booking, nil
}

// ConfirmCompletion records the actor's completion confirmation. Confirming
// twice as the same party is a no-op. When both confirmations are present,
// the booking transitions to completed and the settlement transfer commits
// in the same transaction, exactly once.
func (service *BookingService) ConfirmCompletion(ctx context.Context, bookingID BookingID, actorID UserID) (Booking, error) {
	var booking Booking
	var completed bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !current.Participant(actorID) {
			return ErrUnauthorized
		}
		if current.Status != BookingStatusAccepted {
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, current.Status)
		}
		if current.RequesterID == actorID.String() {
			current.RequesterConfirmed = true
		} else {
			current.ProviderConfirmed = true
		}
		now := service.nowFn()
		if err := transactionStore.UpdateBookingConfirmations(ctx, bookingID, current.RequesterConfirmed, current.ProviderConfirmed, now); err != nil {
			return err
		}
		current.UpdatedUnixUTC = now
		if current.RequesterConfirmed && current.ProviderConfirmed {
			requesterID, err := NewUserID(current.RequesterID)
			if err != nil {
				return err
			}
			providerID, err := NewUserID(current.ProviderID)
			if err != nil {
				return err
			}
			if err := service.engine.settle(ctx, transactionStore, requesterID, providerID, current.DurationMinutes, bookingID); err != nil {
				return err
			}
			if err := transactionStore.UpdateBookingStatus(ctx, bookingID, BookingStatusAccepted, BookingStatusCompleted, now); err != nil {
				return err
			}
			current.Status = BookingStatusCompleted
			completed = true
		}
		booking = current
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationConfirm,
		ActorID:   actorID.String(),
		BookingID: bookingID.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	if completed {
		service.emit(ctx, EventBookingCompleted, booking, actorID)
	}
	return booking, nil
}

// GetBooking returns a booking to one of its participants.
func (service *BookingService) GetBooking(ctx context.Context, bookingID BookingID, actorID UserID) (Booking, error) {
	booking, err := service.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if !booking.Participant(actorID) {
		return Booking{}, ErrUnauthorized
	}
	return booking, nil
}

// ListBookingsForUser lists the user's bookings, optionally narrowed to one role.
func (service *BookingService) ListBookingsForUser(ctx context.Context, userID UserID, role RoleFilter) ([]Booking, error) {
	return service.store.ListBookingsForUser(ctx, userID, role)
}

func (service *BookingService) validateSchedule(input CreateBookingInput) error {
	if input.ScheduledDate != "" {
		if _, err := time.Parse(scheduledDateLayout, input.ScheduledDate); err != nil {
			return fmt.Errorf("%w: date %q", ErrInvalidSchedule, input.ScheduledDate)
		}
	}
	if input.ScheduledTime != "" {
		if _, err := time.Parse(scheduledTimeLayout, input.ScheduledTime); err != nil {
			return fmt.Errorf("%w: time %q", ErrInvalidSchedule, input.ScheduledTime)
		}
	}
	return nil
}

func (service *BookingService) emit(ctx context.Context, eventType EventType, booking Booking, actorID UserID) {
	if service.notifier == nil {
		return
	}
	service.notifier.Notify(ctx, Event{
		Type:            eventType,
		BookingID:       booking.BookingID,
		ActorID:         actorID.String(),
		RecipientID:     booking.Counterparty(actorID),
		OccurredUnixUTC: service.nowFn(),
	})
}

func (service *BookingService) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	service.logger.LogOperation(ctx, finishLog(entry))
}
