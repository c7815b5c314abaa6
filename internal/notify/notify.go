// Package notify provides the default notification sink: a zap logger.
// Delivery is best-effort; the sink never reports back into the caller.
package notify

import (
	"context"

	"github.com/hourbank/timebank/pkg/timebank"
	"go.uber.org/zap"
)

// Sink logs booking lifecycle events. The surrounding system replaces it
// with a real push channel.
type Sink struct {
	base *zap.Logger
}

// New wires a Sink over a zap logger.
func New(base *zap.Logger) *Sink {
	return &Sink{base: base}
}

// Notify implements timebank.Notifier.
func (sink *Sink) Notify(_ context.Context, event timebank.Event) {
	sink.base.Info("booking event",
		zap.String("type", string(event.Type)),
		zap.String("booking_id", event.BookingID),
		zap.String("actor_id", event.ActorID),
		zap.String("recipient_id", event.RecipientID),
		zap.Int64("occurred_at", event.OccurredUnixUTC),
	)
}
