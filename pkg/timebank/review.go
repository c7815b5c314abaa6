package timebank

import "context"

// Reasons returned by the review gate when an actor is not eligible.
const (
	reviewReasonNotParticipant = "actor is not a participant"
	reviewReasonNotCompleted   = "booking is not completed"
	reviewReasonAlreadyDone    = "booking already reviewed by actor"
)

// CanReview is the eligibility gate consumed by the external review
// subsystem: the booking must be completed, the actor a participant, and
// the actor must not have reviewed it yet. Ineligibility is an answer, not
// an error; errors are reserved for missing bookings and storage failures.
func (service *BookingService) CanReview(ctx context.Context, bookingID BookingID, actorID UserID) (ReviewEligibility, error) {
	booking, err := service.store.GetBooking(ctx, bookingID)
	if err != nil {
		return ReviewEligibility{}, err
	}
	if !booking.Participant(actorID) {
		return ReviewEligibility{Reason: reviewReasonNotParticipant}, nil
	}
	if booking.Status != BookingStatusCompleted {
		return ReviewEligibility{Reason: reviewReasonNotCompleted}, nil
	}
	reviewed, err := service.store.HasReview(ctx, bookingID, actorID)
	if err != nil {
		return ReviewEligibility{}, err
	}
	if reviewed {
		return ReviewEligibility{Reason: reviewReasonAlreadyDone}, nil
	}
	return ReviewEligibility{Eligible: true}, nil
}
