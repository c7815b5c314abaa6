package timebank

const (
	operationOpenAccount = "open_account"
	operationTransfer    = "transfer"
	operationBonus       = "bonus"
	operationRefund      = "refund"
	operationCreate      = "create_booking"
	operationAccept      = "accept_booking"
	operationDecline     = "decline_booking"
	operationCancel      = "cancel_booking"
	operationConfirm     = "confirm_completion"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	minutesPerHour            = 60
	minuteConversionTolerance = 1e-6

	scheduledDateLayout = "2006-01-02"
	scheduledTimeLayout = "15:04"

	descriptionInitialGrant  = "Initial time credit grant"
	descriptionServiceFormat = "Service completed: booking %s"
	descriptionRefundFormat  = "Refund for booking %s"
	defaultBonusReason       = "Bonus"
	defaultHistoryLimit      = 50
	maxHistoryLimit          = 200
)
