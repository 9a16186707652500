package booking

import "time"

const (
	operationCreate   = "create_booking"
	operationCancel   = "cancel_booking"
	operationComplete = "complete_booking"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusPartial = "partial"

	defaultMinDuration = 30 * time.Minute
	defaultMaxDuration = 4 * time.Hour

	minutesPerHour = 60
)
