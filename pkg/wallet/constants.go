package wallet

const (
	operationDebit     = "debit"
	operationCredit    = "credit"
	operationReverse   = "reverse"
	operationTopUp     = "request_top_up"
	operationSettle    = "settle_top_up"
	operationReconcile = "reconcile"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
