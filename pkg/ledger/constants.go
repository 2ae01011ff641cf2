package ledger

const (
	operationPurchase  = "purchase"
	operationSpend     = "spend"
	operationEarn      = "earn"
	operationRefund    = "refund"
	operationReverse   = "reverse"
	operationDecrement = "decrement"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	idempotencyKeyDelimiter = ":"

	// DefaultHistoryLimit is applied when callers do not request a page size.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps transaction history pages.
	MaxHistoryLimit = 100

	decrementDescription = "credit decrement"
)
