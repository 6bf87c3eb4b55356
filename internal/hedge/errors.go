package hedge

import "errors"

var (
	ErrThrottled            = errors.New("interaction delay not elapsed")
	ErrOrderAlreadyPending  = errors.New("order pending")
	ErrCancellationTooEarly = errors.New("cancellation before min cancel delay")
	ErrNoPendingOrder       = errors.New("no pending order")
	ErrInsufficientCapital  = errors.New("insufficient capital")
	ErrVenueExecutionFailed = errors.New("venue execution failed")
	ErrInvalidParams        = errors.New("invalid params")
	ErrInvalidPrice         = errors.New("oracle price must be > 0")
)
