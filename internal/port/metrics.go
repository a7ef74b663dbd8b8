package port

import "time"

type Metrics interface {
	// ObserveOperation records the duration and outcome of one core operation
	ObserveOperation(op string, took time.Duration, err error)

	// SetStock records a committed item quantity
	SetStock(itemID int64, quantity int)
}
