package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced        Counter
	OrdersFailed        Counter
	OrdersExecuted      Counter
	OrdersCancelled     Counter
	CancelFailed        Counter
	InsufficientBalance Counter
	StatusLookupGaveUp  Counter
	RateLimited         Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:        n,
		OrdersFailed:        n,
		OrdersExecuted:      n,
		OrdersCancelled:     n,
		CancelFailed:        n,
		InsufficientBalance: n,
		StatusLookupGaveUp:  n,
		RateLimited:         n,
	}
}
