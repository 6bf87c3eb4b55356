package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	OrdersSubmitted     Counter
	OrdersExecuted      Counter
	OrdersFailed        Counter
	OrdersCancelled     Counter
	SubmitErrors        Counter
	CallbacksIgnored    Counter
	Throttled           Counter
	InsufficientCapital Counter
	DualLegHealed       Counter
	LeverageRebalances  Counter
	ResidualSweeps      Counter

	TargetExposure Gauge
	HedgeSize      Gauge
	Leverage       Gauge
	PendingOrder   Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersSubmitted:     n,
		OrdersExecuted:      n,
		OrdersFailed:        n,
		OrdersCancelled:     n,
		SubmitErrors:        n,
		CallbacksIgnored:    n,
		Throttled:           n,
		InsufficientCapital: n,
		DualLegHealed:       n,
		LeverageRebalances:  n,
		ResidualSweeps:      n,
		TargetExposure:      g,
		HedgeSize:           g,
		Leverage:            g,
		PendingOrder:        g,
	}
}
