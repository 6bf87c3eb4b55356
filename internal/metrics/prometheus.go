package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "delta_hedger"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry            *prometheus.Registry
	ordersSubmitted     prometheus.Counter
	ordersExecuted      prometheus.Counter
	ordersFailed        prometheus.Counter
	ordersCancelled     prometheus.Counter
	submitErrors        prometheus.Counter
	callbacksIgnored    prometheus.Counter
	throttled           prometheus.Counter
	insufficientCapital prometheus.Counter
	dualLegHealed       prometheus.Counter
	leverageRebalances  prometheus.Counter
	residualSweeps      prometheus.Counter
	targetExposure      prometheus.Gauge
	hedgeSize           prometheus.Gauge
	leverage            prometheus.Gauge
	pendingOrder        prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:            prometheus.NewRegistry(),
		ordersSubmitted:     newCounter("orders_submitted_total", "Total number of hedge orders submitted to the venue."),
		ordersExecuted:      newCounter("orders_executed_total", "Total number of hedge orders reported executed."),
		ordersFailed:        newCounter("orders_failed_total", "Total number of hedge orders reported failed by the venue."),
		ordersCancelled:     newCounter("orders_cancelled_total", "Total number of hedge orders cancelled by an operator."),
		submitErrors:        newCounter("submit_errors_total", "Total number of order submissions rejected by the venue gateway."),
		callbacksIgnored:    newCounter("callbacks_ignored_total", "Total number of execution callbacks ignored for key mismatch."),
		throttled:           newCounter("hedge_throttled_total", "Total number of hedge calls deferred by the interaction delay."),
		insufficientCapital: newCounter("insufficient_capital_total", "Total number of orders skipped because the pool granted no usable capital."),
		dualLegHealed:       newCounter("dual_leg_healed_total", "Total number of dual-leg positions detected and healed."),
		leverageRebalances:  newCounter("leverage_rebalances_total", "Total number of collateral-only rebalance orders submitted."),
		residualSweeps:      newCounter("residual_sweeps_total", "Total number of non-zero residual sweeps back to the pool."),
		targetExposure:      newGauge("target_exposure", "Last capped target exposure in underlying units."),
		hedgeSize:           newGauge("hedge_size", "Last observed signed hedge size in underlying units."),
		leverage:            newGauge("leverage", "Last observed hedge leverage."),
		pendingOrder:        newGauge("pending_order", "1 while an order is in flight, 0 otherwise."),
	}

	p.registry.MustRegister(
		p.ordersSubmitted, p.ordersExecuted, p.ordersFailed, p.ordersCancelled,
		p.submitErrors, p.callbacksIgnored, p.throttled, p.insufficientCapital,
		p.dualLegHealed, p.leverageRebalances, p.residualSweeps,
		p.targetExposure, p.hedgeSize, p.leverage, p.pendingOrder,
	)

	p.Metrics = &Metrics{
		OrdersSubmitted:     promCounter{p.ordersSubmitted},
		OrdersExecuted:      promCounter{p.ordersExecuted},
		OrdersFailed:        promCounter{p.ordersFailed},
		OrdersCancelled:     promCounter{p.ordersCancelled},
		SubmitErrors:        promCounter{p.submitErrors},
		CallbacksIgnored:    promCounter{p.callbacksIgnored},
		Throttled:           promCounter{p.throttled},
		InsufficientCapital: promCounter{p.insufficientCapital},
		DualLegHealed:       promCounter{p.dualLegHealed},
		LeverageRebalances:  promCounter{p.leverageRebalances},
		ResidualSweeps:      promCounter{p.residualSweeps},
		TargetExposure:      promGauge{p.targetExposure},
		HedgeSize:           promGauge{p.hedgeSize},
		Leverage:            promGauge{p.leverage},
		PendingOrder:        promGauge{p.pendingOrder},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
