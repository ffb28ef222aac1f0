package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "bfx_trade_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry            *prometheus.Registry
	ordersPlaced        prometheus.Counter
	ordersFailed        prometheus.Counter
	ordersExecuted      prometheus.Counter
	ordersCancelled     prometheus.Counter
	cancelFailed        prometheus.Counter
	insufficientBalance prometheus.Counter
	statusGaveUp        prometheus.Counter
	rateLimited         prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	ordersExecuted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_executed_total",
		Help:      "Total number of watched orders seen executed.",
	})
	ordersCancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_cancelled_total",
		Help:      "Total number of watched orders seen cancelled.",
	})
	cancelFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cancel_failed_total",
		Help:      "Total number of cancels that exhausted their retries.",
	})
	insufficientBalance := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "insufficient_balance_total",
		Help:      "Total number of order legs skipped for lack of balance.",
	})
	statusGaveUp := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "status_lookup_gave_up_total",
		Help:      "Total number of order status lookups abandoned after retries.",
	})
	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "rate_limited_total",
		Help:      "Total number of rate limit cooldowns.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, ordersExecuted, ordersCancelled, cancelFailed, insufficientBalance, statusGaveUp, rateLimited)

	m := &Metrics{
		OrdersPlaced:        promCounter{ordersPlaced},
		OrdersFailed:        promCounter{ordersFailed},
		OrdersExecuted:      promCounter{ordersExecuted},
		OrdersCancelled:     promCounter{ordersCancelled},
		CancelFailed:        promCounter{cancelFailed},
		InsufficientBalance: promCounter{insufficientBalance},
		StatusLookupGaveUp:  promCounter{statusGaveUp},
		RateLimited:         promCounter{rateLimited},
	}

	return &Prometheus{
		Metrics:             m,
		registry:            registry,
		ordersPlaced:        ordersPlaced,
		ordersFailed:        ordersFailed,
		ordersExecuted:      ordersExecuted,
		ordersCancelled:     ordersCancelled,
		cancelFailed:        cancelFailed,
		insufficientBalance: insufficientBalance,
		statusGaveUp:        statusGaveUp,
		rateLimited:         rateLimited,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
