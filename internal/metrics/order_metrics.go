package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики саги создания/отмены заказа и удалённых вызовов.
type OrderMetrics struct {
	// Счётчики операций
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersCompleted prometheus.Counter

	// Сбои резервирования и компенсаций
	reservationFailures  prometheus.Counter
	compensationFailures prometheus.Counter

	// Гистограмма времени создания заказа
	createDuration prometheus.Histogram

	// Переходы circuit breaker по зависимостям
	breakerTransitions *prometheus.CounterVec
}

// NewOrderMetrics создаёт новый экземпляр метрик. Повторная регистрация
// коллекторов безопасна: возвращается уже зарегистрированный экземпляр.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders successfully created",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		ordersCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_completed_total",
			Help: "Total number of orders completed",
		}),
		reservationFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_reservation_failures_total",
			Help: "Total number of failed stock reservation sweeps",
		}),
		compensationFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_compensation_failures_total",
			Help: "Total number of stock release calls that failed and need reconciliation",
		}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orders_create_duration_seconds",
			Help:    "Duration of order creation sagas in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		breakerTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_breaker_transitions_total",
			Help: "Circuit breaker state transitions per remote dependency",
		}, []string{"dependency", "state"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordOrderCompleted увеличивает счётчик исполненных заказов.
func (m *OrderMetrics) RecordOrderCompleted() {
	m.ordersCompleted.Inc()
}

// RecordReservationFailure увеличивает счётчик неудачных резервирований.
func (m *OrderMetrics) RecordReservationFailure() {
	m.reservationFailures.Inc()
}

// RecordCompensationFailure фиксирует неуспешный release, требующий сверки остатков.
func (m *OrderMetrics) RecordCompensationFailure() {
	m.compensationFailures.Inc()
}

// RecordCreateDuration записывает время выполнения саги создания заказа.
func (m *OrderMetrics) RecordCreateDuration(duration time.Duration) {
	m.createDuration.Observe(duration.Seconds())
}

// RecordBreakerTransition фиксирует переход circuit breaker зависимости.
func (m *OrderMetrics) RecordBreakerTransition(dependency, state string) {
	m.breakerTransitions.WithLabelValues(dependency, state).Inc()
}
