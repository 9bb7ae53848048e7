package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics содержит метрики операций каталога и escrow-ledger-а.
type LedgerMetrics struct {
	// Счётчики операций каталога
	productsListed      prometheus.Counter
	productsUpdated     prometheus.Counter
	productsDeactivated prometheus.Counter

	// Счётчики переходов заказа
	ordersCreated   prometheus.Counter
	ordersConfirmed prometheus.Counter
	ordersShipped   prometheus.Counter
	ordersDelivered prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersDisputed  prometheus.Counter
	// Разрешённые споры с меткой исхода: buyer / seller.
	disputesResolved *prometheus.CounterVec

	// Отклонённые операции по категории ошибки.
	operationsRejected *prometheus.CounterVec

	// Гистограмма времени выполнения операций.
	operationDuration *prometheus.HistogramVec

	// Gauge текущего escrow-баланса в минимальных единицах.
	escrowedMinor prometheus.Gauge

	// Сертификаты подлинности: выпущенные и неудавшиеся.
	certificatesMinted prometheus.Counter
	certificatesFailed prometheus.Counter
}

// NewLedgerMetrics создаёт метрики на DefaultRegisterer.
func NewLedgerMetrics() *LedgerMetrics {
	return newLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LedgerMetrics{
		productsListed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_products_listed_total",
			Help: "Total number of products listed in the catalog",
		}),
		productsUpdated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_products_updated_total",
			Help: "Total number of product record updates",
		}),
		productsDeactivated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_products_deactivated_total",
			Help: "Total number of products deactivated",
		}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_orders_created_total",
			Help: "Total number of orders created with funds locked in escrow",
		}),
		ordersConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_orders_confirmed_total",
			Help: "Total number of orders confirmed by the seller",
		}),
		ordersShipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_orders_shipped_total",
			Help: "Total number of orders shipped",
		}),
		ordersDelivered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_orders_delivered_total",
			Help: "Total number of orders delivered and settled",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_orders_cancelled_total",
			Help: "Total number of orders cancelled and refunded",
		}),
		ordersDisputed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_orders_disputed_total",
			Help: "Total number of disputes raised",
		}),
		disputesResolved: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farmline_disputes_resolved_total",
			Help: "Total number of disputes resolved grouped by favored party",
		}, []string{"favor"}),
		operationsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farmline_operations_rejected_total",
			Help: "Total number of rejected operations grouped by error kind",
		}, []string{"operation", "reason"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "farmline_operation_duration_seconds",
			Help:    "Duration of ledger and catalog operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"}),
		escrowedMinor: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "farmline_escrowed_minor_units",
			Help: "Current escrow balance in minor currency units",
		}),
		certificatesMinted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_certificates_minted_total",
			Help: "Total number of authenticity certificates minted after delivery",
		}),
		certificatesFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farmline_certificates_failed_total",
			Help: "Total number of failed best-effort certificate mints",
		}),
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

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordProductListed увеличивает счётчик опубликованных товаров.
func (m *LedgerMetrics) RecordProductListed() {
	m.productsListed.Inc()
}

// RecordProductUpdated увеличивает счётчик обновлений товара.
func (m *LedgerMetrics) RecordProductUpdated() {
	m.productsUpdated.Inc()
}

// RecordProductDeactivated увеличивает счётчик деактиваций.
func (m *LedgerMetrics) RecordProductDeactivated() {
	m.productsDeactivated.Inc()
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *LedgerMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderConfirmed увеличивает счётчик подтверждённых заказов.
func (m *LedgerMetrics) RecordOrderConfirmed() {
	m.ordersConfirmed.Inc()
}

// RecordOrderShipped увеличивает счётчик отгруженных заказов.
func (m *LedgerMetrics) RecordOrderShipped() {
	m.ordersShipped.Inc()
}

// RecordOrderDelivered увеличивает счётчик доставленных заказов.
func (m *LedgerMetrics) RecordOrderDelivered() {
	m.ordersDelivered.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *LedgerMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordOrderDisputed увеличивает счётчик открытых споров.
func (m *LedgerMetrics) RecordOrderDisputed() {
	m.ordersDisputed.Inc()
}

// RecordDisputeResolved увеличивает счётчик разрешённых споров.
func (m *LedgerMetrics) RecordDisputeResolved(favorBuyer bool) {
	favor := "seller"
	if favorBuyer {
		favor = "buyer"
	}
	m.disputesResolved.WithLabelValues(favor).Inc()
}

// RecordRejected фиксирует отклонённую операцию.
func (m *LedgerMetrics) RecordRejected(operation, reason string) {
	m.operationsRejected.WithLabelValues(operation, reason).Inc()
}

// RecordOperationDuration записывает время выполнения операции.
func (m *LedgerMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetEscrowedMinor обновляет gauge escrow-баланса.
func (m *LedgerMetrics) SetEscrowedMinor(amountMinor int64) {
	m.escrowedMinor.Set(float64(amountMinor))
}

// RecordCertificateMinted увеличивает счётчик выпущенных сертификатов.
func (m *LedgerMetrics) RecordCertificateMinted() {
	m.certificatesMinted.Inc()
}

// RecordCertificateFailed увеличивает счётчик неудачных выпусков.
func (m *LedgerMetrics) RecordCertificateFailed() {
	m.certificatesFailed.Inc()
}
