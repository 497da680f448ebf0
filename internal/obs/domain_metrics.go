package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ContributionUpsertTotal counts contribution upserts by outcome.
	ContributionUpsertTotal *prometheus.CounterVec
	// BatchFinalizedTotal counts finalized batches by whether a tier discount was reached.
	BatchFinalizedTotal *prometheus.CounterVec
	// BatchSettledQuantity records the committed quantity of finalized batches.
	BatchSettledQuantity prometheus.Histogram
	// BatchDiscountPercent records the discount locked in at finalization.
	BatchDiscountPercent prometheus.Histogram
	// ArchiveFailuresTotal counts settlements that could not be handed to the archive.
	ArchiveFailuresTotal prometheus.Counter
	// SequencingErrorsTotal counts caller sequencing errors by code.
	SequencingErrorsTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal counts outbound event webhooks by result.
	WebhookDeliveriesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ContributionUpsertTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groupbuy_contribution_upserts_total",
			Help:      "Count of contribution upserts by outcome.",
		}, []string{"result"})
		BatchFinalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groupbuy_batches_finalized_total",
			Help:      "Count of finalized batches by discount outcome.",
		}, []string{"discount"})
		BatchSettledQuantity = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "groupbuy_batch_settled_quantity",
			Help:      "Committed quantity of finalized batches.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		})
		BatchDiscountPercent = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "groupbuy_batch_discount_percent",
			Help:      "Discount percentage locked in at finalization.",
			Buckets:   []float64{0, 5, 10, 15, 20, 30, 40, 50},
		})
		ArchiveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groupbuy_archive_failures_total",
			Help:      "Number of settlements that could not be archived.",
		})
		SequencingErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groupbuy_sequencing_errors_total",
			Help:      "Caller sequencing errors such as unknown products or closed batches.",
		}, []string{"code"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groupbuy_webhook_deliveries_total",
			Help:      "Outbound event webhook deliveries by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, ContributionUpsertTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ContributionUpsertTotal = v
			}
		})
		mustRegisterCollector(reg, BatchFinalizedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BatchFinalizedTotal = v
			}
		})
		mustRegisterCollector(reg, BatchSettledQuantity, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				BatchSettledQuantity = v
			}
		})
		mustRegisterCollector(reg, BatchDiscountPercent, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				BatchDiscountPercent = v
			}
		})
		mustRegisterCollector(reg, ArchiveFailuresTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ArchiveFailuresTotal = v
			}
		})
		mustRegisterCollector(reg, SequencingErrorsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SequencingErrorsTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookDeliveriesTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
