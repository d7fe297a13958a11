package server

import (
	"net/http"

	"vetsmint/internal/chain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry            *prometheus.Registry
	purchasesTotal      *prometheus.CounterVec
	checkoutsTotal      *prometheus.CounterVec
	editionsMinted      *prometheus.CounterVec
	verificationRetries prometheus.Counter
	quotesTotal         *prometheus.CounterVec
}

func newMetricsRegistry() *metricsRegistry {
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetsmint_ledger_purchases_total",
		Help: "Purchase ledger writes by outcome",
	}, []string{"result"})

	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetsmint_checkouts_total",
		Help: "Custodial checkout attempts by outcome",
	}, []string{"result"})

	editions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetsmint_editions_minted_total",
		Help: "Confirmed edition mints",
	}, []string{"chain"})

	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vetsmint_verification_retries_total",
		Help: "Campaign verification retry waits",
	})

	quotes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetsmint_quotes_total",
		Help: "Price quotes by rate source",
	}, []string{"source"})

	r := prometheus.NewRegistry()
	r.MustRegister(purchases, checkouts, editions, retries, quotes)

	return &metricsRegistry{
		registry:            r,
		purchasesTotal:      purchases,
		checkoutsTotal:      checkouts,
		editionsMinted:      editions,
		verificationRetries: retries,
		quotesTotal:         quotes,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incPurchase(result string) {
	m.purchasesTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) incCheckout(result string) {
	m.checkoutsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) addEditions(profile chain.Profile, n int) {
	if n <= 0 {
		return
	}
	m.editionsMinted.WithLabelValues(profile.Key).Add(float64(n))
}

func (m *metricsRegistry) incVerificationRetry() {
	m.verificationRetries.Inc()
}

func (m *metricsRegistry) incQuote(source string) {
	m.quotesTotal.WithLabelValues(source).Inc()
}
