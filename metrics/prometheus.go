package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Margin core metrics collector

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all margin-core metrics
type Collector struct {
	// Oracle metrics
	StalePriceRejections *prometheus.CounterVec
	AttestationsAccepted *prometheus.CounterVec

	// Solvency metrics
	SolvencyChecksTotal *prometheus.CounterVec
	AssertionLatency    *prometheus.HistogramVec

	// Liquidation metrics
	LiquidationsTotal   *prometheus.CounterVec
	PositionsLiquidated *prometheus.CounterVec
	UnrecoveredDebt     *prometheus.CounterVec

	// Vault metrics
	VaultCoinBalance *prometheus.GaugeVec
	VaultSharePrice  *prometheus.GaugeVec

	// System metrics
	BlockHeight prometheus.Gauge
}

// GetCollector returns the singleton metrics collector
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

// newCollector creates a new metrics collector
func newCollector() *Collector {
	c := &Collector{}

	c.StalePriceRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "margincore",
			Subsystem: "oracle",
			Name:      "stale_price_rejections_total",
			Help:      "Price attestations rejected for exceeding max age",
		},
		[]string{"program_id", "token_key"},
	)

	c.AttestationsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "margincore",
			Subsystem: "oracle",
			Name:      "attestations_accepted_total",
			Help:      "Price attestations accepted into value assertions",
		},
		[]string{"program_id", "token_key"},
	)

	c.SolvencyChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "margincore",
			Subsystem: "solvency",
			Name:      "checks_total",
			Help:      "Solvency evaluations by result",
		},
		[]string{"program_id", "result"},
	)

	c.AssertionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "margincore",
			Subsystem: "solvency",
			Name:      "assertion_latency_ms",
			Help:      "Time from assertion start to finalize in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"program_id", "kind"},
	)

	c.LiquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "margincore",
			Subsystem: "liquidation",
			Name:      "total",
			Help:      "Completed liquidations",
		},
		[]string{"program_id"},
	)

	c.PositionsLiquidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "margincore",
			Subsystem: "liquidation",
			Name:      "positions_closed_total",
			Help:      "Positions closed by liquidation",
		},
		[]string{"program_id"},
	)

	c.UnrecoveredDebt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "margincore",
			Subsystem: "liquidation",
			Name:      "unrecovered_debt_total",
			Help:      "Bad debt left after collateral and vault socialization",
		},
		[]string{"program_id"},
	)

	c.VaultCoinBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "margincore",
			Subsystem: "vault",
			Name:      "coin_balance",
			Help:      "Vault coin balance",
		},
		[]string{"vault_id"},
	)

	c.VaultSharePrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "margincore",
			Subsystem: "vault",
			Name:      "share_price",
			Help:      "Vault coin balance per LP token",
		},
		[]string{"vault_id"},
	)

	c.BlockHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "margincore",
			Subsystem: "system",
			Name:      "block_height",
			Help:      "Current block height",
		},
	)

	c.registerAll()
	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(
		c.StalePriceRejections,
		c.AttestationsAccepted,
		c.SolvencyChecksTotal,
		c.AssertionLatency,
		c.LiquidationsTotal,
		c.PositionsLiquidated,
		c.UnrecoveredDebt,
		c.VaultCoinBalance,
		c.VaultSharePrice,
		c.BlockHeight,
	)
}

// RecordStalePriceRejection counts a rejected attestation
func (c *Collector) RecordStalePriceRejection(programID, tokenKey string) {
	c.StalePriceRejections.WithLabelValues(programID, tokenKey).Inc()
}

// RecordAttestation counts an accepted attestation
func (c *Collector) RecordAttestation(programID, tokenKey string) {
	c.AttestationsAccepted.WithLabelValues(programID, tokenKey).Inc()
}

// RecordSolvencyCheck counts one solvency evaluation
func (c *Collector) RecordSolvencyCheck(programID string, liquidatable bool) {
	result := "solvent"
	if liquidatable {
		result = "liquidatable"
	}
	c.SolvencyChecksTotal.WithLabelValues(programID, result).Inc()
}

// RecordAssertionLatency records time from assertion start to finalize
func (c *Collector) RecordAssertionLatency(programID, kind string, latencyMs float64) {
	c.AssertionLatency.WithLabelValues(programID, kind).Observe(latencyMs)
}

// RecordLiquidation records a completed liquidation
func (c *Collector) RecordLiquidation(programID string, positionsClosed int, unrecoveredDebt float64) {
	c.LiquidationsTotal.WithLabelValues(programID).Inc()
	c.PositionsLiquidated.WithLabelValues(programID).Add(float64(positionsClosed))
	if unrecoveredDebt > 0 {
		c.UnrecoveredDebt.WithLabelValues(programID).Add(unrecoveredDebt)
	}
}

// RecordVaultState updates the vault gauges
func (c *Collector) RecordVaultState(vaultID string, coinBalance, sharePrice float64) {
	c.VaultCoinBalance.WithLabelValues(vaultID).Set(coinBalance)
	c.VaultSharePrice.WithLabelValues(vaultID).Set(sharePrice)
}

// UpdateBlockHeight sets the current height
func (c *Collector) UpdateBlockHeight(height int64) {
	c.BlockHeight.Set(float64(height))
}

// Handler returns the HTTP handler for the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
