package metrics

import (
	"context"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type BridgeMetrics struct {
	instructions  *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	approvedStake *prometheus.HistogramVec
	nextNonce     *prometheus.GaugeVec
	settled       *prometheus.CounterVec
	malformedSigs prometheus.Counter
	paused        prometheus.Gauge

	// OTLP mirrors of the outcome counters, exported when telemetry is on.
	otelInstructions metric.Int64Counter
	otelSettled      metric.Int64Counter
}

var (
	bridgeOnce     sync.Once
	bridgeRegistry *BridgeMetrics
)

// Bridge returns the lazily registered bridge collectors.
func Bridge() *BridgeMetrics {
	bridgeOnce.Do(func() {
		bridgeRegistry = &BridgeMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "bridge",
				Name:      "instructions_total",
				Help:      "Bridge instructions processed by message type and outcome.",
			}, []string{"type", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "bridge",
				Name:      "rejections_total",
				Help:      "Rejected bridge instructions by message type and failure kind.",
			}, []string{"type", "kind"}),
			approvedStake: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "bridge",
				Name:      "approved_stake_bps",
				Help:      "Approving stake, in basis points, counted per verified batch.",
				Buckets:   []float64{500, 1000, 2500, 5000, 5001, 6667, 7500, 9000, 10000},
			}, []string{"type"}),
			nextNonce: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "bridge",
				Name:      "next_nonce",
				Help:      "Next nonce expected per message type.",
			}, []string{"type"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "bridge",
				Name:      "settled_volume_total",
				Help:      "Settled transfer volume per asset, in foreign units.",
			}, []string{"asset"}),
			malformedSigs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "bridge",
				Name:      "malformed_signatures_total",
				Help:      "Signatures skipped because they could not be recovered.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "bridge",
				Name:      "paused",
				Help:      "1 while the bridge is frozen.",
			}),
		}
		prometheus.MustRegister(
			bridgeRegistry.instructions,
			bridgeRegistry.rejections,
			bridgeRegistry.approvedStake,
			bridgeRegistry.nextNonce,
			bridgeRegistry.settled,
			bridgeRegistry.malformedSigs,
			bridgeRegistry.paused,
		)
		bridgeRegistry.initMeter()
	})
	return bridgeRegistry
}

func (m *BridgeMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("nhbbridge/bridge")
	instructions, err := meter.Int64Counter("nhb.bridge.instructions")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("nhbbridge/bridge")
		instructions, _ = meter.Int64Counter("nhb.bridge.instructions")
	}
	settled, err := meter.Int64Counter("nhb.bridge.settled_volume")
	if err != nil {
		settled, _ = noop.NewMeterProvider().Meter("nhbbridge/bridge").Int64Counter("nhb.bridge.settled_volume")
	}
	m.otelInstructions = instructions
	m.otelSettled = settled
}

func (m *BridgeMetrics) ObserveAccepted(msgType string, approved uint64, malformed int) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(msgType, "settled").Inc()
	m.otelInstructions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", msgType), attribute.String("outcome", "settled")))
	m.approvedStake.WithLabelValues(msgType).Observe(float64(approved))
	if malformed > 0 {
		m.malformedSigs.Add(float64(malformed))
	}
}

func (m *BridgeMetrics) ObserveRejected(msgType, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.instructions.WithLabelValues(msgType, "rejected").Inc()
	m.rejections.WithLabelValues(msgType, kind).Inc()
	m.otelInstructions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", msgType), attribute.String("outcome", "rejected"), attribute.String("kind", kind)))
}

func (m *BridgeMetrics) SetNextNonce(msgType string, next uint64) {
	if m == nil {
		return
	}
	m.nextNonce.WithLabelValues(msgType).Set(float64(next))
}

func (m *BridgeMetrics) AddSettled(assetID uint8, amount uint64) {
	if m == nil {
		return
	}
	asset := strconv.FormatUint(uint64(assetID), 10)
	m.settled.WithLabelValues(asset).Add(float64(amount))
	if amount <= uint64(1<<63-1) {
		m.otelSettled.Add(context.Background(), int64(amount), metric.WithAttributes(attribute.String("asset", asset)))
	}
}

func (m *BridgeMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}
