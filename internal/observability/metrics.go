package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	idempotencyCounter     *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
	batchRunCounter        *prometheus.CounterVec
	batchRecordCounter     *prometheus.CounterVec
	transitionCounter      *prometheus.CounterVec
	ledgerAvailableGauge   prometheus.Gauge
	gatewayDuration        *prometheus.HistogramVec
	webhookEventCounter    *prometheus.CounterVec
	ledgerImbalanceCounter *prometheus.CounterVec
	panicCounter           *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		batchRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_batch_runs_total",
			Help: "Payout batch runs by result",
		}, []string{"result"})

		batchRecordCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_batch_records_total",
			Help: "Payout records handled by batch runs",
		}, []string{"outcome"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_transitions_total",
			Help: "Payout status transitions",
		}, []string{"from", "to"})

		ledgerAvailableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_ledger_available_minor",
			Help: "Last observed available ledger balance in minor units",
		})

		gatewayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payout_gateway_call_duration_seconds",
			Help:    "Transfer gateway call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"})

		webhookEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_webhook_events_total",
			Help: "Transfer webhook events by kind and result",
		}, []string{"kind", "result"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_ledger_imbalance_total",
			Help: "Ledger integrity checks that found a discrepancy",
		}, []string{"check"})

		panicCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_http_panics_total",
			Help: "Recovered handler panics by route",
		}, []string{"path"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			workerRunCounter,
			batchRunCounter,
			batchRecordCounter,
			transitionCounter,
			ledgerAvailableGauge,
			gatewayDuration,
			webhookEventCounter,
			ledgerImbalanceCounter,
			panicCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

// ObserveBatch records one batch run and its per-record outcomes.
func ObserveBatch(result string, processed, skipped, failed int) {
	if batchRunCounter == nil {
		return
	}
	batchRunCounter.WithLabelValues(result).Inc()
	batchRecordCounter.WithLabelValues("processed").Add(float64(processed))
	batchRecordCounter.WithLabelValues("skipped").Add(float64(skipped))
	batchRecordCounter.WithLabelValues("failed").Add(float64(failed))
}

func IncrementTransition(from, to string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(from, to).Inc()
}

func SetLedgerAvailable(amount int64) {
	if ledgerAvailableGauge == nil {
		return
	}
	ledgerAvailableGauge.Set(float64(amount))
}

func ObserveGatewayCall(operation string, err error, duration time.Duration) {
	if gatewayDuration == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

func IncrementWebhookEvent(kind, result string) {
	if webhookEventCounter == nil {
		return
	}
	webhookEventCounter.WithLabelValues(kind, result).Inc()
}

func IncrementLedgerImbalance(check string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(check).Inc()
}

func IncrementPanic(path string) {
	if panicCounter == nil {
		return
	}
	panicCounter.WithLabelValues(path).Inc()
}
