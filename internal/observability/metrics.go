package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tibber-pricing/internal/fetcher"
	"tibber-pricing/internal/sensor"
)

const (
	metricPrefix  = "tibber_pricing_"
	resultSuccess = "success"
)

var (
	registerOnce sync.Once

	fetchTotal     *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	throttledTotal *prometheus.CounterVec
	sensorValue    *prometheus.GaugeVec
	sensorUp       *prometheus.GaugeVec
	publishTotal   *prometheus.CounterVec
)

// Init registers the metrics with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		fetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_total",
				Help: "Price overview fetch attempts by postal code and result",
			},
			[]string{"postal_code", "result"},
		)
		fetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "fetch_latency_seconds",
				Help:    "Price overview fetch latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"result"},
		)
		throttledTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "throttled_total",
				Help: "Refresh calls answered from cache inside the refresh window",
			},
			[]string{"postal_code"},
		)
		sensorValue = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensor_value",
				Help: "Published sensor value; prices in EUR/kWh, hours as unix seconds",
			},
			[]string{"entry", "sensor"},
		)
		sensorUp = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensor_available",
				Help: "1 when the sensor has a value, 0 when unknown",
			},
			[]string{"entry", "sensor"},
		)
		publishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_total",
				Help: "Sensor publish rounds by entry and result",
			},
			[]string{"entry", "result"},
		)

		prometheus.MustRegister(fetchTotal, fetchLatency, throttledTotal, sensorValue, sensorUp, publishTotal)
	})
}

func resultLabel(kind fetcher.Kind) string {
	if kind == "" {
		return resultSuccess
	}
	return string(kind)
}

// FeedObserver reports feed activity to Prometheus.
type FeedObserver struct{}

// ObserveFetch records one fetch attempt.
func (FeedObserver) ObserveFetch(postalCode string, kind fetcher.Kind, duration time.Duration) {
	result := resultLabel(kind)
	if fetchTotal != nil {
		fetchTotal.WithLabelValues(postalCode, result).Inc()
	}
	if fetchLatency != nil {
		fetchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveThrottled records a refresh served from cache.
func (FeedObserver) ObserveThrottled(postalCode string) {
	if throttledTotal != nil {
		throttledTotal.WithLabelValues(postalCode).Inc()
	}
}

// ObservePublish records a publish round.
func ObservePublish(entry string, err error) {
	result := resultSuccess
	if err != nil {
		result = "error"
	}
	if publishTotal != nil {
		publishTotal.WithLabelValues(entry, result).Inc()
	}
}

// SetReadings mirrors the readings into gauges.
func SetReadings(readings []sensor.Reading) {
	if sensorValue == nil || sensorUp == nil {
		return
	}
	for _, r := range readings {
		if !r.Available {
			sensorUp.WithLabelValues(r.Entry, r.Key).Set(0)
			continue
		}
		value, ok := gaugeValue(r)
		if !ok {
			sensorUp.WithLabelValues(r.Entry, r.Key).Set(0)
			continue
		}
		sensorValue.WithLabelValues(r.Entry, r.Key).Set(value)
		sensorUp.WithLabelValues(r.Entry, r.Key).Set(1)
	}
}

func gaugeValue(r sensor.Reading) (float64, bool) {
	if r.DeviceClass == sensor.DeviceClassTimestamp {
		t, err := time.Parse(time.RFC3339, r.State)
		if err != nil {
			return 0, false
		}
		return float64(t.Unix()), true
	}
	return sensor.StateFloat(r)
}
