// Package metrics exposes market and API counters to Prometheus.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/events"
)

const namespace = "roundmarket"

// StatusSource is the read side of the market the gauges sample on scrape.
type StatusSource interface {
	Status() market.Status
}

// Metrics holds the Prometheus collectors of one node.
type Metrics struct {
	reg *prometheus.Registry

	EventCounter     *prometheus.CounterVec
	TxCounter        *prometheus.CounterVec
	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	VolumeTotal      prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		EventCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Committed market events by kind",
			},
			[]string{"kind"},
		),
		TxCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Signed transactions by action and outcome",
			},
			[]string{"action", "status"},
		),
		RequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		}),
		VolumeTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_cost_total",
			Help:      "Sum of purchase costs in currency base units",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Publish counts a committed event.
func (m *Metrics) Publish(_ context.Context, ev events.Event) {
	m.EventCounter.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == events.TokenPurchased && ev.Cost != nil {
		m.VolumeTotal.Add(toFloat(ev.Cost, nil))
	}
}

// ObserveTx counts one applied or rejected signed transaction.
func (m *Metrics) ObserveTx(action string, err error) {
	status := "applied"
	if err != nil {
		status = "rejected"
	}
	m.TxCounter.WithLabelValues(action, status).Inc()
}

// WatchMarket registers gauges that read src on every scrape.
func (m *Metrics) WatchMarket(src StatusSource) {
	f := promauto.With(m.reg)
	gauge := func(name, help string, fn func(market.Status) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "round", Name: name, Help: help},
			func() float64 { return fn(src.Status()) })
	}

	gauge("id", "Current round id", func(s market.Status) float64 {
		if s.Current == nil {
			return 0
		}
		return float64(s.Current.ID)
	})
	gauge("kind", "Current round kind (1 sale, 2 trade)", func(s market.Status) float64 {
		if s.Current == nil {
			return 0
		}
		return float64(s.Current.Kind)
	})
	gauge("price", "Current price per whole token", func(s market.Status) float64 {
		if s.Current == nil {
			return 0
		}
		return toFloat(s.Current.Price, nil)
	})
	gauge("tokens_left", "Whole tokens left for sale or held in escrow", func(s market.Status) float64 {
		if s.Current == nil {
			return 0
		}
		return toFloat(s.Current.TokensLeft, s.UnitScale)
	})
	gauge("trade_volume", "Currency volume of the current round", func(s market.Status) float64 {
		if s.Current == nil {
			return 0
		}
		return toFloat(s.Current.TradeVolume, nil)
	})
	gauge("open_orders", "Open orders in the current round", func(s market.Status) float64 {
		return float64(s.OpenOrders)
	})
	gauge("paused", "1 while the market is paused", func(s market.Status) float64 {
		if s.Paused {
			return 1
		}
		return 0
	})
}

// Middleware records count, latency and in-flight requests per mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

// toFloat converts v / scale for display; scale nil means 1.
func toFloat(v, scale *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	d := decimal.NewFromBigInt(v.ToBig(), 0)
	if scale != nil && !scale.IsZero() {
		d = d.Div(decimal.NewFromBigInt(scale.ToBig(), 0))
	}
	return d.InexactFloat64()
}

var _ events.Sink = (*Metrics)(nil)
