// Package metrics собирает Prometheus метрики сервера и отдает их на /metrics
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Значения меток
const (
	RateLimitUser = "user"
	RateLimitIP   = "ip"

	TokenAccess  = "access"
	TokenRefresh = "refresh"

	RefreshRotated  = "rotated"
	RefreshReused   = "reused"
	RefreshNotFound = "not_found"
	RefreshRejected = "revoked_or_expired"
)

// Recorder интерфейс записи метрик для middleware и handlers
type Recorder interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestDuration(duration time.Duration)
	RecordRateLimited(kind string)
	RecordAuthFailure(reason string)
	RecordTokenIssued(tokenType string)
	RecordRefresh(outcome string)
}

// Collector реализация Recorder поверх Prometheus
type Collector struct {
	httpRequests    *prometheus.CounterVec
	requestDuration prometheus.Histogram
	rateLimited     *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	tokensIssued    *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
}

// NewCollector создает Collector и регистрирует метрики в reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_requests_total",
			Help: "HTTP responses by status code",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_rate_limited_total",
			Help: "Requests rejected by the rate limiter by key kind",
		}, []string{"kind"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_auth_failures_total",
			Help: "Authentication failures by reason",
		}, []string{"reason"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "Issued tokens by type",
		}, []string{"type"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_refresh_total",
			Help: "Refresh token exchanges by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.requestDuration,
		c.rateLimited,
		c.authFailures,
		c.tokensIssued,
		c.refreshes,
	)

	return c
}

// RecordHTTPStatus записывает статус ответа
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration записывает длительность запроса
func (c *Collector) RecordRequestDuration(duration time.Duration) {
	c.requestDuration.Observe(duration.Seconds())
}

// RecordRateLimited записывает отказ rate limiter
func (c *Collector) RecordRateLimited(kind string) {
	c.rateLimited.WithLabelValues(kind).Inc()
}

// RecordAuthFailure записывает неудачную аутентификацию
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordTokenIssued записывает выдачу токена
func (c *Collector) RecordTokenIssued(tokenType string) {
	c.tokensIssued.WithLabelValues(tokenType).Inc()
}

// RecordRefresh записывает результат обмена refresh token
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// Handler возвращает HTTP handler для Prometheus scrape
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute возвращает mux с единственным маршрутом /metrics
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop ничего не записывает
type Nop struct{}

func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordRequestDuration(time.Duration) {}
func (Nop) RecordRateLimited(string)            {}
func (Nop) RecordAuthFailure(string)            {}
func (Nop) RecordTokenIssued(string)            {}
func (Nop) RecordRefresh(string)                {}
