package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 业务指标。调用 InitMetrics 后才可使用。
var (
	RegistrationsTotal *prometheus.CounterVec
	LoginsTotal        *prometheus.CounterVec
	NewsViewsTotal     prometheus.Counter
	EmailsQueuedTotal  prometheus.Counter
	EmailsFailedTotal  prometheus.Counter
	RateLimitRejected  prometheus.Counter
	RateLimitWait      prometheus.Histogram
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标（幂等）。
func InitMetrics() {
	initOnce.Do(func() {
		RegistrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotnews_registrations_total",
			Help: "Total registration attempts by result.",
		}, []string{"result"})

		LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotnews_logins_total",
			Help: "Total login attempts by result.",
		}, []string{"result"})

		NewsViewsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotnews_news_views_total",
			Help: "Total news detail reads.",
		})

		EmailsQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotnews_emails_queued_total",
			Help: "Total notification emails enqueued.",
		})

		EmailsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotnews_emails_failed_total",
			Help: "Total notification emails that failed to send.",
		})

		RateLimitRejected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotnews_ratelimit_rejected_total",
			Help: "Total requests rejected by the auth rate limiter.",
		})

		RateLimitWait = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shotnews_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate limit token.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			RegistrationsTotal,
			LoginsTotal,
			NewsViewsTotal,
			EmailsQueuedTotal,
			EmailsFailedTotal,
			RateLimitRejected,
			RateLimitWait,
		)
	})
}
