package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "abay_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	cycleTotal   *prometheus.CounterVec
	cycleLatency *prometheus.HistogramVec

	fetchFailures   *prometheus.CounterVec
	outliersRemoved *prometheus.CounterVec

	alarmEventsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Safe to call
// more than once; recording helpers are no-ops until Init runs.
func Init() {
	registerOnce.Do(func() {
		cycleTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "job_runs_total",
				Help: "Total scheduled job runs by job and result",
			},
			[]string{"job", "result"},
		)
		cycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		)

		fetchFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_failures_total",
				Help: "Failed data source fetches by point",
			},
			[]string{"point"},
		)
		outliersRemoved = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outliers_removed_total",
				Help: "Samples dropped by the outlier filter by series",
			},
			[]string{"series"},
		)

		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Alarm lifecycle events by trigger and event",
			},
			[]string{"trigger", "event"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Notification deliveries by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			cycleTotal,
			cycleLatency,
			fetchFailures,
			outliersRemoved,
			alarmEventsTotal,
			notificationsTotal,
		)
	})
}

// ObserveJob records a job run.
func ObserveJob(job string, err error, duration time.Duration) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if cycleTotal != nil {
		cycleTotal.WithLabelValues(job, result).Inc()
	}
	if cycleLatency != nil {
		cycleLatency.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// IncFetchFailure counts a failed point fetch.
func IncFetchFailure(point string) {
	if fetchFailures != nil {
		fetchFailures.WithLabelValues(point).Inc()
	}
}

// AddOutliersRemoved counts samples dropped from a series.
func AddOutliersRemoved(series string, n int) {
	if n <= 0 {
		return
	}
	if outliersRemoved != nil {
		outliersRemoved.WithLabelValues(series).Add(float64(n))
	}
}

// IncAlarmEvent counts a raise or retire.
func IncAlarmEvent(trigger, event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(trigger, event).Inc()
	}
}

// AddAlarmEvents counts n events at once.
func AddAlarmEvents(trigger, event string, n int) {
	if n <= 0 {
		return
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(trigger, event).Add(float64(n))
	}
}

// IncNotification counts a delivery attempt.
func IncNotification(err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(result).Inc()
	}
}

// Alarm lifecycle events.
const (
	AlarmRaised  = "raised"
	AlarmRetired = "retired"
)
