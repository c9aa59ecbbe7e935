// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cmmsd/internal/eventbus"
	"cmmsd/internal/notifier"
	"cmmsd/internal/recurrence"
)

const namespace = "cmmsd"

type Metrics struct {
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	CycleRunning      prometheus.Gauge
	LastCycleTime     prometheus.Gauge
	SchedulesDue      prometheus.Gauge
	SchedulesMalform  prometheus.Gauge
	GeneratedTotal    prometheus.Counter
	RemindersTotal    *prometheus.CounterVec
	NotificationTotal *prometheus.CounterVec
	NotifyAttempts    *prometheus.HistogramVec
}

// New registers all collectors on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Maintenance cycles by trigger and result.",
		}, []string{"trigger", "result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Duration of maintenance cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}),
		CycleRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "running",
			Help:      "1 while a cycle is in progress.",
		}),
		LastCycleTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "last_finished_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
		SchedulesDue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "schedules_due",
			Help:      "Schedules found due by the last cycle.",
		}),
		SchedulesMalform: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "schedules_malformed",
			Help:      "Schedules skipped as malformed by the last cycle.",
		}),
		GeneratedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workorder",
			Name:      "generated_total",
			Help:      "Work order instances generated from schedules.",
		}),
		RemindersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workorder",
			Name:      "reminders_total",
			Help:      "Due-date reminders by result.",
		}, []string{"result"}),
		NotificationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		NotifyAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "attempts",
			Help:      "Attempts needed per delivery.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"channel"}),
	}
}

// RegisterBusDrops exposes the bus drop counter on reg.
func RegisterBusDrops(reg prometheus.Registerer, bus eventbus.Bus) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "dropped",
		Help:      "Events lost to full buffers of the current subscribers.",
	}, func() float64 { return float64(eventbus.Dropped(bus)) })
}

// Observe updates collectors from one bus event. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case recurrence.EventCycleStarted:
		m.CycleRunning.Set(1)
	case recurrence.EventCycleFinished:
		rep, ok := e.Data.(recurrence.Report)
		if !ok {
			return
		}
		m.CycleRunning.Set(0)
		m.CyclesTotal.WithLabelValues(rep.Trigger, result(rep)).Inc()
		if rep.SkippedLocked {
			return
		}
		m.CycleDuration.Observe(rep.Took.Seconds())
		m.LastCycleTime.Set(float64(e.Time.Unix()))
		m.SchedulesDue.Set(float64(rep.Due))
		m.SchedulesMalform.Set(float64(rep.Malformed))
	case recurrence.EventGenerated:
		m.GeneratedTotal.Inc()
	case recurrence.EventReminderSent:
		m.RemindersTotal.WithLabelValues("sent").Inc()
	case recurrence.EventReminderFailed:
		m.RemindersTotal.WithLabelValues("failed").Inc()
	case notifier.EventSent, notifier.EventFailed:
		ev, ok := e.Data.(notifier.NotificationEvent)
		if !ok {
			return
		}
		ch := ev.Channel
		if ch == "" {
			ch = "unrouted"
		}
		res := "sent"
		if e.Type == notifier.EventFailed {
			res = "failed"
		}
		m.NotificationTotal.WithLabelValues(ch, res).Inc()
		if ev.Attempts > 0 {
			m.NotifyAttempts.WithLabelValues(ch).Observe(float64(ev.Attempts))
		}
	}
}

func result(rep recurrence.Report) string {
	switch {
	case rep.SkippedLocked:
		return "locked"
	case rep.OK():
		return "ok"
	default:
		return "failed"
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256, "cycle.", "workorder.", "reminder.", "notifier.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
