package fleet

import (
	"context"
	"io"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/natsbus"
	"github.com/mtzanidakis/fleetctl/internal/observability"
	"github.com/mtzanidakis/fleetctl/internal/schedule"
	"github.com/mtzanidakis/fleetctl/internal/scheduler"
)

const (
	ReportJobName  = "status_report"
	MetricsJobName = "metrics_refresh"
)

// ReportOutput says where status reports go. Nil fields are skipped.
type ReportOutput struct {
	Writer    io.Writer
	Publisher audit.Publisher
	Metrics   *observability.FleetCollector
}

// ReportJob prints, publishes and measures a status report on sched.
func (f *Fleet) ReportJob(sched *schedule.Schedule, out ReportOutput) scheduler.Job {
	return scheduler.Job{
		Name:     ReportJobName,
		Schedule: sched,
		Run: func(context.Context) error {
			start := time.Now()
			st := f.Stats()
			if out.Writer != nil {
				WriteStatusReport(out.Writer, st)
			}
			if out.Metrics != nil {
				out.Metrics.ReportSeconds.Observe(time.Since(start).Seconds())
				f.updateMetrics(out.Metrics, st)
			}
			if out.Publisher != nil {
				return out.Publisher.PublishJSON(natsbus.TopicEventsReport, audit.Event{
					Type:      "status_report",
					Timestamp: st.Time.UTC().Format(time.RFC3339Nano),
					Data:      map[string]any{"stats": st},
				})
			}
			return nil
		},
	}
}

// MetricsJob refreshes the per-node gauges on sched.
func (f *Fleet) MetricsJob(sched *schedule.Schedule, m *observability.FleetCollector) scheduler.Job {
	return scheduler.Job{
		Name:     MetricsJobName,
		Schedule: sched,
		Run: func(context.Context) error {
			f.updateMetrics(m, f.Stats())
			return nil
		},
	}
}

func (f *Fleet) updateMetrics(m *observability.FleetCollector, st Stats) {
	if m == nil {
		return
	}
	for _, n := range st.System.Nodes {
		m.SetNodeState(observability.NodeState{
			Node:         n.ID,
			Statuses:     n.Statuses,
			IntraPending: n.IntraPending,
			InterPending: n.InterPending,
			LSDBSize:     n.LSDBSize,
		})
	}
	m.StuckInboxes.Set(float64(st.Routing.StuckInboxes))
}
