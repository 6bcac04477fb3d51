package monitoring

import (
	"confload/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsRecorder by mirroring
// every stats poll into prometheus metrics.
type PrometheusCollector struct {
	usersTarget  prometheus.Gauge
	usersByState *prometheus.GaugeVec
	usersAbsent  prometheus.Gauge
	pollsTotal   prometheus.Counter

	bytesSent       prometheus.Gauge
	bytesReceived   prometheus.Gauge
	packetsSent     prometheus.Gauge
	packetsReceived prometheus.Gauge
}

// NewPrometheusCollector registers the fleet metrics. A nil registerer
// uses the process-default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		usersTarget: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confload_users_target",
			Help: "Number of virtual users the fleet was built with",
		}),

		usersByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confload_users_by_state",
			Help: "Number of virtual users per lifecycle state",
		}, []string{"state"}),

		usersAbsent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confload_users_absent",
			Help: "Users whose stats were unreadable in the last poll",
		}),

		pollsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "confload_stats_polls_total",
			Help: "Total number of stats polls performed",
		}),

		bytesSent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confload_fleet_bytes_sent",
			Help: "Cumulative bytes sent across the fleet",
		}),

		bytesReceived: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confload_fleet_bytes_received",
			Help: "Cumulative bytes received across the fleet",
		}),

		packetsSent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confload_fleet_packets_sent",
			Help: "Cumulative packets sent across the fleet",
		}),

		packetsReceived: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confload_fleet_packets_received",
			Help: "Cumulative packets received across the fleet",
		}),
	}
}

// RecordPoll implements ports.MetricsRecorder.
func (p *PrometheusCollector) RecordPoll(agg *domain.AggregateStats) {
	s := agg.Summary

	p.usersTarget.Set(float64(s.TotalUsers))
	p.usersByState.WithLabelValues(domain.StateConnecting.String()).Set(float64(s.Connecting))
	p.usersByState.WithLabelValues(domain.StateJoinedRoom.String()).Set(float64(s.JoinedRoom))
	p.usersByState.WithLabelValues(domain.StateNegotiating.String()).Set(float64(s.Negotiating))
	p.usersByState.WithLabelValues(domain.StateStreaming.String()).Set(float64(s.Streaming))
	p.usersByState.WithLabelValues(domain.StateStopped.String()).Set(float64(s.Stopped))
	p.usersByState.WithLabelValues(domain.StateFailed.String()).Set(float64(s.Failed))
	p.usersAbsent.Set(float64(s.Absent))

	p.bytesSent.Set(float64(s.TotalBytesSent))
	p.bytesReceived.Set(float64(s.TotalBytesReceived))
	p.packetsSent.Set(float64(s.TotalPacketsSent))
	p.packetsReceived.Set(float64(s.TotalPacketsReceived))

	p.pollsTotal.Inc()
}
