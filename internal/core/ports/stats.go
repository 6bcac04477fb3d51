package ports

import "confload/internal/core/domain"

// StatsProvider exposes a user's latest stats snapshot. Snapshots must
// be safe to read while the user's own session activity mutates its
// state.
type StatsProvider interface {
	Snapshot() domain.UserStats
}

// StatsSink is the append-only record stream the collector writes
// aggregate, detail and overall records to.
type StatsSink interface {
	Write(record interface{}) error
	Close() error
}

// MetricsRecorder mirrors each poll into an external metrics system.
type MetricsRecorder interface {
	RecordPoll(rec *domain.AggregateStats)
}
