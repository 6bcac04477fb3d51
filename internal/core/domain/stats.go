package domain

import "time"

// MediaCounters are the packet/byte counters a media engine exposes.
// Values are cumulative since activation.
type MediaCounters struct {
	PacketsSent     uint64  `json:"packets_sent"`
	PacketsReceived uint64  `json:"packets_received"`
	BytesSent       uint64  `json:"bytes_sent"`
	BytesReceived   uint64  `json:"bytes_received"`
	PacketLoss      float64 `json:"packet_loss"`
}

// UserStats is one virtual user's stats snapshot. Snapshots are
// published whole (pointer swap) so a concurrent reader never observes
// a half-written record.
type UserStats struct {
	Nickname      string        `json:"nickname"`
	State         UserState     `json:"state"`
	Media         MediaCounters `json:"media"`
	FailureReason string        `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SummaryStats are the counts and totals derived from one poll across
// the registered users.
type SummaryStats struct {
	TotalUsers  int `json:"total_users"`
	Connecting  int `json:"connecting"`
	JoinedRoom  int `json:"joined_room"`
	Negotiating int `json:"negotiating"`
	Streaming   int `json:"streaming"`
	Stopped     int `json:"stopped"`
	Failed      int `json:"failed"`
	Absent      int `json:"absent"` // users whose stats were unreadable this poll

	TotalPacketsSent     uint64 `json:"total_packets_sent"`
	TotalPacketsReceived uint64 `json:"total_packets_received"`
	TotalBytesSent       uint64 `json:"total_bytes_sent"`
	TotalBytesReceived   uint64 `json:"total_bytes_received"`
}

// AggregateStats is the record one stats poll produces: the latest
// snapshot per user identity plus the derived summary.
type AggregateStats struct {
	PollSeq   int64                `json:"poll_seq"`
	Timestamp time.Time            `json:"timestamp"`
	Users     map[string]UserStats `json:"users"`
	Summary   SummaryStats         `json:"summary"`
}

// Tally recomputes the summary from the user snapshots.
func (a *AggregateStats) Tally() {
	s := SummaryStats{TotalUsers: len(a.Users)}
	for _, u := range a.Users {
		switch u.State {
		case StateConnecting:
			s.Connecting++
		case StateJoinedRoom:
			s.JoinedRoom++
		case StateNegotiating:
			s.Negotiating++
		case StateStreaming:
			s.Streaming++
		case StateStopped:
			s.Stopped++
		case StateFailed:
			s.Failed++
		}
		s.TotalPacketsSent += u.Media.PacketsSent
		s.TotalPacketsReceived += u.Media.PacketsReceived
		s.TotalBytesSent += u.Media.BytesSent
		s.TotalBytesReceived += u.Media.BytesReceived
	}
	s.Absent = a.Summary.Absent
	a.Summary = s
}

// OverallStats is the end-of-run record: run-wide extremes and means
// across everything the collector saw.
type OverallStats struct {
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	RunDuration   string    `json:"run_duration"`
	Polls         int64     `json:"polls"`
	PeakStreaming int       `json:"peak_streaming"`
	TotalFailed   int       `json:"total_failed"`

	MinBytesSentPerUser  uint64  `json:"min_bytes_sent_per_user"`
	MaxBytesSentPerUser  uint64  `json:"max_bytes_sent_per_user"`
	MeanBytesSentPerUser float64 `json:"mean_bytes_sent_per_user"`

	TotalBytesSent     uint64 `json:"total_bytes_sent"`
	TotalBytesReceived uint64 `json:"total_bytes_received"`
}
