package services

import (
	"sync"
	"sync/atomic"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"
	"confload/pkg/utils"

	"go.uber.org/zap"
)

// StatsConfig selects what the collector emits and how often it polls.
// The flags toggle independently.
type StatsConfig struct {
	Overall      bool
	AllStats     bool
	Summary      bool
	PollInterval time.Duration
}

// detailRecord is the per-poll full detail line written when AllStats
// is enabled.
type detailRecord struct {
	Type      string                      `json:"type"`
	PollSeq   int64                       `json:"poll_seq"`
	Timestamp time.Time                   `json:"timestamp"`
	Users     map[string]domain.UserStats `json:"users"`
}

// summaryRecord is the per-poll summary line written when Summary is
// enabled.
type summaryRecord struct {
	Type      string              `json:"type"`
	PollSeq   int64               `json:"poll_seq"`
	Timestamp time.Time           `json:"timestamp"`
	Summary   domain.SummaryStats `json:"summary"`
}

// overallRecord is the single end-of-run line written at stop when
// Overall is enabled.
type overallRecord struct {
	Type    string              `json:"type"`
	Overall domain.OverallStats `json:"overall"`
}

// StatsCollector periodically snapshots all registered users into an
// aggregate and streams records to the output sink. It runs on its own
// schedule and never blocks the orchestrator's ramp-up.
type StatsCollector struct {
	sink     ports.StatsSink
	recorder ports.MetricsRecorder // optional

	mu        sync.Mutex
	providers []ports.StatsProvider

	cfg     StatsConfig
	pollSeq atomic.Int64
	latest  atomic.Pointer[domain.AggregateStats]

	// overall accumulation
	startedAt     time.Time
	peakStreaming int
	totalFailed   int

	done     chan struct{}
	wg       sync.WaitGroup
	running  bool
	stopOnce sync.Once

	logger *zap.SugaredLogger
}

// NewStatsCollector wires the collector to an already-open sink. The
// caller opens the sink first so an unopenable sink fails the run
// before any user starts.
func NewStatsCollector(sink ports.StatsSink, recorder ports.MetricsRecorder, logger *zap.SugaredLogger) *StatsCollector {
	return &StatsCollector{
		sink:     sink,
		recorder: recorder,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Register adds a user's stats provider. Registration is additive and
// happens only during ramp-up.
func (c *StatsCollector) Register(p ports.StatsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, p)
}

// Start launches the polling schedule.
func (c *StatsCollector) Start(cfg StatsConfig) {
	if cfg.PollInterval < time.Second {
		cfg.PollInterval = time.Second
	}
	c.cfg = cfg
	c.startedAt = time.Now()
	c.running = true

	c.logger.Infow("stats collector started",
		"overall", cfg.Overall,
		"all_stats", cfg.AllStats,
		"summary", cfg.Summary,
		"poll_interval", cfg.PollInterval,
	)

	c.wg.Add(1)
	go c.run()
}

// Stop terminates the schedule, waits for the in-flight poll, writes
// the overall record when enabled and closes the sink. No poll executes
// concurrently with sink closure.
func (c *StatsCollector) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		if c.running && c.cfg.Overall {
			if werr := c.sink.Write(c.buildOverall()); werr != nil {
				c.logger.Errorw("failed to write overall stats", "error", werr)
				err = werr
			}
		}

		if cerr := c.sink.Close(); cerr != nil {
			c.logger.Errorw("failed to close stats sink", "error", cerr)
			if err == nil {
				err = cerr
			}
		}
		if c.running {
			c.logger.Infow("stats collector stopped",
				"polls", c.pollSeq.Load(),
				"run_duration", utils.FormatDuration(time.Since(c.startedAt)),
			)
		}
	})
	return err
}

// Latest returns the most recent aggregate, nil before the first poll.
func (c *StatsCollector) Latest() *domain.AggregateStats {
	return c.latest.Load()
}

func (c *StatsCollector) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

// poll reads every registered provider and produces one aggregate
// record. A single user's unreadable stats never stops the poll: that
// user is counted absent and polling continues.
func (c *StatsCollector) poll() {
	c.mu.Lock()
	providers := make([]ports.StatsProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.Unlock()

	seq := c.pollSeq.Add(1)
	agg := &domain.AggregateStats{
		PollSeq:   seq,
		Timestamp: time.Now(),
		Users:     make(map[string]domain.UserStats, len(providers)),
	}

	absent := 0
	for _, p := range providers {
		snap, ok := readSnapshot(p)
		if !ok {
			absent++
			continue
		}
		agg.Users[snap.Nickname] = snap
	}
	agg.Summary.Absent = absent
	agg.Tally()

	c.latest.Store(agg)
	c.accumulate(agg)

	if c.recorder != nil {
		c.recorder.RecordPoll(agg)
	}

	if c.cfg.AllStats {
		rec := detailRecord{Type: "all", PollSeq: seq, Timestamp: agg.Timestamp, Users: agg.Users}
		if err := c.sink.Write(rec); err != nil {
			c.logger.Errorw("failed to write detail record", "poll_seq", seq, "error", err)
		}
	}
	if c.cfg.Summary {
		rec := summaryRecord{Type: "summary", PollSeq: seq, Timestamp: agg.Timestamp, Summary: agg.Summary}
		if err := c.sink.Write(rec); err != nil {
			c.logger.Errorw("failed to write summary record", "poll_seq", seq, "error", err)
		}
	}
}

// readSnapshot isolates a misbehaving provider: a panic while reading
// one user's stats marks it absent for this poll instead of killing
// the schedule.
func readSnapshot(p ports.StatsProvider) (snap domain.UserStats, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	snap = p.Snapshot()
	if snap.Nickname == "" {
		return snap, false
	}
	return snap, true
}

func (c *StatsCollector) accumulate(agg *domain.AggregateStats) {
	if agg.Summary.Streaming > c.peakStreaming {
		c.peakStreaming = agg.Summary.Streaming
	}
	if agg.Summary.Failed > c.totalFailed {
		c.totalFailed = agg.Summary.Failed
	}
}

func (c *StatsCollector) buildOverall() overallRecord {
	now := time.Now()
	overall := domain.OverallStats{
		StartedAt:     c.startedAt,
		FinishedAt:    now,
		RunDuration:   utils.FormatDuration(now.Sub(c.startedAt)),
		Polls:         c.pollSeq.Load(),
		PeakStreaming: c.peakStreaming,
		TotalFailed:   c.totalFailed,
	}

	if agg := c.latest.Load(); agg != nil && len(agg.Users) > 0 {
		var min, max, total uint64
		first := true
		for _, u := range agg.Users {
			sent := u.Media.BytesSent
			if first || sent < min {
				min = sent
			}
			if sent > max {
				max = sent
			}
			total += sent
			first = false
		}
		overall.MinBytesSentPerUser = min
		overall.MaxBytesSentPerUser = max
		overall.MeanBytesSentPerUser = float64(total) / float64(len(agg.Users))
		overall.TotalBytesSent = agg.Summary.TotalBytesSent
		overall.TotalBytesReceived = agg.Summary.TotalBytesReceived
	}

	return overallRecord{Type: "overall", Overall: overall}
}
