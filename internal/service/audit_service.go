package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/intentgate/intentgate/internal/domain/audit"
)

const (
	defaultAuditQueueSize = 1000
	defaultAuditBatchSize = 100
	finalFlushTimeout     = 5 * time.Second
	depthWarningInterval  = time.Second
)

// AuditService records decisions into the in-memory audit log and hands
// them to persistence sinks through a bounded queue drained by one
// background worker. Recording never waits on storage.
type AuditService struct {
	log    audit.Log
	sinks  []audit.Sink
	logger *slog.Logger
	now    func() time.Time

	batchSize     int
	flushInterval time.Duration
	// sendTimeout is how long Record waits for queue space; 0 drops at once.
	// Intercept entries never wait.
	sendTimeout  time.Duration
	warnPercent  int
	hurryPercent int

	queue    chan audit.Entry
	mu       sync.RWMutex // guards closing queue against in-flight sends
	closed   bool
	started  atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once

	dropped     atomic.Int64
	failed      atomic.Int64
	lastWarning atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithSinks adds persistence sinks.
func WithSinks(sinks ...audit.Sink) AuditOption {
	return func(s *AuditService) { s.sinks = append(s.sinks, sinks...) }
}

// WithBatchSize sets how many entries are written per sink call.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets how often a partial batch is written.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the queue capacity.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.queue = make(chan audit.Entry, size)
		}
	}
}

// WithSendTimeout sets how long Record may wait for queue space before a
// non-intercept entry (a simulation, say) is dropped from persistence.
// Intercept entries are dropped at once when the queue is full, so storage
// never delays a decision. 0 never waits.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) { s.sendTimeout = timeout }
}

// WithWarningThreshold sets the queue fill percentage that logs a warning.
// 0 disables the warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) { s.warnPercent = clampPercent(percent) }
}

// WithAdaptiveFlushThreshold sets the queue fill percentage above which
// the worker flushes at a quarter of the normal interval. 0 disables it.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) { s.hurryPercent = clampPercent(percent) }
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}

// NewAuditService creates an AuditService writing to log.
func NewAuditService(log audit.Log, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		log:           log,
		logger:        logger,
		now:           time.Now,
		batchSize:     defaultAuditBatchSize,
		flushInterval: time.Second,
		warnPercent:   80,
		hurryPercent:  80,
		queue:         make(chan audit.Entry, defaultAuditQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the persistence worker. Without sinks it is a no-op and
// entries live only in the in-memory log.
func (s *AuditService) Start(ctx context.Context) {
	if len(s.sinks) == 0 || !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drain(ctx)
	}()
}

// Record stamps e with an ID and timestamp when missing, adds it to the
// audit log and queues it for persistence. It returns the stamped entry.
func (s *AuditService) Record(e audit.Entry) audit.Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	s.log.Record(e)

	if s.started.Load() {
		s.enqueue(e)
	}
	return e
}

func (s *AuditService) enqueue(e audit.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(e)
		return
	}

	if s.warnPercent > 0 && s.fillPercent() >= s.warnPercent {
		s.warnDepth()
	}

	select {
	case s.queue <- e:
		return
	default:
	}
	if s.sendTimeout <= 0 || e.Source == audit.SourceIntercept {
		s.drop(e)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.queue <- e:
	case <-timer.C:
		s.drop(e)
	}
}

func (s *AuditService) drop(e audit.Entry) {
	total := s.dropped.Add(1)
	s.logger.Warn("audit entry dropped from persistence",
		"audit_id", e.ID,
		"rule_id", e.RuleID,
		"total_drops", total,
	)
}

func (s *AuditService) fillPercent() int {
	if c := cap(s.queue); c > 0 {
		return len(s.queue) * 100 / c
	}
	return 0
}

// warnDepth logs at most once per depthWarningInterval.
func (s *AuditService) warnDepth() {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(depthWarningInterval) || !s.lastWarning.CompareAndSwap(last, now) {
		return
	}
	s.logger.Warn("audit channel approaching capacity",
		"depth", len(s.queue),
		"capacity", cap(s.queue),
		"percent", s.fillPercent(),
	)
}

// Query returns the audit log, most recent first.
func (s *AuditService) Query() []audit.Entry {
	return s.log.Query()
}

// Clear empties the in-memory log. Persisted archives are untouched.
func (s *AuditService) Clear() {
	s.log.Clear()
	s.logger.Info("audit log cleared")
}

// Log returns the underlying audit log.
func (s *AuditService) Log() audit.Log {
	return s.log
}

// DroppedRecords returns the number of entries that never reached the sinks.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropped.Load()
}

// PersistFailures returns the number of failed sink writes.
func (s *AuditService) PersistFailures() int64 {
	return s.failed.Load()
}

// ChannelDepth returns the number of queued entries.
func (s *AuditService) ChannelDepth() int {
	return len(s.queue)
}

// ChannelCapacity returns the queue capacity.
func (s *AuditService) ChannelCapacity() int {
	return cap(s.queue)
}

// Stop closes the queue, waits for the worker to write what is left and
// closes the sinks. It is safe to call more than once.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		if s.started.Load() {
			s.mu.Lock()
			s.closed = true
			close(s.queue)
			s.mu.Unlock()
			s.wg.Wait()
		}

		errs := make([]error, 0, len(s.sinks))
		for _, sink := range s.sinks {
			errs = append(errs, sink.Close())
		}
		if err := errors.Join(errs...); err != nil {
			s.logger.Warn("failed to close audit sinks", "error", err)
		}
	})
}

// drain is the worker loop. Once ctx is done it keeps draining with a
// background context until Stop closes the queue.
func (s *AuditService) drain(ctx context.Context) {
	batch := make([]audit.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	hurried := false

	write := func() {
		if len(batch) > 0 {
			s.write(ctx, batch)
			batch = batch[:0]
		}
	}

	done := ctx.Done()
	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				if len(batch) > 0 {
					s.write(ctx, batch)
				}
				cancel()
				return
			}
			batch = append(batch, e)

			busy := s.hurryPercent > 0 && s.fillPercent() >= s.hurryPercent
			if len(batch) >= s.batchSize || busy {
				write()
			}
			if busy != hurried {
				hurried = busy
				s.pace(ticker, hurried)
			}

		case <-ticker.C:
			write()

		case <-done:
			done = nil
			ctx = context.Background()
		}
	}
}

// pace switches the flush ticker between the normal and hurried interval.
func (s *AuditService) pace(ticker *time.Ticker, hurried bool) {
	interval := s.flushInterval
	if hurried {
		interval /= 4
	}
	ticker.Reset(interval)
	s.logger.Debug("audit flush interval changed",
		"hurried", hurried,
		"interval", interval,
		"depth_percent", s.fillPercent(),
	)
}

// write hands a batch to every sink. Failures are counted and logged, never
// returned: persistence problems must not affect decisions.
func (s *AuditService) write(ctx context.Context, batch []audit.Entry) {
	for _, sink := range s.sinks {
		if err := sink.Append(ctx, batch...); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to write audit batch",
				"error", err,
				"count", len(batch),
			)
		}
	}
}
