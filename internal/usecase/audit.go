package usecase

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/logger"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/telemetry"
)

// AuditSettings sizes the audit queue.
type AuditSettings struct {
	BufferSize   int
	Workers      int
	WriteTimeout time.Duration
}

// AuditRecorder appends audit entries without ever blocking or failing the caller.
// Entries are queued and written by background workers to every configured writer;
// overflow and write failures are logged and counted.
type AuditRecorder struct {
	writers  []port.AuditWriter
	settings AuditSettings
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	queue     chan domain.AuditLog
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewAuditRecorder starts the worker pool. Call Close to drain the queue on shutdown.
func NewAuditRecorder(settings AuditSettings, logger *zap.Logger, metrics *telemetry.Metrics, writers ...port.AuditWriter) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.BufferSize <= 0 {
		settings.BufferSize = 1024
	}
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = 2 * time.Second
	}

	active := make([]port.AuditWriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			active = append(active, w)
		}
	}

	r := &AuditRecorder{
		writers:  active,
		settings: settings,
		logger:   logger,
		metrics:  metrics,
		queue:    make(chan domain.AuditLog, settings.BufferSize),
		done:     make(chan struct{}),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	r.now = func() time.Time { return time.Now().UTC() }

	for i := 0; i < settings.Workers; i++ {
		r.wg.Add(1)
		go r.run()
	}

	return r
}

// WithClock overrides the timestamp source for entries recorded without one.
func (r *AuditRecorder) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Record enqueues entry. A full queue drops the entry rather than blocking.
func (r *AuditRecorder) Record(ctx context.Context, entry domain.AuditLog) {
	if r == nil || r.closed.Load() {
		return
	}

	if entry.At.IsZero() {
		entry.At = r.now()
	}
	if entry.ID == "" {
		entry.ID = r.newID(entry.At)
	}

	select {
	case r.queue <- entry:
	case <-r.done:
	default:
		r.metrics.AuditDrop()
		logger.Enrich(ctx, r.logger).Warn("audit queue full, entry dropped",
			zap.String("action", string(entry.Action)),
			zap.String("audit_id", entry.ID),
		)
	}
}

func (r *AuditRecorder) newID(at time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(at), r.entropy)
	if err != nil {
		// monotonic entropy overflows only within one millisecond; fall back to fresh randomness
		return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
	}
	return id.String()
}

func (r *AuditRecorder) run() {
	defer r.wg.Done()

	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-r.done:
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *AuditRecorder) write(entry domain.AuditLog) {
	for _, writer := range r.writers {
		ctx, cancel := context.WithTimeout(context.Background(), r.settings.WriteTimeout)
		err := writer.WriteAudit(ctx, entry)
		cancel()
		if err != nil {
			r.metrics.AuditFailed()
			r.logger.Error("audit write failed",
				zap.String("action", string(entry.Action)),
				zap.String("audit_id", entry.ID),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *AuditRecorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// auditEntry builds an entry from request context fields.
func auditEntry(action domain.AuditAction, userID string, device DeviceInfo, metadata map[string]any) domain.AuditLog {
	entry := domain.AuditLog{
		Action:   action,
		Metadata: metadata,
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if device.IP != "" {
		ip := device.IP
		entry.IP = &ip
	}
	if device.UserAgent != "" {
		ua := device.UserAgent
		entry.UserAgent = &ua
	}
	return entry
}
