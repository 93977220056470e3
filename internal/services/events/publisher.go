// Package events delivers post-completion side effects: notifications,
// audit entries and downstream anchoring requests. Publishing is best effort
// and never affects the ledger operation that produced the event.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paysa/internal/metrics"

	"github.com/google/uuid"
)

// Event types. Used as routing keys.
const (
	TypeTransactionCompleted = "transaction.completed"
	TypeTransactionFailed    = "transaction.failed"
	TypeTransactionPending   = "transaction.pending"
	TypeAuditTransaction     = "audit.transaction"
)

// Event is one side effect of a transaction reaching a recorded state.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	OccurredAt    time.Time      `json:"occurred_at"`
	TransactionID string         `json:"transaction_id"`
	UserID        string         `json:"user_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// New stamps an event with an ID and the current time.
func New(eventType, transactionID, userID string, payload map[string]any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		TransactionID: transactionID,
		UserID:        userID,
		Payload:       payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.InfoContext(ctx, "event",
		"event_id", e.ID,
		"type", e.Type,
		"transaction_id", e.TransactionID,
		"user_id", e.UserID,
	)
	return nil
}

// AsyncPublisher hands events to background workers. Publish never blocks:
// when the queue is full the event is dropped and counted.
type AsyncPublisher struct {
	next    Publisher
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.Collector

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewAsyncPublisher(next Publisher, size, workers int, logger *slog.Logger, m metrics.Collector) *AsyncPublisher {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NoopCollector{}
	}
	p := &AsyncPublisher{
		next:    next,
		queue:   make(chan Event, size),
		timeout: 5 * time.Second,
		logger:  logger,
		metrics: m,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *AsyncPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(e, "publisher closed")
		return nil
	}
	select {
	case p.queue <- e:
	default:
		p.drop(e, "queue full")
	}
	return nil
}

func (p *AsyncPublisher) drop(e Event, reason string) {
	p.metrics.RecordEventDropped(e.Type)
	p.logger.Warn("event dropped", "reason", reason, "type", e.Type, "transaction_id", e.TransactionID)
}

func (p *AsyncPublisher) work() {
	defer p.wg.Done()
	for e := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, e); err != nil {
			p.logger.Warn("event publish failed", "type", e.Type, "transaction_id", e.TransactionID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (p *AsyncPublisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// Fanout delivers every event to each publisher and returns the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
