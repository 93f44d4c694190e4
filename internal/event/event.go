package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ledger-engine/internal/infrastructure/monitoring"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

type Type string

const (
	TypeAccountOpened      Type = "account.opened"
	TypeAccountActivated   Type = "account.activated"
	TypeAccountFrozen      Type = "account.frozen"
	TypeAccountClosed      Type = "account.closed"
	TypeDeposited          Type = "account.deposited"
	TypeWithdrawn          Type = "account.withdrawn"
	TypeTransferred        Type = "account.transferred"
	TypeInterestCredited   Type = "account.interest_credited"
	TypeCustomerRegistered Type = "customer.registered"
	TypeCustomerUpdated    Type = "customer.updated"
	TypeOnboardingApproved Type = "onboarding.approved"
	TypeOnboardingDeclined Type = "onboarding.declined"
	TypeOnboardingDegraded Type = "onboarding.degraded"
	TypeOnboardingFallback Type = "onboarding.fallback"
)

// Event is the payload handed to a Notifier once a change has committed.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	AccountID      int64     `json:"accountId,omitempty"`
	CounterpartyID int64     `json:"counterpartyId,omitempty"`
	CustomerID     int64     `json:"customerId,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Balance        string    `json:"balance,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func New(t Type) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// Notifier is a fire-and-forget sink. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Publisher delivers one event to a broker and reports whether it was accepted.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

const (
	defaultSinkWorkers   = 4
	defaultSinkQueueSize = 1024
)

// AsyncSink delivers events to a Publisher from a fixed set of workers
// draining a bounded queue. Notify never blocks: when the queue is full the
// event is dropped and logged. Delivery failures are logged, never returned.
type AsyncSink struct {
	pub     Publisher
	timeout time.Duration
	logger  *slog.Logger

	queue   chan pending
	workers *pool.Pool

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

type pending struct {
	ctx   context.Context
	event Event
}

type sinkOptions struct {
	workers   int
	queueSize int
}

type SinkOption func(*sinkOptions)

// WithWorkers sets how many deliveries may be in flight at once.
func WithWorkers(n int) SinkOption {
	return func(o *sinkOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets how many events may wait for a worker.
func WithQueueSize(n int) SinkOption {
	return func(o *sinkOptions) {
		if n >= 0 {
			o.queueSize = n
		}
	}
}

func NewAsyncSink(pub Publisher, timeout time.Duration, logger *slog.Logger, opts ...SinkOption) *AsyncSink {
	if pub == nil {
		panic("publisher cannot be nil")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	o := sinkOptions{workers: defaultSinkWorkers, queueSize: defaultSinkQueueSize}
	for _, opt := range opts {
		opt(&o)
	}

	s := &AsyncSink{
		pub:     pub,
		timeout: timeout,
		logger:  logger.With("component", "AsyncSink"),
		queue:   make(chan pending, o.queueSize),
		workers: pool.New().WithMaxGoroutines(o.workers),
	}
	for i := 0; i < o.workers; i++ {
		s.workers.Go(s.drain)
	}
	return s
}

func (s *AsyncSink) Notify(ctx context.Context, e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.closed {
		select {
		case s.queue <- pending{ctx: context.WithoutCancel(ctx), event: e}:
			return
		default:
		}
	}
	monitoring.RecordEventDropped(string(e.Type))
	s.logger.WarnContext(ctx, "Dropping event, delivery queue is full or closed",
		slog.String("eventID", e.ID), slog.String("type", string(e.Type)))
}

func (s *AsyncSink) drain() {
	for p := range s.queue {
		s.deliver(p)
	}
}

func (s *AsyncSink) deliver(p pending) {
	ctx, cancel := context.WithTimeout(p.ctx, s.timeout)
	defer cancel()
	if err := s.pub.Publish(ctx, p.event); err != nil {
		s.logger.WarnContext(ctx, "Failed to deliver event",
			slog.String("eventID", p.event.ID), slog.String("type", string(p.event.Type)), slog.Any("error", err))
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
// Later calls return immediately.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.workers.Wait()
	})
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "LogSink")}
}

func (s *LogSink) Notify(ctx context.Context, e Event) {
	s.logger.InfoContext(ctx, "Event",
		slog.String("eventID", e.ID),
		slog.String("type", string(e.Type)),
		slog.Int64("accountID", e.AccountID),
		slog.Int64("customerID", e.CustomerID),
		slog.String("amount", e.Amount),
		slog.String("reason", e.Reason),
	)
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
