package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger-engine/internal/infrastructure/monitoring"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePublisher struct {
	mu        sync.Mutex
	published map[Type][]Event
	err       error
	ctxErr    error
}

func (p *fakePublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.published == nil {
		p.published = map[Type][]Event{}
	}
	p.published[e.Type] = append(p.published[e.Type], e)
	p.ctxErr = ctx.Err()
	return p.err
}

func TestNewEvent(t *testing.T) {
	e := New(TypeDeposited)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeDeposited, e.Type)
	assert.WithinDuration(t, time.Now().UTC(), e.Timestamp, time.Second)
	assert.NotEqual(t, e.ID, New(TypeDeposited).ID)
}

func TestAsyncSinkPublishesByType(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAsyncSink(pub, time.Second, logger)

	e := New(TypeTransferred)
	e.AccountID = 1
	sink.Notify(context.Background(), e)
	sink.Close()

	require.Len(t, pub.published[TypeTransferred], 1)
	assert.Equal(t, e, pub.published[TypeTransferred][0])
}

func TestAsyncSinkOutlivesCallerContext(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAsyncSink(pub, time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Notify(ctx, New(TypeDeposited))
	sink.Close()

	assert.NoError(t, pub.ctxErr)
}

func TestAsyncSinkSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	sink := NewAsyncSink(pub, time.Second, logger)

	assert.NotPanics(t, func() {
		sink.Notify(context.Background(), New(TypeWithdrawn))
		sink.Close()
	})
}

// gatedPublisher blocks every Publish until release is closed and tracks how
// many calls are in flight.
type gatedPublisher struct {
	release   chan struct{}
	inFlight  atomic.Int32
	peak      atomic.Int32
	delivered atomic.Int32
}

func (p *gatedPublisher) Publish(ctx context.Context, _ Event) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.delivered.Add(1)
	return nil
}

func TestAsyncSinkBoundsConcurrentDeliveries(t *testing.T) {
	pub := &gatedPublisher{release: make(chan struct{})}
	sink := NewAsyncSink(pub, 5*time.Second, logger, WithWorkers(2), WithQueueSize(4))
	dropped := testutil.ToFloat64(monitoring.Business.EventsDropped.WithLabelValues(string(TypeDeposited)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			sink.Notify(context.Background(), New(TypeDeposited))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a stalled publisher")
	}

	close(pub.release)
	sink.Close()

	assert.LessOrEqual(t, pub.peak.Load(), int32(2))
	delivered := pub.delivered.Load()
	assert.GreaterOrEqual(t, delivered, int32(4))
	assert.LessOrEqual(t, delivered, int32(6))
	assert.Equal(t, float64(500-delivered),
		testutil.ToFloat64(monitoring.Business.EventsDropped.WithLabelValues(string(TypeDeposited)))-dropped)
}

func TestAsyncSinkDropsAfterClose(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAsyncSink(pub, time.Second, logger)
	sink.Close()
	sink.Close()

	assert.NotPanics(t, func() { sink.Notify(context.Background(), New(TypeWithdrawn)) })
	assert.Empty(t, pub.published)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := TypeDeposited
			if i%2 == 0 {
				typ = TypeWithdrawn
			}
			r.Notify(context.Background(), New(typ))
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Events(), 20)
	assert.Len(t, r.OfType(TypeWithdrawn), 10)
}
