package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paysa/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (r *recorder) Publish(ctx context.Context, e Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestAsyncPublisher_DeliversAndDrains(t *testing.T) {
	rec := &recorder{err: errors.New("broker down")}
	p := NewAsyncPublisher(rec, 8, 1, logger.Discard(), nil)

	for _, typ := range []string{TypeTransactionCompleted, TypeAuditTransaction} {
		require.NoError(t, p.Publish(context.Background(), New(typ, "tx-1", "alice", nil)))
	}
	p.Close()

	assert.Equal(t, []string{TypeTransactionCompleted, TypeAuditTransaction}, rec.types())
	assert.NoError(t, p.Publish(context.Background(), New(TypeAuditTransaction, "tx-2", "alice", nil)))
}

func TestAsyncPublisher_NeverBlocks(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	p := NewAsyncPublisher(rec, 1, 1, logger.Discard(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = p.Publish(context.Background(), New(TypeAuditTransaction, "tx", "alice", nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled worker")
	}
	close(rec.block)
	p.Close()
	assert.LessOrEqual(t, len(rec.types()), 2)
}

func TestFanout_ReturnsFirstError(t *testing.T) {
	a, b := &recorder{err: errors.New("a failed")}, &recorder{}
	err := Fanout{a, b}.Publish(context.Background(), New(TypeAuditTransaction, "tx", "", nil))
	assert.EqualError(t, err, "a failed")
	assert.Len(t, b.types(), 1)
}

func TestNew_StampsEvent(t *testing.T) {
	e := New(TypeTransactionFailed, "tx-9", "bob", map[string]any{"code": "LIMIT_EXCEEDED"})
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.OccurredAt.IsZero())
	assert.Equal(t, "bob", e.UserID)
}
