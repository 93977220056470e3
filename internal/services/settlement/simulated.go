package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paysa/internal/models"
)

// Outcome scripts how the simulator answers one submission.
type Outcome struct {
	Status Status
	// Err is returned instead of a result. Wrap ErrRejected for a definitive refusal.
	Err error
	// Delay holds the answer back; a context that ends first yields an ambiguous error
	// even though the rail has already recorded the settlement.
	Delay  time.Duration
	Detail string
}

// Simulated is a deterministic in-process rail for development and tests.
// Submissions consume scripted outcomes in order and fall back to success.
type Simulated struct {
	mu       sync.Mutex
	script   []Outcome
	fallback Outcome
	byTx     map[string]string
	results  map[string]Result
	seq      int
	submits  int
}

func NewSimulated() *Simulated {
	return &Simulated{
		fallback: Outcome{Status: StatusSuccess},
		byTx:     make(map[string]string),
		results:  make(map[string]Result),
	}
}

// Script queues outcomes for the next submissions.
func (s *Simulated) Script(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, outcomes...)
}

// SetFallback changes the outcome used once the script is exhausted.
func (s *Simulated) SetFallback(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = o
}

func (s *Simulated) next() Outcome {
	if len(s.script) == 0 {
		return s.fallback
	}
	o := s.script[0]
	s.script = s.script[1:]
	return o
}

func (s *Simulated) Submit(ctx context.Context, tx *models.Transaction) (Result, error) {
	s.mu.Lock()
	s.submits++
	if ref, ok := s.byTx[tx.ID]; ok {
		res := s.results[ref]
		s.mu.Unlock()
		return res, nil
	}
	o := s.next()
	if o.Err != nil && !errors.Is(o.Err, ErrRejected) {
		s.mu.Unlock()
		return s.wait(ctx, o.Delay, Result{}, o.Err)
	}

	s.seq++
	res := Result{
		ExternalRef: fmt.Sprintf("sim_%06d", s.seq),
		Status:      o.Status,
		Amount:      tx.NetAmount,
		Currency:    tx.DestinationCurrency,
		Detail:      o.Detail,
	}
	if o.Err != nil {
		res.Status = StatusFailed
		if res.Detail == "" {
			res.Detail = o.Err.Error()
		}
	}
	s.byTx[tx.ID] = res.ExternalRef
	s.results[res.ExternalRef] = res
	s.mu.Unlock()

	return s.wait(ctx, o.Delay, res, o.Err)
}

func (s *Simulated) wait(ctx context.Context, delay time.Duration, res Result, err error) (Result, error) {
	if delay <= 0 {
		return res, err
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return res, err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Simulated) QueryStatus(ctx context.Context, externalRef string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[externalRef]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownReference, externalRef)
	}
	return res, nil
}

// Settle moves a recorded settlement to a new status, as an asynchronous rail confirmation would.
func (s *Simulated) Settle(externalRef string, status Status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[externalRef]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReference, externalRef)
	}
	res.Status = status
	res.Detail = detail
	s.results[externalRef] = res
	return nil
}

// RefFor returns the reference issued for a transaction, if any.
func (s *Simulated) RefFor(txID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byTx[txID]
	return ref, ok
}

// Submissions counts every Submit call, replays included.
func (s *Simulated) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}
