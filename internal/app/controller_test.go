package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"geo-trivia-service/internal/domain"
)

func TestNextServesBufferInFIFOOrder(t *testing.T) {
	fetcher := newScriptedFetcher()
	c := newTestController(fetcher, newFakeStore(3), ControllerConfig{Capacity: 5})

	var served []string
	for i := 0; i < 3; i++ {
		got, err := c.Next(context.Background())
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if got.Mode != domain.ModeAPI {
			t.Fatalf("expected API mode, got %s", got.Mode)
		}
		served = append(served, got.Question.Text)
	}
	for i, text := range served {
		want := fmt.Sprintf("remote question %d", i)
		if text != want {
			t.Fatalf("FIFO order broken at %d: got %q want %q", i, text, want)
		}
	}
}

func TestThreeRateLimitsEnterCooldownWithEmptyBuffer(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.fail(domain.ErrRateLimited)
	c := newTestController(fetcher, newFakeStore(3), ControllerConfig{Capacity: 5, Cooldown: time.Hour})

	got, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("expected fallback to serve locally, got %v", err)
	}
	if !got.FellBack || got.Mode != domain.ModeCSV {
		t.Fatalf("expected fallback serve, got %+v", got)
	}
	if calls := fetcher.callCount(); calls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", calls)
	}
	if c.Mode() != domain.ModeCSV || c.Buffered() != 0 {
		t.Fatalf("expected CSV mode with empty buffer, got %s/%d", c.Mode(), c.Buffered())
	}
}

func TestProviderErrorFallsBackWithoutRetry(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.fail(domain.ErrProvider)
	c := newTestController(fetcher, newFakeStore(3), ControllerConfig{Capacity: 5, Cooldown: time.Hour})

	got, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !got.FellBack {
		t.Fatalf("expected fallback serve, got %+v", got)
	}
	if calls := fetcher.callCount(); calls != 1 {
		t.Fatalf("provider errors must not be retried, got %d attempts", calls)
	}
}

func TestConcurrentNextSharesOneFetch(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.block()
	c := newTestController(fetcher, newFakeStore(0), ControllerConfig{Capacity: 10})

	results := make(chan error, 2)
	go func() {
		_, err := c.Next(context.Background())
		results <- err
	}()

	// Once the first fetch is in flight, a second caller needing a refill
	// must wait on it instead of issuing its own request.
	fetcher.waitForCall(t)
	go func() {
		_, err := c.Next(context.Background())
		results <- err
	}()
	time.Sleep(20 * time.Millisecond)
	fetcher.release()

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("concurrent next: %v", err)
		}
	}
	if calls := fetcher.callCount(); calls != 1 {
		t.Fatalf("expected a single shared fetch, got %d", calls)
	}
}

func TestCooldownRecoveryReturnsToAPIMode(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.fail(domain.ErrProvider)
	c := newTestController(fetcher, newFakeStore(5), ControllerConfig{Capacity: 5, Cooldown: 20 * time.Millisecond})

	if _, err := c.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if c.Mode() != domain.ModeCSV {
		t.Fatalf("expected fallback, got %s", c.Mode())
	}

	// Provider heals before the cooldown elapses.
	fetcher.fail(nil)

	waitFor(t, time.Second, func() bool {
		return c.Mode() == domain.ModeAPI && c.Buffered() > 0
	}, "controller did not recover to API mode")
}

func TestFailedRecoveryRearmsCooldown(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.fail(domain.ErrProvider)
	c := newTestController(fetcher, newFakeStore(5), ControllerConfig{Capacity: 5, Cooldown: 15 * time.Millisecond})

	if _, err := c.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	first := fetcher.callCount()

	// Two cooldown cycles elapse with the provider still down; each one
	// retries and re-enters fallback.
	waitFor(t, time.Second, func() bool {
		return fetcher.callCount() >= first+2
	}, "recovery attempts stopped")
	if c.Mode() != domain.ModeCSV {
		t.Fatalf("expected to remain serving locally, got %s", c.Mode())
	}
}

func TestManualCSVClearsBufferAndCancelsRecovery(t *testing.T) {
	fetcher := newScriptedFetcher()
	c := newTestController(fetcher, newFakeStore(5), ControllerConfig{Capacity: 5, Cooldown: 10 * time.Millisecond})

	if _, err := c.Next(context.Background()); err != nil {
		t.Fatalf("prime buffer: %v", err)
	}
	if c.Buffered() == 0 {
		t.Fatalf("expected primed buffer")
	}

	if err := c.SetMode(context.Background(), domain.ModeCSV); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if c.Mode() != domain.ModeCSV || c.Buffered() != 0 {
		t.Fatalf("expected empty CSV state, got %s/%d", c.Mode(), c.Buffered())
	}

	calls := fetcher.callCount()
	time.Sleep(50 * time.Millisecond)
	if fetcher.callCount() != calls {
		t.Fatalf("manual CSV mode must not auto-recover")
	}
	if c.Mode() != domain.ModeCSV {
		t.Fatalf("mode drifted to %s", c.Mode())
	}
}

func TestSetModeAPIFailureReportsRateLimit(t *testing.T) {
	fetcher := newScriptedFetcher()
	c := newTestController(fetcher, newFakeStore(5), ControllerConfig{Capacity: 5, Cooldown: time.Hour})

	if err := c.SetMode(context.Background(), domain.ModeCSV); err != nil {
		t.Fatalf("set csv: %v", err)
	}
	fetcher.fail(domain.ErrRateLimited)

	err := c.SetMode(context.Background(), domain.ModeAPI)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if c.Mode() != domain.ModeCSV {
		t.Fatalf("expected fallback after failed switch, got %s", c.Mode())
	}
}

func TestDrainingBufferTriggersBackgroundRefill(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.limitBatch(1)
	c := newTestController(fetcher, newFakeStore(0), ControllerConfig{Capacity: 3})

	// The synchronous refill buffers one question; serving it drains the
	// buffer and kicks off a background refill.
	if _, err := c.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return c.Buffered() > 0
	}, "background refill never repopulated the buffer")
}

func TestRefillDiscardsOverflowBeyondCapacity(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.overdeliver(8)
	c := newTestController(fetcher, newFakeStore(0), ControllerConfig{Capacity: 3})

	if _, err := c.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if buffered := c.Buffered(); buffered > 2 {
		t.Fatalf("buffer exceeds capacity after serve: %d", buffered)
	}
}

func TestLocalExhaustionSurfaces(t *testing.T) {
	fetcher := newScriptedFetcher()
	c := newTestController(fetcher, newFakeStore(0), ControllerConfig{Capacity: 3})

	if err := c.SetMode(context.Background(), domain.ModeCSV); err != nil {
		t.Fatalf("set csv: %v", err)
	}
	if _, err := c.Next(context.Background()); !errors.Is(err, domain.ErrNoQuestionsAvailable) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
}

// newTestController wires a controller with instant backoff sleeps.
func newTestController(fetcher Fetcher, store LocalStore, cfg ControllerConfig) *Controller {
	c := NewController(fetcher, store, cfg)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}

// scriptedFetcher fabricates numbered questions and can be told to fail,
// block, or misbehave on batch sizes.
type scriptedFetcher struct {
	mu       sync.Mutex
	calls    int
	err      error
	batchCap int // cap batches at this size when > 0
	extra    int // produce this many more than requested when > 0
	gate     chan struct{}
	called   chan struct{}
	seq      int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{called: make(chan struct{}, 16)}
}

func (f *scriptedFetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *scriptedFetcher) block() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

func (f *scriptedFetcher) release() {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (f *scriptedFetcher) limitBatch(n int) {
	f.mu.Lock()
	f.batchCap = n
	f.mu.Unlock()
}

func (f *scriptedFetcher) overdeliver(n int) {
	f.mu.Lock()
	f.extra = n
	f.mu.Unlock()
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) waitForCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.called:
	case <-time.After(time.Second):
		t.Fatalf("fetcher was never called")
	}
}

func (f *scriptedFetcher) FetchBatch(_ context.Context, count int) ([]domain.Question, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	gate := f.gate
	if f.batchCap > 0 && count > f.batchCap {
		count = f.batchCap
	}
	count += f.extra
	start := f.seq
	f.seq += count
	f.mu.Unlock()

	select {
	case f.called <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	questions := make([]domain.Question, 0, count)
	for i := 0; i < count; i++ {
		name := "France"
		questions = append(questions, domain.Question{
			Text:          fmt.Sprintf("remote question %d", start+i),
			CorrectAnswer: name,
			Distractors:   []string{"Spain", "Italy", "Portugal"},
			Answers:       []string{"Spain", name, "Italy", "Portugal"},
			Kind:          domain.KindMultiple,
		})
	}
	return questions, nil
}

// fakeStore is an in-memory LocalStore holding n synthetic questions.
type fakeStore struct {
	mu      sync.Mutex
	size    int
	left    int
	reloads int
}

func newFakeStore(n int) *fakeStore {
	return &fakeStore{size: n, left: n}
}

func (s *fakeStore) Draw() (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left == 0 {
		return domain.Question{}, domain.ErrNoQuestionsAvailable
	}
	s.left--
	return domain.Question{
		Text:          fmt.Sprintf("local question %d", s.size-s.left),
		CorrectAnswer: "Japan",
		Distractors:   []string{"China", "Vietnam", "Thailand"},
		Answers:       []string{"China", "Japan", "Vietnam", "Thailand"},
		Kind:          domain.KindMultiple,
	}, nil
}

func (s *fakeStore) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = s.size
	s.reloads++
	return nil
}
