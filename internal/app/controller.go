package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"geo-trivia-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the remote question source.
type Fetcher interface {
	FetchBatch(ctx context.Context, count int) ([]domain.Question, error)
}

// LocalStore is the finite local dataset serving CSV mode.
type LocalStore interface {
	Draw() (domain.Question, error)
	Reload(ctx context.Context) error
}

// ControllerConfig tunes the prefetch buffer and failure handling. Zero
// values fall back to the defaults below.
type ControllerConfig struct {
	Capacity    int           // prefetch buffer size (default 10)
	MaxAttempts int           // refill attempts on rate limiting (default 3)
	BackoffBase time.Duration // first retry delay, doubled per attempt (default 2s)
	Cooldown    time.Duration // delay before auto-recovery from fallback (default 60s)
}

func (cfg ControllerConfig) withDefaults() ControllerConfig {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return cfg
}

// Served is the outcome of a Next call.
type Served struct {
	Question domain.Question
	Mode     domain.Mode
	// FellBack marks that this call exhausted the remote retries and the
	// answer came from the local store instead.
	FellBack bool
}

// Controller owns the question supply: the prefetch buffer in API mode, the
// fallback to the local store on sustained remote failure, and the timed
// recovery back to the remote source. All CacheState mutation goes through
// its methods.
type Controller struct {
	fetcher Fetcher
	local   LocalStore
	cfg     ControllerConfig

	// sleep is swapped out in tests so the backoff ladder runs instantly.
	sleep func(ctx context.Context, d time.Duration) error

	sf singleflight.Group

	mu            sync.Mutex
	mode          domain.Mode
	manual        bool // CSV was user-selected; no auto-recovery
	buffer        []domain.Question
	cooldownTimer *time.Timer
	// generation invalidates cooldown timers armed before a reset or manual
	// mode change, so a stale recovery cannot fire into fresh state.
	generation int
}

func NewController(fetcher Fetcher, local LocalStore, cfg ControllerConfig) *Controller {
	return &Controller{
		fetcher: fetcher,
		local:   local,
		cfg:     cfg.withDefaults(),
		sleep:   sleepContext,
		mode:    domain.ModeAPI,
	}
}

// Mode reports the active question source.
func (c *Controller) Mode() domain.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Buffered reports how many prefetched questions are waiting.
func (c *Controller) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Next serves one question from the active source. In API mode it serves the
// buffer head and, when that drained the buffer, refills in the background so
// the serving call never waits on a fetch it does not need. An empty buffer
// triggers a synchronous refill; if that exhausts its retries the same call
// is answered from the local store with FellBack set.
func (c *Controller) Next(ctx context.Context) (Served, error) {
	for {
		c.mu.Lock()
		if c.mode == domain.ModeCSV {
			c.mu.Unlock()
			return c.serveLocal(false)
		}
		if len(c.buffer) > 0 {
			q := c.buffer[0]
			c.buffer = c.buffer[1:]
			drained := len(c.buffer) == 0
			c.mu.Unlock()
			if drained {
				go func() {
					if err := c.refill(context.Background()); err != nil {
						log.Printf("background refill failed: %v", err)
					}
				}()
			}
			return Served{Question: q, Mode: domain.ModeAPI}, nil
		}
		c.mu.Unlock()

		if err := c.refill(ctx); err != nil {
			// refill already transitioned to fallback
			return c.serveLocal(true)
		}
		// Loop: another caller may have drained the fresh batch first.
	}
}

func (c *Controller) serveLocal(fellBack bool) (Served, error) {
	q, err := c.local.Draw()
	if err != nil {
		return Served{}, err
	}
	return Served{Question: q, Mode: domain.ModeCSV, FellBack: fellBack}, nil
}

// SetMode switches the question source on user request. Switching to CSV
// clears the buffer and cancels any pending recovery. Switching to API
// attempts an immediate refill; on failure the controller enters cooldown and
// the error is returned so the caller can report it.
func (c *Controller) SetMode(ctx context.Context, mode domain.Mode) error {
	switch mode {
	case domain.ModeCSV:
		c.mu.Lock()
		c.manual = true
		c.mode = domain.ModeCSV
		c.buffer = nil
		c.cancelCooldownLocked()
		c.mu.Unlock()
		return nil
	case domain.ModeAPI:
		c.mu.Lock()
		c.manual = false
		c.mode = domain.ModeAPI
		c.cancelCooldownLocked()
		c.mu.Unlock()
		return c.refill(ctx)
	default:
		return domain.ErrInvalidMode
	}
}

// Reset returns the controller to API mode with an empty buffer, reloads the
// local dataset, and refills in the background. Any pending cooldown timer is
// cancelled first.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.manual = false
	c.mode = domain.ModeAPI
	c.buffer = nil
	c.cancelCooldownLocked()
	c.mu.Unlock()

	if err := c.local.Reload(ctx); err != nil {
		log.Printf("dataset reload failed: %v", err)
	}
	go func() {
		if err := c.refill(context.Background()); err != nil {
			log.Printf("refill after reset failed: %v", err)
		}
	}()
	return nil
}

// refill tops the buffer up to capacity. Concurrent callers share a single
// fetch: whoever arrives while one is outstanding waits for its outcome
// instead of issuing another request.
func (c *Controller) refill(ctx context.Context) error {
	_, err, _ := c.sf.Do("refill", func() (interface{}, error) {
		return nil, c.doRefill(ctx)
	})
	return err
}

func (c *Controller) doRefill(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		if c.manual {
			c.mu.Unlock()
			return nil
		}
		need := c.cfg.Capacity - len(c.buffer)
		c.mu.Unlock()
		if need <= 0 {
			return nil
		}

		questions, err := c.fetcher.FetchBatch(ctx, need)
		if err == nil {
			return c.absorb(questions)
		}

		if errors.Is(err, domain.ErrRateLimited) && attempt < c.cfg.MaxAttempts {
			delay := c.cfg.BackoffBase << (attempt - 1)
			log.Printf("provider rate limited, retrying in %s (attempt %d/%d)", delay, attempt, c.cfg.MaxAttempts)
			if serr := c.sleep(ctx, delay); serr != nil {
				c.fallback()
				return err
			}
			continue
		}

		// ProviderError, or the rate-limit retries ran out.
		c.fallback()
		return err
	}
}

// absorb appends fetched questions up to capacity, discarding overflow. A
// batch that leaves the buffer empty counts as a failed refill.
func (c *Controller) absorb(questions []domain.Question) error {
	c.mu.Lock()
	if c.manual {
		// The user switched to CSV while the fetch was in flight; drop it.
		c.mu.Unlock()
		return nil
	}
	room := c.cfg.Capacity - len(c.buffer)
	if len(questions) > room {
		questions = questions[:room]
	}
	c.buffer = append(c.buffer, questions...)
	if len(c.buffer) == 0 {
		c.fallbackLocked()
		c.mu.Unlock()
		return fmt.Errorf("%w: provider returned no usable questions", domain.ErrProvider)
	}
	c.mode = domain.ModeAPI
	c.cancelCooldownLocked()
	c.mu.Unlock()
	return nil
}

func (c *Controller) fallback() {
	c.mu.Lock()
	c.fallbackLocked()
	c.mu.Unlock()
}

// fallbackLocked demotes to the local store and arms the recovery timer.
// Re-entering fallback resets the timer rather than stacking delays.
func (c *Controller) fallbackLocked() {
	if c.manual {
		return
	}
	c.mode = domain.ModeCSV
	c.buffer = nil
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
	}
	c.generation++
	gen := c.generation
	c.cooldownTimer = time.AfterFunc(c.cfg.Cooldown, func() {
		c.recoverFromCooldown(gen)
	})
	log.Printf("falling back to local dataset, retrying provider in %s", c.cfg.Cooldown)
}

func (c *Controller) cancelCooldownLocked() {
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
		c.cooldownTimer = nil
	}
	c.generation++
}

// recoverFromCooldown runs when the cooldown elapses: tentatively back to API
// mode, then one refill attempt. A failed attempt re-enters fallback, which
// re-arms the timer with a fresh failure count.
func (c *Controller) recoverFromCooldown(gen int) {
	c.mu.Lock()
	if gen != c.generation || c.manual {
		c.mu.Unlock()
		return
	}
	c.cooldownTimer = nil
	c.mode = domain.ModeAPI
	c.mu.Unlock()

	if err := c.refill(context.Background()); err != nil {
		log.Printf("recovery refill failed: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
