package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter gates outbound Gmail calls so a poll cycle stays inside the
// per-user quota.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket releases one token every 1/rps seconds and holds at most burst
// unused tokens.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stop     chan struct{}
	stopDone chan struct{}
	once     sync.Once
}

// NewTokenBucket returns a limiter for rps requests per second with a burst
// of the same size. The bucket starts full so a fresh poll cycle is not
// throttled on its first few calls.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, rps),
		stop:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	for i := 0; i < rps; i++ {
		tb.tokens <- struct{}{}
	}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases the ticker goroutine. It is safe to call more than once.
func (t *TokenBucket) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
	<-t.stopDone
}

var _ Limiter = (*TokenBucket)(nil)
