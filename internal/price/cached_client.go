package price

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/portfolio-pulse/internal/config"
	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/retry"
)

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

// inflightFetch carries one in-progress fetch. Waiters block on done and
// then read the shared result.
type inflightFetch struct {
	done  chan struct{}
	quote Quote
	err   error
}

// CachedClient fronts a Source with a per-ticker validity window,
// single-flight fetch sharing, global request pacing, bounded retries and a
// degraded fallback to the last known value.
type CachedClient struct {
	source   Source
	limiter  *rate.Limiter
	validity time.Duration
	timeout  time.Duration
	retryCfg *retry.Config
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	quotes   map[string]cachedQuote
	inflight map[string]*inflightFetch
}

// NewCachedClient creates a cached price client from configuration.
func NewCachedClient(source Source, cfg *config.PriceConfig, logger *logging.Logger) *CachedClient {
	return &CachedClient{
		source:   source,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec),
		validity: cfg.ValidityWindow,
		timeout:  cfg.FetchTimeout,
		retryCfg: &retry.Config{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
		logger:   logger,
		now:      time.Now,
		quotes:   make(map[string]cachedQuote),
		inflight: make(map[string]*inflightFetch),
	}
}

// GetPrice returns a quote for the ticker. A quote inside the validity
// window is served from memory. Concurrent callers for the same ticker share
// one underlying fetch. When the fetch fails after retries, the last known
// value is served with Degraded set; with no known value the error
// propagates.
func (c *CachedClient) GetPrice(ctx context.Context, ticker string) (Quote, error) {
	c.mu.Lock()
	if cached, ok := c.quotes[ticker]; ok && c.now().Sub(cached.fetchedAt) <= c.validity {
		c.mu.Unlock()
		return cached.quote, nil
	}

	// Single flight per ticker: first caller fetches, the rest wait.
	if call, exists := c.inflight[ticker]; exists {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.quote, call.err
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		}
	}

	call := &inflightFetch{done: make(chan struct{})}
	c.inflight[ticker] = call
	c.mu.Unlock()

	call.quote, call.err = c.fetch(ctx, ticker)

	c.mu.Lock()
	delete(c.inflight, ticker)
	c.mu.Unlock()
	close(call.done)

	return call.quote, call.err
}

// fetch performs the rate-limited, retried fetch and applies the degraded
// fallback.
func (c *CachedClient) fetch(ctx context.Context, ticker string) (Quote, error) {
	var quote Quote
	err := retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		q, err := c.source.GetPrice(fetchCtx, ticker)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})

	if err == nil {
		c.mu.Lock()
		c.quotes[ticker] = cachedQuote{quote: quote, fetchedAt: c.now()}
		c.mu.Unlock()
		return quote, nil
	}

	// Fall back to the last known value, tagged degraded.
	c.mu.Lock()
	cached, ok := c.quotes[ticker]
	c.mu.Unlock()
	if ok {
		stale := cached.quote
		stale.Degraded = true
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"ticker": ticker,
			"asOf":   stale.AsOf,
		}).Warn("Price fetch failed, serving last known value as degraded")
		return stale, nil
	}

	return Quote{}, errors.NewPriceSourceError(ticker, err)
}
