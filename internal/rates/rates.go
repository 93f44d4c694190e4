// Package rates looks up exchange rates by racing redundant providers and
// keeps recent quotes in a cache.
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ledger-engine/internal/infrastructure/monitoring"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const checkSource = "exchange_rate"

type Quote struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	Provider  string          `json:"provider"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

type Provider interface {
	Name() string
	Quote(ctx context.Context, from, to string) (Quote, error)
}

func normalizePair(from, to string) (string, string, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if len(from) != 3 {
		return "", "", apperrors.NewValidationError(apperrors.ErrInvalidArgument, "from", fmt.Sprintf("currency code %q must have 3 letters", from))
	}
	if len(to) != 3 {
		return "", "", apperrors.NewValidationError(apperrors.ErrInvalidArgument, "to", fmt.Sprintf("currency code %q must have 3 letters", to))
	}
	return from, to, nil
}

// Racer asks every provider at once and keeps the first successful answer.
type Racer struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRacer(providers []Provider, timeout time.Duration, logger *slog.Logger) *Racer {
	if len(providers) == 0 {
		panic("rate racer needs at least one provider")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Racer{providers: providers, timeout: timeout, logger: logger.With("component", "RateRacer")}
}

type outcome struct {
	provider string
	quote    Quote
	err      error
}

// Fastest returns the first successful quote and cancels the providers still
// in flight. It fails with a CheckFailedError when every provider fails and
// with a TimeoutError when none answers before the deadline.
func (r *Racer) Fastest(ctx context.Context, from, to string) (Quote, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return Quote{}, err
	}

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make(chan outcome, len(r.providers))
	var g errgroup.Group
	for _, p := range r.providers {
		g.Go(func() error {
			q, err := p.Quote(rctx, from, to)
			results <- outcome{provider: p.Name(), quote: q, err: err}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	failures := map[string]any{}
	var errs []error
	for {
		select {
		case res, ok := <-results:
			if !ok {
				r.logger.WarnContext(ctx, "All rate providers failed", slog.String("pair", from+"/"+to), slog.Any("error", errors.Join(errs...)))
				return Quote{}, apperrors.NewCheckFailed(checkSource, fmt.Sprintf("all %d providers failed", len(r.providers)), errors.Join(errs...))
			}
			if res.err != nil {
				failures[res.provider] = res.err.Error()
				errs = append(errs, fmt.Errorf("%s: %w", res.provider, res.err))
				continue
			}
			cancel()
			q := res.quote
			q.From, q.To, q.Provider = from, to, res.provider
			if q.FetchedAt.IsZero() {
				q.FetchedAt = time.Now().UTC()
			}
			r.logger.DebugContext(ctx, "Rate race won", slog.String("provider", res.provider), slog.String("pair", from+"/"+to))
			return q, nil
		case <-rctx.Done():
			if ctx.Err() != nil {
				return Quote{}, ctx.Err()
			}
			var pending []string
			for _, p := range r.providers {
				if _, done := failures[p.Name()]; !done {
					pending = append(pending, p.Name())
				}
			}
			sort.Strings(pending)
			return Quote{}, &apperrors.TimeoutError{Deadline: r.timeout, Completed: failures, Pending: pending}
		}
	}
}

// Cache stores quotes per currency pair. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, from, to string) (*Quote, error)
	Set(ctx context.Context, q Quote, ttl time.Duration) error
}

// Service serves quotes from the cache and falls back to a provider race.
type Service struct {
	racer  *Racer
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewService builds a Service. cache may be nil, in which case every lookup
// goes to the providers.
func NewService(racer *Racer, cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if racer == nil {
		panic("rate service needs a racer")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{racer: racer, cache: cache, ttl: ttl, logger: logger.With("component", "RateService")}
}

func (s *Service) Quote(ctx context.Context, from, to string) (Quote, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return Quote{}, err
	}
	if from == to {
		return Quote{From: from, To: to, Rate: decimal.NewFromInt(1), Provider: "identity", FetchedAt: time.Now().UTC()}, nil
	}

	log := s.logger.With(slog.String("pair", from+"/"+to))
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, from, to)
		if err != nil {
			log.WarnContext(ctx, "Rate cache read failed, querying providers", slog.Any("error", err))
		} else if cached != nil {
			monitoring.RecordRateLookup("cache")
			return *cached, nil
		}
	}

	q, err := s.racer.Fastest(ctx, from, to)
	if err != nil {
		monitoring.RecordRateLookup("failed")
		return Quote{}, err
	}
	monitoring.RecordRateLookup(q.Provider)

	if s.cache != nil {
		if err := s.cache.Set(ctx, q, s.ttl); err != nil {
			log.WarnContext(ctx, "Rate cache write failed", slog.Any("error", err))
		}
	}
	return q, nil
}
