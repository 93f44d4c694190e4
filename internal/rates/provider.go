package rates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ledger-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// StaticProvider answers from a fixed table keyed "FROM/TO". The inverse of a
// listed pair is derived. Latency delays every answer.
type StaticProvider struct {
	name    string
	rates   map[string]decimal.Decimal
	Latency time.Duration
}

func NewStaticProvider(name string, table map[string]string) (*StaticProvider, error) {
	rates := make(map[string]decimal.Decimal, len(table))
	for pair, raw := range table {
		from, to, ok := strings.Cut(strings.ToUpper(pair), "/")
		if !ok {
			return nil, fmt.Errorf("%w: rate pair %q must look like USD/EUR", apperrors.ErrInvalidArgument, pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("%w: rate %q for %s is not a positive number", apperrors.ErrInvalidArgument, raw, pair)
		}
		rates[from+"/"+to] = rate
	}
	return &StaticProvider{name: name, rates: rates}, nil
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) Quote(ctx context.Context, from, to string) (Quote, error) {
	if p.Latency > 0 {
		t := time.NewTimer(p.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		}
	}

	if rate, ok := p.rates[from+"/"+to]; ok {
		return Quote{From: from, To: to, Rate: rate, Provider: p.name}, nil
	}
	if rate, ok := p.rates[to+"/"+from]; ok {
		return Quote{From: from, To: to, Rate: decimal.NewFromInt(1).DivRound(rate, 8), Provider: p.name}, nil
	}
	return Quote{}, fmt.Errorf("%w: no rate for %s/%s", apperrors.ErrNotFound, from, to)
}

type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, from, to string) (Quote, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) Quote(ctx context.Context, from, to string) (Quote, error) {
	return p.Fn(ctx, from, to)
}
