package ledger

import (
	"fmt"
	"strings"
	"time"

	"ledger-engine/internal/config"
	"ledger-engine/internal/pkg/apperrors"
)

type Strategy int

const (
	// Optimistic reads without locking and writes back under a version check.
	Optimistic Strategy = iota
	// Pessimistic holds an exclusive lock per account for the read-modify-write.
	Pessimistic
)

func (s Strategy) String() string {
	switch s {
	case Optimistic:
		return "optimistic"
	case Pessimistic:
		return "pessimistic"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "optimistic":
		return Optimistic, nil
	case "pessimistic":
		return Pessimistic, nil
	}
	return Optimistic, fmt.Errorf("%w: unknown ledger strategy %q", apperrors.ErrInvalidArgument, s)
}

type Options struct {
	Strategy    Strategy
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Strategy:    Optimistic,
		MaxAttempts: 3,
		BaseBackoff: 10 * time.Millisecond,
		MaxBackoff:  200 * time.Millisecond,
	}
}

func OptionsFromConfig(cfg config.LedgerConfig) (Options, error) {
	opts := DefaultOptions()
	strategy, err := ParseStrategy(cfg.DefaultStrategy)
	if err != nil {
		return opts, err
	}
	opts.Strategy = strategy
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseBackoff > 0 {
		opts.BaseBackoff = cfg.BaseBackoff
	}
	if cfg.MaxBackoff > 0 {
		opts.MaxBackoff = cfg.MaxBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	return opts, nil
}

type callOptions struct {
	strategy    Strategy
	maxAttempts int
}

// CallOption overrides the ledger defaults for a single operation.
type CallOption func(*callOptions)

func WithStrategy(s Strategy) CallOption {
	return func(o *callOptions) { o.strategy = s }
}

// WithMaxAttempts bounds the total number of tries, including the first.
// Values below one are treated as one.
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n < 1 {
			n = 1
		}
		o.maxAttempts = n
	}
}
