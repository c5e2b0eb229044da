// Package ordernumber issues human-readable, unique order numbers such as
// WS20261016000042.
package ordernumber

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/willshop/storefront/pkg/redis"
)

const (
	dayLayout     = "20060102"
	sequenceWidth = 6
	// Keys outlive their day so late commits near midnight still increment.
	sequenceTTL = 48 * time.Hour
)

// Generator returns the next order number.
type Generator interface {
	Next(ctx context.Context) (string, error)
}

// Sequence numbers orders per UTC day with a Redis counter. When Redis is
// unavailable it falls back to a random suffix; the unique index on
// orders.order_no remains the final guard.
type Sequence struct {
	counter  redis.Counter
	prefix   string
	now      func() time.Time
	fallback Generator
}

func NewSequence(counter redis.Counter, prefix string) *Sequence {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	return &Sequence{
		counter:  counter,
		prefix:   prefix,
		now:      time.Now,
		fallback: NewRandom(prefix),
	}
}

func (s *Sequence) Next(ctx context.Context) (string, error) {
	day := s.now().UTC().Format(dayLayout)
	if s.counter == nil {
		return s.fallback.Next(ctx)
	}

	n, err := s.counter.IncrWithTTL(ctx, s.counter.CounterKey("order_no:"+day), sequenceTTL)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return s.fallback.Next(ctx)
	}
	return fmt.Sprintf("%s%s%0*d", s.prefix, day, sequenceWidth, n), nil
}

// Random builds numbers from the current second plus six random digits.
type Random struct {
	prefix string
	now    func() time.Time
}

func NewRandom(prefix string) *Random {
	return &Random{prefix: strings.ToUpper(strings.TrimSpace(prefix)), now: time.Now}
}

func (r *Random) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("random order suffix: %w", err)
	}
	return fmt.Sprintf("%s%sR%06d", r.prefix, r.now().UTC().Format("20060102150405"), n.Int64()), nil
}
