package likelihood

import (
	"context"
	"encoding/binary"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes successful evaluations keyed by the exact parameter
// vector bits. Rejected chains revisit points and store lookups are
// seconds-order, so hits are common. Failures are never cached.
type Cache struct {
	inner Evaluator
	lru   *lru.Cache[string, float64]
}

// WithCache wraps an evaluator with an LRU of the given size. A
// non-positive size disables the wrapper.
func WithCache(inner Evaluator, size int) Evaluator {
	if size <= 0 {
		return inner
	}
	c, err := lru.New[string, float64](size)
	if err != nil {
		return inner
	}
	return &Cache{inner: inner, lru: c}
}

func (c *Cache) LogLikelihood(ctx context.Context, vec []float64) (float64, error) {
	key := vectorKey(vec)
	if ll, ok := c.lru.Get(key); ok {
		return ll, nil
	}

	ll, err := c.inner.LogLikelihood(ctx, vec)
	if err != nil {
		return ll, err
	}

	c.lru.Add(key, ll)
	return ll, nil
}

func vectorKey(vec []float64) string {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return string(buf)
}
