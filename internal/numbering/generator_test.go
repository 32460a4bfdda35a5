package numbering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func TestGenerateFormatsPeriodScopedNumbers(t *testing.T) {
	clock := shared.FixedClock{T: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	gen := NewGenerator(NewMemoryStore(), clock)

	first, err := gen.Generate(context.Background(), PrefixPurchaseRequest)
	require.NoError(t, err)
	require.Equal(t, "PR-202501-0001", first)

	second, err := gen.Generate(context.Background(), PrefixPurchaseRequest)
	require.NoError(t, err)
	require.Equal(t, "PR-202501-0002", second)

	other, err := gen.Generate(context.Background(), PrefixPurchaseOrder)
	require.NoError(t, err)
	require.Equal(t, "PO-202501-0001", other)
}

func TestGenerateResetsOnPeriodRollover(t *testing.T) {
	clock := &mutableClock{t: time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC)}
	gen := NewGenerator(NewMemoryStore(), clock)

	n, err := gen.Generate(context.Background(), PrefixGoodsReceipt)
	require.NoError(t, err)
	require.Equal(t, "GR-202501-0001", n)

	clock.Set(time.Date(2025, 2, 1, 0, 0, 1, 0, time.UTC))
	n, err = gen.Generate(context.Background(), PrefixGoodsReceipt)
	require.NoError(t, err)
	require.Equal(t, "GR-202502-0001", n)
}

func TestGenerateConcurrentCallersGetDenseSequence(t *testing.T) {
	clock := shared.FixedClock{T: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	gen := NewGenerator(NewMemoryStore(), clock)

	const callers = 64
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := gen.Generate(context.Background(), PrefixPickingOrder)
			if err == nil {
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	var seqs []int
	seen := map[string]bool{}
	for n := range results {
		require.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
		parsed, err := Parse(n)
		require.NoError(t, err)
		require.Equal(t, "202503", parsed.Period)
		seqs = append(seqs, int(parsed.Sequence))
	}
	require.Len(t, seqs, callers)
	sort.Ints(seqs)
	for i, s := range seqs {
		require.Equal(t, i+1, s)
	}
}

func TestGenerateRejectsBadPrefix(t *testing.T) {
	gen := NewGenerator(NewMemoryStore(), nil)
	_, err := gen.Generate(context.Background(), "po")
	require.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestGeneratePropagatesLockFailure(t *testing.T) {
	store := NewMemoryStore()
	store.Fail = errors.New("lock timeout")
	gen := NewGenerator(store, nil)
	_, err := gen.Generate(context.Background(), PrefixPayment)
	require.ErrorContains(t, err, "lock timeout")
}

func TestFormatWidensPastFourDigits(t *testing.T) {
	require.Equal(t, "SI-202512-10000", Format("SI", "202512", 10000))
	parsed, err := Parse("SI-202512-10000")
	require.NoError(t, err)
	require.Equal(t, int64(10000), parsed.Sequence)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "PR-2025-0001", "PR-202501-01", "pr-202501-0001", "PR-202501-0000"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, ErrMalformedNumber, fmt.Sprintf("input %q", in))
	}
}
