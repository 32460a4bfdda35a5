package numbering_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

func TestPGStoreConcurrentTransactions(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	gen := numbering.NewGenerator(numbering.NewPGStore(pool), shared.FixedClock{T: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)})

	const callers = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []string
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.WithTx(context.Background(), pool, func(ctx context.Context) error {
				n, err := gen.Generate(ctx, numbering.PrefixPurchaseOrder)
				if err != nil {
					return err
				}
				mu.Lock()
				got = append(got, n)
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	sort.Strings(got)
	require.Len(t, got, callers)
	for i, n := range got {
		require.Equal(t, numbering.Format("PO", "202505", int64(i+1)), n)
	}
}

func TestPGStoreRollbackReleasesNumber(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	gen := numbering.NewGenerator(numbering.NewPGStore(pool), shared.FixedClock{T: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)})

	err := db.WithTx(context.Background(), pool, func(ctx context.Context) error {
		_, err := gen.Generate(ctx, numbering.PrefixPutAway)
		require.NoError(t, err)
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	n, err := gen.Generate(context.Background(), numbering.PrefixPutAway)
	require.NoError(t, err)
	require.Equal(t, "PA-202506-0001", n)
}
