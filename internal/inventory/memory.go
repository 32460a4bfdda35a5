package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// MemoryRepository is an in-process RepositoryPort for tests and tooling.
// WithTx serializes callers, mirroring the row locks of the Postgres store.
type MemoryRepository struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	movements []Movement
	balances  map[BalanceKey]decimal.Decimal
	serials   []SerialUnit
}

// NewMemoryRepository returns an empty ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{balances: map[BalanceKey]decimal.Decimal{}}
}

var _ RepositoryPort = (*MemoryRepository)(nil)

type memoryTxKey struct{}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if ctx.Value(memoryTxKey{}) == r {
		return fn(ctx, memoryTx{r})
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, r), memoryTx{r})
}

// Movements returns a copy of the ledger.
func (r *MemoryRepository) Movements() []Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Movement, len(r.movements))
	copy(out, r.movements)
	return out
}

func (r *MemoryRepository) GetMovement(_ context.Context, id int64) (Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.movements {
		if m.ID == id {
			return m, nil
		}
	}
	return Movement{}, shared.NotFound("stock movement", id)
}

func (r *MemoryRepository) LedgerBalances(_ context.Context, f OnHandFilter) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Aggregate(r.movements, f), nil
}

func (r *MemoryRepository) CachedBalances(_ context.Context, f OnHandFilter) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Balance
	for k, q := range r.balances {
		if f.LocationID != nil && *f.LocationID != k.LocationID {
			continue
		}
		if f.ItemID != nil && *f.ItemID != k.ItemID {
			continue
		}
		if f.UOMID != nil && *f.UOMID != k.UOMID {
			continue
		}
		out = append(out, Balance{BalanceKey: k, Qty: q})
	}
	SortBalances(out)
	return out, nil
}

func (r *MemoryRepository) ListSerials(_ context.Context, goodsReceiptLineID int64) ([]SerialUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SerialUnit
	for _, u := range r.serials {
		if u.GoodsReceiptLineID == goodsReceiptLineID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryTx struct {
	r *MemoryRepository
}

func (t memoryTx) InsertMovement(_ context.Context, m Movement) (int64, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	m.ID = int64(len(t.r.movements) + 1)
	t.r.movements = append(t.r.movements, m)
	return m.ID, nil
}

func (t memoryTx) AdjustBalance(_ context.Context, key BalanceKey, delta decimal.Decimal) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	next := t.r.balances[key].Add(delta)
	if next.IsZero() {
		delete(t.r.balances, key)
		return nil
	}
	t.r.balances[key] = next
	return nil
}

func (t memoryTx) ReplaceBalances(_ context.Context, balances []Balance) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.balances = map[BalanceKey]decimal.Decimal{}
	for _, b := range balances {
		if !b.Qty.IsZero() {
			t.r.balances[b.BalanceKey] = b.Qty
		}
	}
	return nil
}

func (t memoryTx) InsertSerials(_ context.Context, units []SerialUnit) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, u := range units {
		for _, existing := range t.r.serials {
			if existing.ItemID == u.ItemID && existing.Serial == u.Serial {
				return shared.Validation("serials", "serial "+u.Serial+" already registered")
			}
		}
	}
	for _, u := range units {
		u.ID = int64(len(t.r.serials) + 1)
		t.r.serials = append(t.r.serials, u)
	}
	return nil
}

func (t memoryTx) RelocateSerials(_ context.Context, goodsReceiptLineID, fromLocationID, toLocationID int64, limit int) (int, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	moved := 0
	for i := range t.r.serials {
		if moved == limit {
			break
		}
		u := &t.r.serials[i]
		if u.GoodsReceiptLineID == goodsReceiptLineID && u.LocationID == fromLocationID {
			u.LocationID = toLocationID
			moved++
		}
	}
	return moved, nil
}
