package putaway

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// MemoryRepository is an in-process RepositoryPort used by tests and the
// fixture world.
type MemoryRepository struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	docs   map[int64]PutAway
	nextID int64
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: map[int64]PutAway{}}
}

var _ RepositoryPort = (*MemoryRepository)(nil)

type memoryTxKey struct{}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if ctx.Value(memoryTxKey{}) == r {
		return fn(ctx, memoryTx{r})
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.Lock()
	saved := make(map[int64]PutAway, len(r.docs))
	for k, v := range r.docs {
		saved[k] = v
	}
	r.mu.Unlock()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, r), memoryTx{r}); err != nil {
		r.mu.Lock()
		r.docs = saved
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (PutAway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pa, ok := r.docs[id]
	if !ok {
		return PutAway{}, shared.NotFound("put-away", id)
	}
	return clone(pa), nil
}

func (r *MemoryRepository) ListByGoodsReceipt(_ context.Context, goodsReceiptID int64) ([]PutAway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PutAway
	for _, pa := range r.docs {
		if pa.GoodsReceiptID == goodsReceiptID {
			out = append(out, clone(pa))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryTx struct{ r *MemoryRepository }

func (t memoryTx) Insert(_ context.Context, pa PutAway) (PutAway, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.nextID++
	pa.ID = t.r.nextID
	pa = clone(pa)
	for i := range pa.Lines {
		t.r.nextID++
		pa.Lines[i].ID = t.r.nextID
		pa.Lines[i].PutAwayID = pa.ID
	}
	t.r.docs[pa.ID] = pa
	return clone(pa), nil
}

func (t memoryTx) Lock(ctx context.Context, id int64) (PutAway, error) {
	return t.r.Get(ctx, id)
}

func (t memoryTx) Update(_ context.Context, pa PutAway) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if _, ok := t.r.docs[pa.ID]; !ok {
		return shared.NotFound("put-away", pa.ID)
	}
	t.r.docs[pa.ID] = clone(pa)
	return nil
}

func (t memoryTx) PostedQtyByReceiptLine(_ context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	out := map[int64]decimal.Decimal{}
	for _, pa := range t.r.docs {
		if pa.GoodsReceiptID != goodsReceiptID || pa.Status != StatusPosted {
			continue
		}
		for _, l := range pa.Lines {
			out[l.GoodsReceiptLineID] = out[l.GoodsReceiptLineID].Add(l.Qty)
		}
	}
	return out, nil
}

func clone(pa PutAway) PutAway {
	pa.Lines = append([]Line(nil), pa.Lines...)
	return pa
}
