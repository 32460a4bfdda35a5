package picking

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// MemoryRepository is an in-process RepositoryPort.
type MemoryRepository struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	docs   map[int64]Order
	nextID int64
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: map[int64]Order{}}
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
	saved := make(map[int64]Order, len(r.docs))
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

func (r *MemoryRepository) Get(_ context.Context, id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.docs[id]
	if !ok {
		return Order{}, shared.NotFound("picking order", id)
	}
	o.Lines = append([]Line(nil), o.Lines...)
	return o, nil
}

type memoryTx struct{ r *MemoryRepository }

func (t memoryTx) Insert(_ context.Context, o Order) (Order, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.nextID++
	o.ID = t.r.nextID
	o.Lines = append([]Line(nil), o.Lines...)
	for i := range o.Lines {
		t.r.nextID++
		o.Lines[i].ID = t.r.nextID
		o.Lines[i].PickingOrderID = o.ID
	}
	t.r.docs[o.ID] = o
	out := o
	out.Lines = append([]Line(nil), o.Lines...)
	return out, nil
}

func (t memoryTx) Lock(ctx context.Context, id int64) (Order, error) {
	return t.r.Get(ctx, id)
}

func (t memoryTx) Update(_ context.Context, o Order) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if _, ok := t.r.docs[o.ID]; !ok {
		return shared.NotFound("picking order", o.ID)
	}
	o.Lines = append([]Line(nil), o.Lines...)
	t.r.docs[o.ID] = o
	return nil
}
