package procurement

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// MemoryRepository is an in-process RepositoryPort. WithTx serializes callers
// and restores the previous state when fn fails.
type MemoryRepository struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	prs    map[int64]PurchaseRequest
	pos    map[int64]PurchaseOrder
	grs    map[int64]GoodsReceipt
	nextID int64
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		prs: map[int64]PurchaseRequest{},
		pos: map[int64]PurchaseOrder{},
		grs: map[int64]GoodsReceipt{},
	}
}

var _ RepositoryPort = (*MemoryRepository)(nil)

type memoryTxKey struct{}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if ctx.Value(memoryTxKey{}) == r {
		return fn(ctx, memoryTx{r})
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	prs, pos, grs := r.snapshot()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, r), memoryTx{r}); err != nil {
		r.mu.Lock()
		r.prs, r.pos, r.grs = prs, pos, grs
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) snapshot() (map[int64]PurchaseRequest, map[int64]PurchaseOrder, map[int64]GoodsReceipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prs := make(map[int64]PurchaseRequest, len(r.prs))
	for k, v := range r.prs {
		prs[k] = v
	}
	pos := make(map[int64]PurchaseOrder, len(r.pos))
	for k, v := range r.pos {
		pos[k] = v
	}
	grs := make(map[int64]GoodsReceipt, len(r.grs))
	for k, v := range r.grs {
		grs[k] = v
	}
	return prs, pos, grs
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) GetPR(_ context.Context, id int64) (PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.prs[id]
	if !ok {
		return PurchaseRequest{}, shared.NotFound("purchase request", id)
	}
	return clonePR(pr), nil
}

func (r *MemoryRepository) GetPO(_ context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, shared.NotFound("purchase order", id)
	}
	return clonePO(po), nil
}

func (r *MemoryRepository) GetGR(_ context.Context, id int64) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gr, ok := r.grs[id]
	if !ok {
		return GoodsReceipt{}, shared.NotFound("goods receipt", id)
	}
	return cloneGR(gr), nil
}

func (r *MemoryRepository) GetPOLine(_ context.Context, id int64) (POLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, po := range r.pos {
		for _, l := range po.Lines {
			if l.ID == id {
				return l, nil
			}
		}
	}
	return POLine{}, shared.NotFound("purchase order line", id)
}

func (r *MemoryRepository) GetGRLine(_ context.Context, id int64) (GRLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, gr := range r.grs {
		for _, l := range gr.Lines {
			if l.ID == id {
				return l, nil
			}
		}
	}
	return GRLine{}, shared.NotFound("goods receipt line", id)
}

func clonePR(pr PurchaseRequest) PurchaseRequest {
	pr.Lines = append([]PRLine(nil), pr.Lines...)
	return pr
}

func clonePO(po PurchaseOrder) PurchaseOrder {
	po.Lines = append([]POLine(nil), po.Lines...)
	po.RequestIDs = append([]int64(nil), po.RequestIDs...)
	return po
}

func cloneGR(gr GoodsReceipt) GoodsReceipt {
	gr.Lines = append([]GRLine(nil), gr.Lines...)
	return gr
}

type memoryTx struct {
	r *MemoryRepository
}

func (t memoryTx) InsertPR(_ context.Context, pr PurchaseRequest) (PurchaseRequest, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	pr.ID = t.r.id()
	pr = clonePR(pr)
	for i := range pr.Lines {
		pr.Lines[i].ID = t.r.id()
		pr.Lines[i].PurchaseRequestID = pr.ID
	}
	t.r.prs[pr.ID] = pr
	return clonePR(pr), nil
}

func (t memoryTx) LockPR(ctx context.Context, id int64) (PurchaseRequest, error) {
	return t.r.GetPR(ctx, id)
}

func (t memoryTx) UpdatePR(_ context.Context, pr PurchaseRequest) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	cur, ok := t.r.prs[pr.ID]
	if !ok {
		return shared.NotFound("purchase request", pr.ID)
	}
	pr.Lines = cur.Lines
	t.r.prs[pr.ID] = pr
	return nil
}

func (t memoryTx) InsertPO(_ context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	po.ID = t.r.id()
	po = clonePO(po)
	for i := range po.Lines {
		po.Lines[i].ID = t.r.id()
		po.Lines[i].PurchaseOrderID = po.ID
	}
	t.r.pos[po.ID] = po
	return clonePO(po), nil
}

func (t memoryTx) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return t.r.GetPO(ctx, id)
}

func (t memoryTx) UpdatePO(_ context.Context, po PurchaseOrder) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	cur, ok := t.r.pos[po.ID]
	if !ok {
		return shared.NotFound("purchase order", po.ID)
	}
	po.Lines = cur.Lines
	po.RequestIDs = cur.RequestIDs
	t.r.pos[po.ID] = po
	return nil
}

func (t memoryTx) InsertGR(_ context.Context, gr GoodsReceipt) (GoodsReceipt, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	gr.ID = t.r.id()
	gr = cloneGR(gr)
	for i := range gr.Lines {
		gr.Lines[i].ID = t.r.id()
		gr.Lines[i].GoodsReceiptID = gr.ID
	}
	t.r.grs[gr.ID] = gr
	return cloneGR(gr), nil
}

func (t memoryTx) LockGR(ctx context.Context, id int64) (GoodsReceipt, error) {
	return t.r.GetGR(ctx, id)
}

func (t memoryTx) UpdateGR(_ context.Context, gr GoodsReceipt) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	cur, ok := t.r.grs[gr.ID]
	if !ok {
		return shared.NotFound("goods receipt", gr.ID)
	}
	gr.Lines = cur.Lines
	t.r.grs[gr.ID] = gr
	return nil
}

func (t memoryTx) ReceivedByPOLine(_ context.Context, purchaseOrderID int64) (map[int64]decimal.Decimal, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	out := map[int64]decimal.Decimal{}
	for _, gr := range t.r.grs {
		if gr.PurchaseOrderID != purchaseOrderID || !gr.Status.IsPosted() {
			continue
		}
		for _, l := range gr.Lines {
			out[l.PurchaseOrderLineID] = out[l.PurchaseOrderLineID].Add(l.ReceivedQty)
		}
	}
	return out, nil
}
