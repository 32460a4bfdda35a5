package ap

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// MemoryRepository is an in-process RepositoryPort.
type MemoryRepository struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	state  memoryState
	nextID int64
}

type memoryState struct {
	invoices map[int64]Invoice
	results  []MatchingResult
	payments []Payment
	configs  map[int64]MatchingConfig
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		invoices: make(map[int64]Invoice, len(s.invoices)),
		results:  append([]MatchingResult(nil), s.results...),
		payments: append([]Payment(nil), s.payments...),
		configs:  make(map[int64]MatchingConfig, len(s.configs)),
	}
	for k, v := range s.invoices {
		v.Lines = append([]InvoiceLine(nil), v.Lines...)
		out.invoices[k] = v
	}
	for k, v := range s.configs {
		out.configs[k] = v
	}
	return out
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: memoryState{invoices: map[int64]Invoice{}, configs: map[int64]MatchingConfig{}}}
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
	saved := r.state.clone()
	r.mu.Unlock()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, r), memoryTx{r}); err != nil {
		r.mu.Lock()
		r.state = saved
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[id]
	if !ok {
		return Invoice{}, shared.NotFound("supplier invoice", id)
	}
	inv.Lines = append([]InvoiceLine(nil), inv.Lines...)
	return inv, nil
}

func (r *MemoryRepository) ListPayments(_ context.Context, invoiceID int64) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.state.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) LatestMatchingResult(_ context.Context, invoiceID int64) (MatchingResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.state.results) - 1; i >= 0; i-- {
		if r.state.results[i].InvoiceID == invoiceID {
			return r.state.results[i], nil
		}
	}
	return MatchingResult{}, shared.NotFound("matching result for invoice", invoiceID)
}

// Configs lists every stored config, active or not.
func (r *MemoryRepository) Configs() []MatchingConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MatchingConfig, 0, len(r.state.configs))
	for id := int64(1); id <= r.nextID; id++ {
		if c, ok := r.state.configs[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

type memoryTx struct{ r *MemoryRepository }

func (t memoryTx) id() int64 {
	t.r.nextID++
	return t.r.nextID
}

func (t memoryTx) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	inv.ID = t.id()
	inv.Lines = append([]InvoiceLine(nil), inv.Lines...)
	for i := range inv.Lines {
		inv.Lines[i].ID = t.id()
		inv.Lines[i].InvoiceID = inv.ID
	}
	t.r.state.invoices[inv.ID] = inv
	out := inv
	out.Lines = append([]InvoiceLine(nil), inv.Lines...)
	return out, nil
}

func (t memoryTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return t.r.GetInvoice(ctx, id)
}

func (t memoryTx) UpdateInvoice(_ context.Context, inv Invoice) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	cur, ok := t.r.state.invoices[inv.ID]
	if !ok {
		return shared.NotFound("supplier invoice", inv.ID)
	}
	inv.Lines = cur.Lines
	t.r.state.invoices[inv.ID] = inv
	return nil
}

func (t memoryTx) UpdateInvoiceLines(_ context.Context, lines []InvoiceLine) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, l := range lines {
		inv, ok := t.r.state.invoices[l.InvoiceID]
		if !ok {
			return shared.NotFound("supplier invoice", l.InvoiceID)
		}
		updated := append([]InvoiceLine(nil), inv.Lines...)
		for i := range updated {
			if updated[i].ID == l.ID {
				updated[i] = l
			}
		}
		inv.Lines = updated
		t.r.state.invoices[inv.ID] = inv
	}
	return nil
}

func (t memoryTx) SupplierInvoiceNumberTaken(_ context.Context, supplierID int64, number string) (bool, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, inv := range t.r.state.invoices {
		if inv.SupplierID == supplierID && inv.SupplierInvoiceNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (t memoryTx) InsertMatchingResult(_ context.Context, res MatchingResult) (MatchingResult, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	res.ID = t.id()
	t.r.state.results = append(t.r.state.results, res)
	return res, nil
}

func (t memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	p.ID = t.id()
	t.r.state.payments = append(t.r.state.payments, p)
	return p, nil
}

func (t memoryTx) ActiveConfig(_ context.Context, scope ConfigScope, supplierID *int64) (MatchingConfig, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, c := range t.r.state.configs {
		if !c.Active || c.Scope != scope {
			continue
		}
		if scope == ScopeSupplier && (c.SupplierID == nil || supplierID == nil || *c.SupplierID != *supplierID) {
			continue
		}
		return c, nil
	}
	var id int64
	if supplierID != nil {
		id = *supplierID
	}
	return MatchingConfig{}, shared.NotFound("matching config "+string(scope), id)
}

func (t memoryTx) InsertConfig(_ context.Context, cfg MatchingConfig) (MatchingConfig, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	cfg.ID = t.id()
	t.r.state.configs[cfg.ID] = cfg
	return cfg, nil
}

func (t memoryTx) DeactivateConfig(_ context.Context, id int64) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	c, ok := t.r.state.configs[id]
	if !ok {
		return shared.NotFound("matching config", id)
	}
	c.Active = false
	t.r.state.configs[id] = c
	return nil
}
