package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// MemoryRepository keeps workflows and approvals in process.
type MemoryRepository struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	workflows map[string]Workflow
	approvals []Approval
	nextStep  int64
	nextWF    int64
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{workflows: map[string]Workflow{}}
}

var _ RepositoryPort = (*MemoryRepository)(nil)

// PutWorkflow registers wf, assigning ids to it and its steps.
func (r *MemoryRepository) PutWorkflow(wf Workflow) Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextWF++
	wf.ID = r.nextWF
	for i := range wf.Steps {
		r.nextStep++
		wf.Steps[i].ID = r.nextStep
		wf.Steps[i].WorkflowID = wf.ID
	}
	r.workflows[wf.Code] = wf
	return wf
}

type memoryTxKey struct{}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if ctx.Value(memoryTxKey{}) == r {
		return fn(ctx, memoryTx{r})
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.Lock()
	snapshot := append([]Approval(nil), r.approvals...)
	r.mu.Unlock()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, r), memoryTx{r}); err != nil {
		r.mu.Lock()
		r.approvals = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) GetWorkflowByCode(_ context.Context, code string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[code]
	if !ok || !wf.Active {
		return Workflow{}, &shared.Error{Kind: shared.KindNotFound, Message: fmt.Sprintf("approval workflow %s not found", code)}
	}
	return wf, nil
}

func (r *MemoryRepository) ListApprovals(_ context.Context, ref shared.DocumentRef) ([]Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRef(ref), nil
}

func (r *MemoryRepository) byRef(ref shared.DocumentRef) []Approval {
	var out []Approval
	for _, a := range r.approvals {
		if a.Document == ref {
			out = append(out, a)
		}
	}
	return out
}

func (r *MemoryRepository) ListStalePending(_ context.Context, createdBefore time.Time) ([]Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Approval
	for _, a := range r.approvals {
		if a.Status == StatusPending && a.CreatedAt.Before(createdBefore) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memoryTx struct {
	r *MemoryRepository
}

func (t memoryTx) InsertApproval(_ context.Context, a Approval) (int64, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	a.ID = int64(len(t.r.approvals) + 1)
	t.r.approvals = append(t.r.approvals, a)
	return a.ID, nil
}

func (t memoryTx) GetApprovalForUpdate(_ context.Context, id int64) (Approval, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, a := range t.r.approvals {
		if a.ID == id {
			return a, nil
		}
	}
	return Approval{}, shared.NotFound("approval", id)
}

func (t memoryTx) ListApprovalsForUpdate(_ context.Context, ref shared.DocumentRef) ([]Approval, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	return t.r.byRef(ref), nil
}

func (t memoryTx) UpdateApproval(_ context.Context, a Approval) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for i := range t.r.approvals {
		if t.r.approvals[i].ID == a.ID {
			t.r.approvals[i] = a
			return nil
		}
	}
	return shared.NotFound("approval", a.ID)
}
