package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func ptr[T any](v T) *T { return &v }

const (
	deptOps  int64 = 3
	opsHead  int64 = 30
	workflow       = "PO_DEFAULT"
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	recorder *notify.Recorder
	clock    *tickClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := NewMemoryRepository()
	repo.PutWorkflow(Workflow{
		Code:         workflow,
		Name:         "Purchase order approval",
		DocumentKind: shared.DocPurchaseOrder,
		Active:       true,
		Steps: []Step{
			{Sequence: 1, Name: "head", ApproverType: ApproverDepartmentHead},
			{Sequence: 2, Name: "finance", ApproverType: ApproverRole, ApproverRole: shared.RoleFinance},
			{Sequence: 3, Name: "director", ApproverType: ApproverRole, ApproverRole: shared.RoleDirector,
				Condition: &Condition{Field: "total", Operator: OpGT, Value: 10000}},
		},
	})
	lookup := masterdata.NewMemoryLookup().PutDepartment(masterdata.Department{ID: deptOps, Name: "Ops", HeadUserID: ptr(opsHead)})
	rec := &notify.Recorder{}
	clock := &tickClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	return fixture{svc: NewService(repo, lookup, rec, clock, nil), repo: repo, recorder: rec, clock: clock}
}

func poDoc(id int64, total string) Document {
	return Document{
		Ref:         shared.DocumentRef{Kind: shared.DocPurchaseOrder, ID: id},
		Number:      "PO-202603-0001",
		RequestedBy: 12,
		Fields:      map[string]any{"total": decimal.RequireFromString(total), DepartmentField: deptOps},
	}
}

var (
	head     = shared.StaticActor{UserID: opsHead}
	finance  = shared.StaticActor{UserID: 41, Roles: []string{shared.RoleFinance}}
	director = shared.StaticActor{UserID: 42, Roles: []string{shared.RoleDirector}}
)

func TestInitiateSkipsStepsWhoseConditionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Initiate(ctx, poDoc(1, "500"), workflow)
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, opsHead, *created[0].AssignedToUserID)
	require.Equal(t, shared.RoleFinance, *created[1].AssignedToRole)

	events := f.recorder.OfType(notify.ApprovalRequired)
	require.Len(t, events, 1)
	require.Equal(t, opsHead, *events[0].Recipient.UserID)
	require.Equal(t, "PO-202603-0001", events[0].DocumentNumber)

	big, err := f.svc.Initiate(ctx, poDoc(2, "25000"), workflow)
	require.NoError(t, err)
	require.Len(t, big, 3)
}

func TestApproveIsSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := poDoc(1, "25000")
	created, err := f.svc.Initiate(ctx, doc, workflow)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, finance, created[1].ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Approve(ctx, finance, created[0].ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.Approve(ctx, head, created[0].ID, "ok")
	require.NoError(t, err)
	next, ok, err := f.svc.GetNextPendingApproval(ctx, doc.Ref)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, created[1].ID, next.ID)

	required := f.recorder.OfType(notify.ApprovalRequired)
	require.Len(t, required, 2)
	require.Equal(t, shared.RoleFinance, required[1].Recipient.Role)

	_, err = f.svc.Approve(ctx, finance, created[1].ID, "")
	require.NoError(t, err)
	done, err := f.svc.IsWorkflowComplete(ctx, doc.Ref)
	require.NoError(t, err)
	require.False(t, done)

	_, err = f.svc.Approve(ctx, director, created[2].ID, "")
	require.NoError(t, err)
	done, err = f.svc.IsWorkflowComplete(ctx, doc.Ref)
	require.NoError(t, err)
	require.True(t, done)
	approved := f.recorder.OfType(notify.DocumentApproved)
	require.Len(t, approved, 1)
	require.Equal(t, int64(12), *approved[0].Recipient.UserID)

	_, err = f.svc.Approve(ctx, director, created[2].ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestRejectCancelsRemainingSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := poDoc(1, "25000")
	created, err := f.svc.Initiate(ctx, doc, workflow)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, head, created[0].ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Reject(ctx, head, created[0].ID, "over budget")
	require.NoError(t, err)

	rows, err := f.svc.ListApprovals(ctx, doc.Ref)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rows[0].Status)
	require.Equal(t, StatusCancelled, rows[1].Status)
	require.Equal(t, StatusCancelled, rows[2].Status)

	rejected, err := f.svc.IsWorkflowRejected(ctx, doc.Ref)
	require.NoError(t, err)
	require.True(t, rejected)
	events := f.recorder.OfType(notify.DocumentRejected)
	require.Len(t, events, 1)
	require.Equal(t, "over budget", events[0].Payload["reason"])
	done, err := f.svc.IsWorkflowComplete(ctx, doc.Ref)
	require.NoError(t, err)
	require.True(t, done)
	_, ok, err := f.svc.GetNextPendingApproval(ctx, doc.Ref)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCancelPendingAndReinitiate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := poDoc(1, "500")
	created, err := f.svc.Initiate(ctx, doc, workflow)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, head, created[0].ID, "")
	require.NoError(t, err)

	_, err = f.svc.Initiate(ctx, doc, workflow)
	require.ErrorIs(t, err, shared.ErrConflict)

	n, err := f.svc.CancelPending(ctx, doc.Ref, 9, "reopened")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	again, err := f.svc.Initiate(ctx, doc, workflow)
	require.NoError(t, err)
	require.Len(t, again, 2)

	done, err := f.svc.IsWorkflowComplete(ctx, doc.Ref)
	require.NoError(t, err)
	require.False(t, done)
	rejected, err := f.svc.IsWorkflowRejected(ctx, doc.Ref)
	require.NoError(t, err)
	require.False(t, rejected)
}

func TestReinitiateAfterRejectStartsFreshRound(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.repo, f.svc.lookup, f.recorder, shared.FixedClock{T: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}, nil)
	ctx := context.Background()
	doc := poDoc(1, "500")

	first, err := svc.Initiate(ctx, doc, workflow)
	require.NoError(t, err)
	require.Equal(t, 1, first[0].Round)
	_, err = svc.Reject(ctx, head, first[0].ID, "wrong supplier")
	require.NoError(t, err)
	rejected, err := svc.IsWorkflowRejected(ctx, doc.Ref)
	require.NoError(t, err)
	require.True(t, rejected)

	second, err := svc.Initiate(ctx, doc, workflow)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for _, a := range second {
		require.Equal(t, 2, a.Round)
		require.True(t, a.CreatedAt.Equal(first[0].CreatedAt))
	}
	rejected, err = svc.IsWorkflowRejected(ctx, doc.Ref)
	require.NoError(t, err)
	require.False(t, rejected)
}

func TestInitiateUnknownWorkflowAndKindMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, poDoc(1, "1"), "MISSING")
	require.ErrorIs(t, err, shared.ErrNotFound)

	pr := Document{Ref: shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 1}}
	_, err = f.svc.Initiate(ctx, pr, workflow)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDepartmentHeadFallsBackToRole(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutWorkflow(Workflow{Code: "PR", Active: true, Steps: []Step{
		{Sequence: 1, Name: "head", ApproverType: ApproverDepartmentHead},
	}})
	lookup := masterdata.NewMemoryLookup().PutDepartment(masterdata.Department{ID: 5, Name: "Lab"})
	svc := NewService(repo, lookup, nil, &tickClock{}, nil)

	created, err := svc.Initiate(context.Background(), Document{
		Ref:    shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 1},
		Fields: map[string]any{DepartmentField: int64(5)},
	}, "PR")
	require.NoError(t, err)
	require.Nil(t, created[0].AssignedToUserID)
	require.Equal(t, shared.RoleDeptHead, *created[0].AssignedToRole)
	require.True(t, svc.CanApprove(shared.StaticActor{UserID: 1, Roles: []string{shared.RoleDeptHead}}, created[0]))
}

func TestListStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Initiate(ctx, poDoc(1, "500"), workflow)
	require.NoError(t, err)

	stale, err := f.svc.ListStalePending(ctx, time.Hour)
	require.NoError(t, err)
	require.Empty(t, stale)

	f.clock.t = f.clock.t.Add(2 * time.Hour)
	stale, err = f.svc.ListStalePending(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 2)
}

func TestConditionEvaluate(t *testing.T) {
	doc := Document{Fields: map[string]any{
		"total":  decimal.RequireFromString("1500.50"),
		"type":   "CAPEX",
		"amount": "12",
	}}
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gt decimal vs int", Condition{"total", OpGT, 1000}, true},
		{"lte", Condition{"total", OpLTE, 1500.5}, true},
		{"lt string numeric", Condition{"amount", OpLT, "13"}, true},
		{"eq string", Condition{"type", OpEQ, "CAPEX"}, true},
		{"neq", Condition{"type", OpNEQ, "OPEX"}, true},
		{"in", Condition{"type", OpIn, []any{"OPEX", "CAPEX"}}, true},
		{"not in", Condition{"type", OpNotIn, []string{"OPEX"}}, true},
		{"missing field", Condition{"nope", OpEQ, "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cond.Evaluate(doc)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := Condition{"type", OpGT, 3}.Evaluate(doc)
	require.Error(t, err)
	_, err = Condition{"type", "LIKE", "C%"}.Evaluate(doc)
	require.Error(t, err)
	_, err = Condition{"type", OpIn, "CAPEX"}.Evaluate(doc)
	require.Error(t, err)
}
