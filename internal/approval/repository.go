package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Repository stores workflows and approvals in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

type txRepo struct {
	q db.Querier
}

// WithTx runs fn inside the ambient transaction, opening one when needed.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, txRepo{q: db.Conn(ctx, r.pool)})
	})
}

func (r *Repository) GetWorkflowByCode(ctx context.Context, code string) (Workflow, error) {
	q := db.Conn(ctx, r.pool)
	var wf Workflow
	var kind string
	err := q.QueryRow(ctx, `SELECT id, code, name, document_kind, active FROM approval_workflows WHERE code=$1 AND active`, code).
		Scan(&wf.ID, &wf.Code, &wf.Name, &kind, &wf.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, &shared.Error{Kind: shared.KindNotFound, Message: fmt.Sprintf("approval workflow %s not found", code)}
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("approval: get workflow: %w", err)
	}
	wf.DocumentKind = shared.DocumentKind(kind)

	rows, err := q.Query(ctx, `SELECT id, workflow_id, sequence, name, approver_type, approver_role, approver_user_id,
       condition_field, condition_operator, condition_value
FROM approval_workflow_steps WHERE workflow_id=$1 ORDER BY sequence`, wf.ID)
	if err != nil {
		return Workflow{}, fmt.Errorf("approval: list steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st          Step
			typ         string
			role        *string
			field, oper *string
			value       []byte
		)
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Sequence, &st.Name, &typ, &role, &st.ApproverUserID, &field, &oper, &value); err != nil {
			return Workflow{}, err
		}
		st.ApproverType = ApproverType(typ)
		if role != nil {
			st.ApproverRole = *role
		}
		if field != nil && oper != nil {
			cond := &Condition{Field: *field, Operator: Operator(*oper)}
			if len(value) > 0 {
				if err := json.Unmarshal(value, &cond.Value); err != nil {
					return Workflow{}, fmt.Errorf("approval: step %d condition value: %w", st.ID, err)
				}
			}
			st.Condition = cond
		}
		wf.Steps = append(wf.Steps, st)
	}
	return wf, rows.Err()
}

// CreateWorkflow inserts a workflow and its steps. Used by seeding tools.
func (r *Repository) CreateWorkflow(ctx context.Context, wf Workflow) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if err := q.QueryRow(ctx, `INSERT INTO approval_workflows (code, name, document_kind, active)
VALUES ($1,$2,$3,$4) RETURNING id`, wf.Code, wf.Name, string(wf.DocumentKind), wf.Active).Scan(&id); err != nil {
			return err
		}
		for _, st := range wf.Steps {
			var field, oper *string
			var value []byte
			if st.Condition != nil {
				f, o := st.Condition.Field, string(st.Condition.Operator)
				field, oper = &f, &o
				b, err := json.Marshal(st.Condition.Value)
				if err != nil {
					return err
				}
				value = b
			}
			var role *string
			if st.ApproverRole != "" {
				role = &st.ApproverRole
			}
			if _, err := q.Exec(ctx, `INSERT INTO approval_workflow_steps
(workflow_id, sequence, name, approver_type, approver_role, approver_user_id, condition_field, condition_operator, condition_value)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, id, st.Sequence, st.Name, string(st.ApproverType), role, st.ApproverUserID, field, oper, value); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

const approvalColumns = `a.id, a.workflow_id, a.step_id, a.round, s.name, a.document_kind, a.document_id, a.status,
       a.assigned_to_user_id, a.assigned_to_role, a.requested_by, a.acted_by, a.acted_at, a.note, a.created_at`

const approvalFrom = ` FROM approvals a JOIN approval_workflow_steps s ON s.id = a.step_id`

func scanApprovals(rows pgx.Rows) ([]Approval, error) {
	defer rows.Close()
	var out []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(row pgx.Row) (Approval, error) {
	var a Approval
	var kind, status string
	err := row.Scan(&a.ID, &a.WorkflowID, &a.StepID, &a.Round, &a.StepName, &kind, &a.Document.ID, &status,
		&a.AssignedToUserID, &a.AssignedToRole, &a.RequestedBy, &a.ActedBy, &a.ActedAt, &a.Note, &a.CreatedAt)
	a.Document.Kind = shared.DocumentKind(kind)
	a.Status = Status(status)
	return a, err
}

func (r *Repository) ListApprovals(ctx context.Context, ref shared.DocumentRef) ([]Approval, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+approvalColumns+approvalFrom+`
WHERE a.document_kind=$1 AND a.document_id=$2 ORDER BY a.id`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	return scanApprovals(rows)
}

func (r *Repository) ListStalePending(ctx context.Context, createdBefore time.Time) ([]Approval, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+approvalColumns+approvalFrom+`
WHERE a.status='PENDING' AND a.created_at < $1 ORDER BY a.id`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("approval: list stale: %w", err)
	}
	return scanApprovals(rows)
}

func (t txRepo) InsertApproval(ctx context.Context, a Approval) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO approvals
(workflow_id, step_id, round, document_kind, document_id, status, assigned_to_user_id, assigned_to_role, requested_by, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		a.WorkflowID, a.StepID, a.Round, string(a.Document.Kind), a.Document.ID, string(a.Status),
		a.AssignedToUserID, a.AssignedToRole, a.RequestedBy, a.Note, a.CreatedAt).Scan(&id)
	return id, err
}

func (t txRepo) GetApprovalForUpdate(ctx context.Context, id int64) (Approval, error) {
	a, err := scanApproval(t.q.QueryRow(ctx, `SELECT `+approvalColumns+approvalFrom+` WHERE a.id=$1 FOR UPDATE OF a`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Approval{}, shared.NotFound("approval", id)
	}
	return a, err
}

func (t txRepo) ListApprovalsForUpdate(ctx context.Context, ref shared.DocumentRef) ([]Approval, error) {
	rows, err := t.q.Query(ctx, `SELECT `+approvalColumns+approvalFrom+`
WHERE a.document_kind=$1 AND a.document_id=$2 ORDER BY a.id FOR UPDATE OF a`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	return scanApprovals(rows)
}

func (t txRepo) UpdateApproval(ctx context.Context, a Approval) error {
	_, err := t.q.Exec(ctx, `UPDATE approvals SET status=$2, acted_by=$3, acted_at=$4, note=$5 WHERE id=$1`,
		a.ID, string(a.Status), a.ActedBy, a.ActedAt, a.Note)
	return err
}
