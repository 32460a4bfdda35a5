package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// RepositoryPort abstracts workflow persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// GetWorkflowByCode returns an active workflow with its steps ordered by sequence.
	GetWorkflowByCode(ctx context.Context, code string) (Workflow, error)
	ListApprovals(ctx context.Context, ref shared.DocumentRef) ([]Approval, error)
	ListStalePending(ctx context.Context, createdBefore time.Time) ([]Approval, error)
}

// TxRepository exposes approval writes under row locks.
type TxRepository interface {
	InsertApproval(ctx context.Context, a Approval) (int64, error)
	GetApprovalForUpdate(ctx context.Context, id int64) (Approval, error)
	// ListApprovalsForUpdate locks every approval of ref ordered by id.
	ListApprovalsForUpdate(ctx context.Context, ref shared.DocumentRef) ([]Approval, error)
	UpdateApproval(ctx context.Context, a Approval) error
}

// Service instantiates and advances approval workflows.
type Service struct {
	repo     RepositoryPort
	lookup   masterdata.Lookup
	notifier notify.Dispatcher
	clock    shared.Clock
	logger   *slog.Logger
}

// NewService builds Service. Lookup resolves department heads.
func NewService(repo RepositoryPort, lookup masterdata.Lookup, notifier notify.Dispatcher, clock shared.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NopDispatcher{}
	}
	return &Service{repo: repo, lookup: lookup, notifier: notifier, clock: shared.ClockOrSystem(clock), logger: logger}
}

// Initiate creates one PENDING approval per step whose condition holds for
// doc. Steps whose condition is false are skipped. An empty result means the
// document needs no approval.
func (s *Service) Initiate(ctx context.Context, doc Approvable, workflowCode string) ([]Approval, error) {
	wf, err := s.repo.GetWorkflowByCode(ctx, workflowCode)
	if err != nil {
		return nil, err
	}
	ref := doc.ApprovalRef()
	if wf.DocumentKind != "" && wf.DocumentKind != ref.Kind {
		return nil, shared.Validation("workflow", fmt.Sprintf("workflow %s applies to %s, not %s", wf.Code, wf.DocumentKind, ref.Kind))
	}

	now := s.clock.Now()
	var requestedBy *int64
	if r, ok := doc.(Requested); ok && r.ApprovalRequester() != 0 {
		uid := r.ApprovalRequester()
		requestedBy = &uid
	}
	var created []Approval
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListApprovalsForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		round := 1
		for _, a := range existing {
			if a.Status == StatusPending {
				return &shared.Error{Kind: shared.KindConflict, Message: fmt.Sprintf("%s already has pending approvals", ref)}
			}
			if a.Round >= round {
				round = a.Round + 1
			}
		}
		for _, step := range wf.Steps {
			if step.Condition != nil {
				ok, err := step.Condition.Evaluate(doc)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			a := Approval{
				WorkflowID:  wf.ID,
				StepID:      step.ID,
				Round:       round,
				StepName:    step.Name,
				Document:    ref,
				Status:      StatusPending,
				RequestedBy: requestedBy,
				CreatedAt:   now,
			}
			if err := s.assign(ctx, &a, step, doc); err != nil {
				return err
			}
			id, err := tx.InsertApproval(ctx, a)
			if err != nil {
				return err
			}
			a.ID = id
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 {
		number := ""
		if n, ok := doc.(Numbered); ok {
			number = n.ApprovalNumber()
		}
		notify.AfterCommit(ctx, s.notifier, s.logger, s.requiredEvent(created[0], number))
	}
	return created, nil
}

func (s *Service) assign(ctx context.Context, a *Approval, step Step, doc Approvable) error {
	switch step.ApproverType {
	case ApproverRole:
		if step.ApproverRole == "" {
			return fmt.Errorf("approval: step %s has no approver role", step.Name)
		}
		role := step.ApproverRole
		a.AssignedToRole = &role
	case ApproverUser:
		if step.ApproverUserID == nil {
			return fmt.Errorf("approval: step %s has no approver user", step.Name)
		}
		uid := *step.ApproverUserID
		a.AssignedToUserID = &uid
	case ApproverDepartmentHead:
		raw, ok := doc.ApprovalField(DepartmentField)
		deptID, isNum := toDecimal(raw)
		if !ok || !isNum {
			return shared.Validation(DepartmentField, "department is required for department head approval")
		}
		dept, err := s.lookup.GetDepartment(ctx, deptID.IntPart())
		if err != nil {
			return err
		}
		if dept.HeadUserID != nil {
			uid := *dept.HeadUserID
			a.AssignedToUserID = &uid
		} else {
			role := shared.RoleDeptHead
			a.AssignedToRole = &role
		}
	default:
		return fmt.Errorf("approval: unknown approver type %q", step.ApproverType)
	}
	return nil
}

// GetNextPendingApproval returns the lowest-id PENDING approval of ref.
func (s *Service) GetNextPendingApproval(ctx context.Context, ref shared.DocumentRef) (Approval, bool, error) {
	rows, err := s.repo.ListApprovals(ctx, ref)
	if err != nil {
		return Approval{}, false, err
	}
	a, ok := nextPending(rows)
	return a, ok, nil
}

func nextPending(rows []Approval) (Approval, bool) {
	for _, a := range rows {
		if a.Status == StatusPending {
			return a, true
		}
	}
	return Approval{}, false
}

// CanApprove reports whether actor is the assignee of a.
func (s *Service) CanApprove(actor shared.Actor, a Approval) bool {
	if actor == nil || a.Status != StatusPending {
		return false
	}
	if a.AssignedToUserID != nil {
		return *a.AssignedToUserID == actor.ID()
	}
	return a.AssignedToRole != nil && actor.HasRole(*a.AssignedToRole)
}

// Approve marks approval id APPROVED. Only the next pending approval of its
// document can be acted on.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64, note string) (Approval, error) {
	var (
		acted Approval
		next  *Approval
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, siblings, err := s.lockActionable(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		s.stamp(&a, actor, StatusApproved, note)
		if err := tx.UpdateApproval(ctx, a); err != nil {
			return err
		}
		acted = a
		for i := range siblings {
			if siblings[i].ID > a.ID && siblings[i].Status == StatusPending {
				next = &siblings[i]
				break
			}
		}
		return nil
	})
	if err != nil {
		return Approval{}, err
	}
	if next != nil {
		notify.AfterCommit(ctx, s.notifier, s.logger, s.requiredEvent(*next, ""))
	} else if acted.RequestedBy != nil {
		notify.AfterCommit(ctx, s.notifier, s.logger, s.outcomeEvent(notify.DocumentApproved, acted))
	}
	return acted, nil
}

// Reject marks approval id REJECTED and cancels the remaining pending
// approvals of the document.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id int64, reason string) (Approval, error) {
	if reason == "" {
		return Approval{}, shared.Validation("reason", "reason is required")
	}
	var acted Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, siblings, err := s.lockActionable(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		s.stamp(&a, actor, StatusRejected, reason)
		if err := tx.UpdateApproval(ctx, a); err != nil {
			return err
		}
		acted = a
		for _, sib := range siblings {
			if sib.ID == a.ID || sib.Status != StatusPending {
				continue
			}
			s.stamp(&sib, actor, StatusCancelled, "rejected at step "+a.StepName)
			if err := tx.UpdateApproval(ctx, sib); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Approval{}, err
	}
	if acted.RequestedBy != nil {
		notify.AfterCommit(ctx, s.notifier, s.logger, s.outcomeEvent(notify.DocumentRejected, acted).With("reason", reason))
	}
	return acted, nil
}

func (s *Service) lockActionable(ctx context.Context, tx TxRepository, actor shared.Actor, id int64) (Approval, []Approval, error) {
	a, err := tx.GetApprovalForUpdate(ctx, id)
	if err != nil {
		return Approval{}, nil, err
	}
	if a.Status != StatusPending {
		return Approval{}, nil, shared.InvalidTransition(string(a.Status), string(StatusPending))
	}
	siblings, err := tx.ListApprovalsForUpdate(ctx, a.Document)
	if err != nil {
		return Approval{}, nil, err
	}
	if next, ok := nextPending(siblings); ok && next.ID != a.ID {
		return Approval{}, nil, &shared.Error{Kind: shared.KindConflict, Message: fmt.Sprintf("approval %d waits on step %s", a.ID, next.StepName)}
	}
	if !s.CanApprove(actor, a) {
		return Approval{}, nil, shared.Forbidden(fmt.Sprintf("approval %d is not assigned to user %d", a.ID, actorID(actor)))
	}
	return a, siblings, nil
}

func (s *Service) stamp(a *Approval, actor shared.Actor, status Status, note string) {
	now := s.clock.Now()
	uid := actorID(actor)
	a.Status = status
	a.ActedBy = &uid
	a.ActedAt = &now
	a.Note = note
}

func actorID(actor shared.Actor) int64 {
	if actor == nil {
		return 0
	}
	return actor.ID()
}

// CancelPending cancels every PENDING approval of ref. It is used when the
// owning document is cancelled or reopened.
func (s *Service) CancelPending(ctx context.Context, ref shared.DocumentRef, actorUserID int64, reason string) (int, error) {
	n := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.ListApprovalsForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		for _, a := range rows {
			if a.Status != StatusPending {
				continue
			}
			uid := actorUserID
			a.Status = StatusCancelled
			a.ActedBy = &uid
			a.ActedAt = &now
			a.Note = reason
			if err := tx.UpdateApproval(ctx, a); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// IsWorkflowComplete reports whether no PENDING approval remains for ref.
// A rejected workflow is complete too; use IsWorkflowRejected to tell the
// outcomes apart.
func (s *Service) IsWorkflowComplete(ctx context.Context, ref shared.DocumentRef) (bool, error) {
	rows, err := s.repo.ListApprovals(ctx, ref)
	if err != nil {
		return false, err
	}
	_, pending := nextPending(rows)
	return !pending, nil
}

// IsWorkflowRejected reports whether any approval of the latest round was rejected.
func (s *Service) IsWorkflowRejected(ctx context.Context, ref shared.DocumentRef) (bool, error) {
	rows, err := s.repo.ListApprovals(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, a := range latestRound(rows) {
		if a.Status == StatusRejected {
			return true, nil
		}
	}
	return false, nil
}

// latestRound returns the approvals created by the most recent Initiate.
func latestRound(rows []Approval) []Approval {
	latest := 0
	for _, a := range rows {
		if a.Round > latest {
			latest = a.Round
		}
	}
	var out []Approval
	for _, a := range rows {
		if a.Round == latest {
			out = append(out, a)
		}
	}
	return out
}

// ListApprovals returns every approval of ref ordered by id.
func (s *Service) ListApprovals(ctx context.Context, ref shared.DocumentRef) ([]Approval, error) {
	return s.repo.ListApprovals(ctx, ref)
}

// ListStalePending returns PENDING approvals created more than olderThan ago.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Duration) ([]Approval, error) {
	return s.repo.ListStalePending(ctx, s.clock.Now().Add(-olderThan))
}

func (s *Service) requiredEvent(a Approval, number string) notify.Event {
	return notify.NewEvent(notify.ApprovalRequired, a.Document, number, Recipient(a), s.clock.Now()).
		With("approval_id", a.ID).
		With("step", a.StepName)
}

func (s *Service) outcomeEvent(typ notify.EventType, a Approval) notify.Event {
	return notify.NewEvent(typ, a.Document, "", notify.ToUser(*a.RequestedBy), s.clock.Now()).
		With("approval_id", a.ID).
		With("step", a.StepName)
}

// Recipient returns the notification target of a.
func Recipient(a Approval) notify.Recipient {
	if a.AssignedToUserID != nil {
		return notify.ToUser(*a.AssignedToUserID)
	}
	if a.AssignedToRole != nil {
		return notify.ToRole(*a.AssignedToRole)
	}
	return notify.Recipient{}
}
