package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// CreatePurchaseRequest validates lines against master data and stores a DRAFT.
func (s *Service) CreatePurchaseRequest(ctx context.Context, actor shared.Actor, input CreatePRInput) (PurchaseRequest, error) {
	if err := shared.RequireAnyRole(actor, "create purchase request", shared.RoleRequester, shared.RoleDeptHead, shared.RolePurchasing); err != nil {
		return PurchaseRequest{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseRequest{}, err
	}

	var created PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.lookup.GetDepartment(ctx, input.DepartmentID); err != nil {
			return err
		}
		if input.SupplierID != nil {
			if _, err := s.lookup.GetSupplier(ctx, *input.SupplierID); err != nil {
				return err
			}
		}
		lines, err := s.buildPRLines(ctx, input.Lines)
		if err != nil {
			return err
		}
		number, err := s.nextNumber(ctx, numbering.PrefixPurchaseRequest)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		pr, err := tx.InsertPR(ctx, PurchaseRequest{
			Number:       number,
			Status:       PRStatusDraft,
			DepartmentID: input.DepartmentID,
			RequestedBy:  actor.ID(),
			SupplierID:   input.SupplierID,
			NeededBy:     input.NeededBy,
			Note:         input.Note,
			CreatedAt:    now,
			UpdatedAt:    now,
			Lines:        lines,
		})
		if err != nil {
			return err
		}
		created = pr
		return s.appendHistory(ctx, pr.Ref(), "", string(PRStatusDraft), shared.ActionCreate, actor.ID(), nil)
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PR_CREATE", created.Ref(), map[string]any{"number": created.Number})
	return created, nil
}

func (s *Service) buildPRLines(ctx context.Context, inputs []PRLineInput) ([]PRLine, error) {
	fields := shared.FieldErrors{}
	lines := make([]PRLine, 0, len(inputs))
	for i, in := range inputs {
		item, uom, ok, err := s.lineMasterData(ctx, fields, i, in.ItemID, in.UOMID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		lines = append(lines, PRLine{
			LineNo:       i + 1,
			ItemID:       in.ItemID,
			UOMID:        in.UOMID,
			Qty:          in.Qty,
			Note:         in.Note,
			ItemSnapshot: masterdata.Snapshot(item),
			UOMSnapshot:  masterdata.Snapshot(uom),
		})
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// lineMasterData resolves the item and unit of line i. Missing master data is
// recorded as a field error so every line is reported; other errors abort.
func (s *Service) lineMasterData(ctx context.Context, fields shared.FieldErrors, i int, itemID, uomID int64) (masterdata.Item, masterdata.UOM, bool, error) {
	item, err := s.lookup.GetItem(ctx, itemID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		fields.Add(shared.LineField(i, "item_id"), "item not found")
		return masterdata.Item{}, masterdata.UOM{}, false, nil
	case err != nil:
		return masterdata.Item{}, masterdata.UOM{}, false, err
	case !item.Active:
		fields.Add(shared.LineField(i, "item_id"), "item is inactive")
		return masterdata.Item{}, masterdata.UOM{}, false, nil
	}
	uom, err := s.lookup.GetUOM(ctx, uomID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		fields.Add(shared.LineField(i, "uom_id"), "uom not found")
		return masterdata.Item{}, masterdata.UOM{}, false, nil
	case err != nil:
		return masterdata.Item{}, masterdata.UOM{}, false, err
	}
	return item, uom, true, nil
}

// SubmitPurchaseRequest moves a DRAFT to SUBMITTED. Only the requester may submit.
func (s *Service) SubmitPurchaseRequest(ctx context.Context, actor shared.Actor, id int64) (PurchaseRequest, error) {
	var head notify.Recipient
	pr, err := s.transitionPR(ctx, actor, id, shared.ActionSubmit, PRStatusSubmitted, []PRStatus{PRStatusDraft},
		func(ctx context.Context, pr PurchaseRequest) error {
			if actorIDOf(actor) != pr.RequestedBy {
				return shared.Forbidden("submit purchase request: only the requester may submit")
			}
			dept, err := s.lookup.GetDepartment(ctx, pr.DepartmentID)
			if err != nil {
				return err
			}
			head = departmentApprover(dept)
			return nil
		},
		func(pr *PurchaseRequest, now time.Time) {
			pr.Submitted = stampOf(actor.ID(), now)
		}, nil)
	if err != nil {
		return PurchaseRequest{}, err
	}
	notify.AfterCommit(ctx, s.notifier, s.logger,
		notify.NewEvent(notify.ApprovalRequired, pr.Ref(), pr.Number, head, s.clock.Now()))
	return pr, nil
}

// ApprovePurchaseRequest approves a SUBMITTED request.
func (s *Service) ApprovePurchaseRequest(ctx context.Context, actor shared.Actor, id int64, note string) (PurchaseRequest, error) {
	var meta map[string]any
	if note != "" {
		meta = map[string]any{"note": note}
	}
	pr, err := s.transitionPR(ctx, actor, id, shared.ActionApprove, PRStatusApproved, []PRStatus{PRStatusSubmitted},
		s.guardPRApprover(actor, "approve purchase request"),
		func(pr *PurchaseRequest, now time.Time) {
			pr.Approved = stampOf(actor.ID(), now)
		}, meta)
	if err != nil {
		return PurchaseRequest{}, err
	}
	notify.AfterCommit(ctx, s.notifier, s.logger,
		notify.NewEvent(notify.DocumentApproved, pr.Ref(), pr.Number, notify.ToUser(pr.RequestedBy), s.clock.Now()))
	return pr, nil
}

// RejectPurchaseRequest rejects a SUBMITTED request with a reason.
func (s *Service) RejectPurchaseRequest(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseRequest, error) {
	if err := requireReason(reason); err != nil {
		return PurchaseRequest{}, err
	}
	pr, err := s.transitionPR(ctx, actor, id, shared.ActionReject, PRStatusRejected, []PRStatus{PRStatusSubmitted},
		s.guardPRApprover(actor, "reject purchase request"),
		func(pr *PurchaseRequest, now time.Time) {
			pr.Rejected = stampOf(actor.ID(), now)
			pr.RejectionReason = reason
		}, map[string]any{"reason": reason})
	if err != nil {
		return PurchaseRequest{}, err
	}
	notify.AfterCommit(ctx, s.notifier, s.logger,
		notify.NewEvent(notify.DocumentRejected, pr.Ref(), pr.Number, notify.ToUser(pr.RequestedBy), s.clock.Now()).With("reason", reason))
	return pr, nil
}

// CancelPurchaseRequest cancels a DRAFT or SUBMITTED request.
func (s *Service) CancelPurchaseRequest(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseRequest, error) {
	if err := requireReason(reason); err != nil {
		return PurchaseRequest{}, err
	}
	return s.transitionPR(ctx, actor, id, shared.ActionCancel, PRStatusCancelled, []PRStatus{PRStatusDraft, PRStatusSubmitted},
		func(_ context.Context, pr PurchaseRequest) error {
			if actorIDOf(actor) == pr.RequestedBy {
				return nil
			}
			return shared.RequireAnyRole(actor, "cancel purchase request", shared.RolePurchasing)
		},
		func(pr *PurchaseRequest, now time.Time) {
			pr.Cancelled = stampOf(actor.ID(), now)
			pr.CancellationReason = reason
		}, map[string]any{"reason": reason})
}

// guardPRApprover forbids self-approval and requires the department head or
// the dept_head role.
func (s *Service) guardPRApprover(actor shared.Actor, action string) func(context.Context, PurchaseRequest) error {
	return func(ctx context.Context, pr PurchaseRequest) error {
		if actor == nil {
			return shared.Forbidden(action + ": missing actor")
		}
		if actor.ID() == pr.RequestedBy {
			return shared.Forbidden(action + ": requester cannot act on own request")
		}
		dept, err := s.lookup.GetDepartment(ctx, pr.DepartmentID)
		if err != nil {
			return err
		}
		if dept.HeadUserID != nil && *dept.HeadUserID == actor.ID() {
			return nil
		}
		return shared.RequireAnyRole(actor, action, shared.RoleDeptHead)
	}
}

func departmentApprover(dept masterdata.Department) notify.Recipient {
	if dept.HeadUserID != nil {
		return notify.ToUser(*dept.HeadUserID)
	}
	return notify.ToRole(shared.RoleDeptHead)
}

// transitionPR locks the request, checks status and guard, applies mutate and
// appends history in one transaction.
func (s *Service) transitionPR(
	ctx context.Context,
	actor shared.Actor,
	id int64,
	action string,
	to PRStatus,
	from []PRStatus,
	guard func(context.Context, PurchaseRequest) error,
	mutate func(*PurchaseRequest, time.Time),
	meta map[string]any,
) (PurchaseRequest, error) {
	if actor == nil {
		return PurchaseRequest{}, shared.Forbidden(action + " purchase request: missing actor")
	}
	var out PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.LockPR(ctx, id)
		if err != nil {
			return err
		}
		if !containsStatus(from, pr.Status) {
			return shared.InvalidTransition(string(pr.Status), statusNames(from)...)
		}
		if guard != nil {
			if err := guard(ctx, pr); err != nil {
				return err
			}
		}
		prev := pr.Status
		now := s.clock.Now()
		pr.Status = to
		pr.UpdatedAt = now
		mutate(&pr, now)
		if err := tx.UpdatePR(ctx, pr); err != nil {
			return err
		}
		out = pr
		return s.appendHistory(ctx, pr.Ref(), string(prev), string(to), action, actor.ID(), meta)
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PR_"+upper(action), out.Ref(), map[string]any{"number": out.Number, "status": string(out.Status)})
	return out, nil
}

// GetPurchaseRequest loads a request with lines.
func (s *Service) GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return s.repo.GetPR(ctx, id)
}
