package ap

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

const idempotencyModule = "ap.payment"

// ErrDuplicatePayment is returned when an idempotency key was already used.
var ErrDuplicatePayment = errors.New("ap: payment already recorded for idempotency key")

// RecordPayment settles part or all of an APPROVED invoice. The proof file,
// when given, is stored before the transaction and deleted if it fails.
func (s *Service) RecordPayment(ctx context.Context, actor shared.Actor, input PaymentInput, proof *File) (Payment, Invoice, error) {
	if err := shared.RequireAnyRole(actor, "record invoice payment", shared.RoleFinance); err != nil {
		return Payment{}, Invoice{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Payment{}, Invoice{}, err
	}
	var name string
	if proof != nil {
		name = proof.Name
	}
	path, cleanup, err := s.storeFile(ctx, storage.ObjectKey("payments/"+strconv.FormatInt(input.InvoiceID, 10), name), proof)
	if err != nil {
		return Payment{}, Invoice{}, err
	}

	var (
		payment Payment
		out     Invoice
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusApproved && inv.Status != StatusPaid {
			return shared.InvalidTransition(string(inv.Status), string(StatusApproved), string(StatusPaid))
		}
		if input.Amount.GreaterThan(inv.RemainingAmount) {
			return shared.Validation("amount", fmt.Sprintf("exceeds remaining amount %s", inv.RemainingAmount.StringFixed(2)))
		}
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					return fmt.Errorf("%w: %s", ErrDuplicatePayment, input.IdempotencyKey)
				}
				return err
			}
		}
		if s.numbers == nil {
			return fmt.Errorf("ap: number generator not configured")
		}
		number, err := s.numbers.Generate(ctx, numbering.PrefixPayment)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		paidAt := input.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			Number:    number,
			InvoiceID: inv.ID,
			Amount:    input.Amount,
			PaidAt:    paidAt,
			Method:    input.Method,
			Reference: input.Reference,
			Note:      input.Note,
			ProofPath: path,
			CreatedBy: actor.ID(),
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		from := inv.Status
		inv.PaidAmount, inv.RemainingAmount, inv.PaymentStatus = Settle(inv.TotalAmount, inv.PaidAmount, input.Amount)
		if inv.PaymentStatus == PaymentPaid {
			inv.Status = StatusPaid
		}
		inv.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return s.appendHistory(ctx, inv, from, shared.ActionPay, actor.ID(), map[string]any{
			"payment_id":     payment.ID,
			"payment_number": payment.Number,
			"amount":         input.Amount.String(),
			"payment_status": string(inv.PaymentStatus),
		})
	})
	if err != nil {
		cleanup()
		return Payment{}, Invoice{}, err
	}
	s.recordAudit(ctx, actor.ID(), "AP_PAYMENT_RECORD", "invoice_payment", payment.ID,
		map[string]any{"invoice_id": out.ID, "amount": payment.Amount.String()})
	return payment, out, nil
}
