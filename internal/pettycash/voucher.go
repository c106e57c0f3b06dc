package pettycash

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/shared"
)

// IssueVoucher pays an expense out of an open fund, bounded by its balance.
func (s *Service) IssueVoucher(ctx context.Context, input IssueVoucherInput) (Voucher, error) {
	if err := input.Validate(); err != nil {
		return Voucher{}, err
	}
	if input.ActorID <= 0 {
		return Voucher{}, shared.ErrUnauthenticated
	}
	amount := input.Amount.Round(2)
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.GetFundForUpdate(ctx, input.FundID)
		if err != nil {
			return err
		}
		if fund.State != FundStateOpen {
			return stateError(fund, FundStateOpen)
		}
		if _, err := s.ledger.GetAccount(ctx, input.ExpenseAccountID); err != nil {
			return err
		}
		balance, err := s.balanceOf(ctx, tx, fund)
		if err != nil {
			return err
		}
		if amount.GreaterThan(balance) {
			return fmt.Errorf("%w: %s requested, %s available", ErrInsufficientBalance, amount.StringFixed(2), balance.StringFixed(2))
		}
		journal, err := s.ledger.GetJournal(ctx, fund.JournalID)
		if err != nil {
			return err
		}
		number, err := s.ledger.NextSequenceNumber(ctx, journal.SequenceID, input.Date)
		if err != nil {
			return err
		}
		voucher, err = tx.InsertVoucher(ctx, VoucherInput{
			FundID:           fund.ID,
			Number:           number,
			Amount:           amount,
			ExpenseAccountID: input.ExpenseAccountID,
			Description:      input.Description,
			Date:             input.Date,
			CreatedBy:        input.ActorID,
		})
		if err != nil {
			return err
		}
		return s.recordVoucher(ctx, input.ActorID, "pettycash.voucher.issue", voucher)
	})
	if err != nil {
		return Voucher{}, err
	}
	s.invalidate(ctx, voucher.FundID)
	s.count("voucher_issue")
	return voucher, nil
}

// ReconcileVoucher books the voucher expense against the fund and marks it reconciled.
func (s *Service) ReconcileVoucher(ctx context.Context, input ReconcileVoucherInput) (Voucher, error) {
	if err := s.checkIsInGroup(ctx, input.ActorID, actionReconcile); err != nil {
		return Voucher{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetVoucherForUpdate(ctx, input.VoucherID)
		if err != nil {
			return err
		}
		if current.Reconciled {
			return ErrVoucherReconciled
		}
		fund, err := tx.GetFundForUpdate(ctx, current.FundID)
		if err != nil {
			return err
		}
		if fund.State != FundStateOpen {
			return stateError(fund, FundStateOpen)
		}
		move, err := s.createJournalEntryCommon(ctx, EntryReceivable, fund, JournalEntryInput{
			FundID:      fund.ID,
			AccountID:   current.ExpenseAccountID,
			Date:        date,
			Amount:      current.Amount,
			Description: fmt.Sprintf("Petty Cash voucher %s: %s", current.Number, current.Description),
			ActorID:     input.ActorID,
		})
		if err != nil {
			return err
		}
		voucher, err = tx.MarkVoucherReconciled(ctx, current.ID, move.ID, s.now())
		if err != nil {
			return err
		}
		return s.recordVoucher(ctx, input.ActorID, "pettycash.voucher.reconcile", voucher)
	})
	if err != nil {
		return Voucher{}, err
	}
	s.invalidate(ctx, voucher.FundID)
	s.count("voucher_reconcile")
	return voucher, nil
}

// ListVouchers returns the vouchers of a fund, optionally only unreconciled ones.
func (s *Service) ListVouchers(ctx context.Context, fundID int64, onlyOpen bool) ([]Voucher, error) {
	var vouchers []Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetFund(ctx, fundID); err != nil {
			return err
		}
		var err error
		vouchers, err = tx.ListVouchers(ctx, fundID, onlyOpen)
		return err
	})
	return vouchers, err
}

// AttachInvoice links an invoice to the fund that paid it.
// An invoice already paid by another fund must be detached first.
func (s *Service) AttachInvoice(ctx context.Context, fundID, invoiceID, actorID int64) (Invoice, error) {
	if err := s.checkIsInGroup(ctx, actorID, actionAttachInvoice); err != nil {
		return Invoice{}, err
	}
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.GetFund(ctx, fundID)
		if err != nil {
			return err
		}
		current, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if current.PettyFundID != nil && *current.PettyFundID != fund.ID {
			return fmt.Errorf("%w: invoice %s is linked to petty cash fund %d", ErrInvalidState, current.Number, *current.PettyFundID)
		}
		invoice, err = tx.AttachInvoice(ctx, invoiceID, &fund.ID)
		if err != nil {
			return err
		}
		return s.record(ctx, actorID, "pettycash.invoice.attach", fund, map[string]any{"invoice_id": invoice.ID})
	})
	return invoice, err
}

// DetachInvoice clears the fund reference of an invoice linked to the fund.
func (s *Service) DetachInvoice(ctx context.Context, fundID, invoiceID, actorID int64) (Invoice, error) {
	if err := s.checkIsInGroup(ctx, actorID, actionDetachInvoice); err != nil {
		return Invoice{}, err
	}
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.GetFund(ctx, fundID)
		if err != nil {
			return err
		}
		current, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if current.PettyFundID == nil || *current.PettyFundID != fund.ID {
			return ErrInvoiceNotFound
		}
		invoice, err = tx.AttachInvoice(ctx, invoiceID, nil)
		if err != nil {
			return err
		}
		return s.record(ctx, actorID, "pettycash.invoice.detach", fund, map[string]any{"invoice_id": invoice.ID})
	})
	return invoice, err
}

// ListInvoices returns the invoices linked to a fund.
func (s *Service) ListInvoices(ctx context.Context, fundID int64) ([]Invoice, error) {
	var invoices []Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetFund(ctx, fundID); err != nil {
			return err
		}
		var err error
		invoices, err = tx.ListInvoices(ctx, fundID)
		return err
	})
	return invoices, err
}

func (s *Service) recordVoucher(ctx context.Context, actorID int64, action string, v Voucher) error {
	if s.audit == nil {
		return nil
	}
	meta := map[string]any{
		"fund_id": v.FundID,
		"number":  v.Number,
		"amount":  v.Amount.StringFixed(2),
	}
	if v.MoveID != nil {
		meta["move_id"] = *v.MoveID
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "petty_cash_voucher",
		EntityID: fmt.Sprintf("%d", v.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

var _ Ledger = (*accounting.Service)(nil)
