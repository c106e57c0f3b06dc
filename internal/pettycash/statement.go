package pettycash

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/pettycash/internal/accounting"
)

// Statement gathers everything a fund statement shows.
type Statement struct {
	Fund          Fund
	CashAccountID int64
	Moves         []accounting.Move
	Vouchers      []Voucher
	Invoices      []Invoice
}

// CashMovement is one cash account line of the fund journal with its running balance.
type CashMovement struct {
	Move    accounting.Move
	Line    accounting.MoveLine
	Balance decimal.Decimal
}

// CashMovements flattens the cash account lines of the statement moves in posting order.
func (st Statement) CashMovements() []CashMovement {
	running := decimal.Zero
	var out []CashMovement
	for _, move := range st.Moves {
		if move.State != accounting.MoveStatePosted {
			continue
		}
		for _, line := range move.Lines {
			if line.AccountID != st.CashAccountID {
				continue
			}
			running = running.Add(line.Debit).Sub(line.Credit)
			out = append(out, CashMovement{Move: move, Line: line, Balance: running})
		}
	}
	return out
}

// Statement loads a fund with its journal entries, vouchers and invoices.
func (s *Service) Statement(ctx context.Context, fundID int64) (Statement, error) {
	fund, err := s.GetFund(ctx, fundID)
	if err != nil {
		return Statement{}, err
	}
	journal, err := s.ledger.GetJournal(ctx, fund.JournalID)
	if err != nil {
		return Statement{}, err
	}
	st := Statement{Fund: fund, CashAccountID: journal.DefaultDebitAccountID}
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		st.Moves, err = s.ledger.ListMovesByJournal(gctx, journal.ID)
		return err
	})
	group.Go(func() error {
		var err error
		st.Vouchers, err = s.ListVouchers(gctx, fund.ID, false)
		return err
	})
	group.Go(func() error {
		var err error
		st.Invoices, err = s.ListInvoices(gctx, fund.ID)
		return err
	})
	if err := group.Wait(); err != nil {
		return Statement{}, err
	}
	return st, nil
}
