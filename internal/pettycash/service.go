package pettycash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/shared"
)

const (
	actionCreateSequence = "create a journal sequence for a petty cash fund"
	actionCloseFund      = "close a petty cash fund"
	actionReopenFund     = "re-open a petty cash fund"
	actionChangeAmount   = "change the amount of a petty cash fund"
	actionReconcile      = "reconcile a petty cash voucher"
	actionRenameFund     = "rename a petty cash fund"
	actionAttachInvoice  = "attach an invoice to a petty cash fund"
	actionDetachInvoice  = "detach an invoice from a petty cash fund"
)

// sequenceCode matches the voucher numbering code of fund sequences.
const sequenceCode = "pay_voucher"

// Ledger is the accounting surface funds post through.
type Ledger interface {
	GetAccount(ctx context.Context, id int64) (accounting.Account, error)
	CreateSequence(ctx context.Context, input accounting.SequenceInput) (accounting.Sequence, error)
	NextSequenceNumber(ctx context.Context, sequenceID int64, date time.Time) (string, error)
	CreateJournal(ctx context.Context, input accounting.JournalInput) (accounting.Journal, error)
	GetJournal(ctx context.Context, id int64) (accounting.Journal, error)
	PostMove(ctx context.Context, input accounting.MoveInput) (accounting.Move, error)
	ListMovesByJournal(ctx context.Context, journalID int64) ([]accounting.Move, error)
	AccountBalance(ctx context.Context, journalID, accountID int64) (decimal.Decimal, error)
}

// Authorizer answers whether a user holds a permission.
type Authorizer interface {
	HasPermission(ctx context.Context, userID int64, permission string) (bool, error)
}

// AuditPort records fund events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// BalanceCache memoises computed fund balances.
type BalanceCache interface {
	Balance(ctx context.Context, fundID int64, loader func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error)
	Invalidate(ctx context.Context, fundID int64) error
}

// Notifier publishes fund lifecycle events after commit.
type Notifier interface {
	FundClosed(ctx context.Context, event FundClosedEvent) error
}

// MetricsRecorder counts fund lifecycle events.
type MetricsRecorder interface {
	FundEvent(action string)
}

// FundClosedEvent describes a committed fund closure.
type FundClosedEvent struct {
	FundID   int64     `json:"fund_id"`
	Name     string    `json:"name"`
	MoveID   int64     `json:"move_id"`
	Amount   string    `json:"amount"`
	ClosedBy int64     `json:"closed_by"`
	ClosedAt time.Time `json:"closed_at"`
}

// ServiceConfig carries the guard and defaults applied by the service.
type ServiceConfig struct {
	ManagerPermission string
	ManagerGroup      string
	DefaultCompanyID  int64
}

// Service implements the petty cash fund lifecycle.
type Service struct {
	repo     RepositoryPort
	ledger   Ledger
	authz    Authorizer
	audit    AuditPort
	cache    BalanceCache
	notifier Notifier
	metrics  MetricsRecorder
	logger   *slog.Logger
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService wires the fund service.
func NewService(repo RepositoryPort, ledger Ledger, authz Authorizer, audit AuditPort, cfg ServiceConfig) *Service {
	if cfg.ManagerPermission == "" {
		cfg.ManagerPermission = shared.PermPettyCashManage
	}
	if cfg.ManagerGroup == "" {
		cfg.ManagerGroup = shared.GroupFinanceManager
	}
	return &Service{
		repo:   repo,
		ledger: ledger,
		authz:  authz,
		audit:  audit,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithCache enables balance caching.
func (s *Service) WithCache(cache BalanceCache) *Service {
	s.cache = cache
	return s
}

// WithNotifier enables post-commit event publication.
func (s *Service) WithNotifier(notifier Notifier) *Service {
	s.notifier = notifier
	return s
}

// WithMetrics enables lifecycle counters.
func (s *Service) WithMetrics(metrics MetricsRecorder) *Service {
	s.metrics = metrics
	return s
}

// WithLogger overrides the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// checkIsInGroup rejects callers without the manager permission.
func (s *Service) checkIsInGroup(ctx context.Context, actorID int64, action string) error {
	denied := &AccessError{Group: s.cfg.ManagerGroup, Action: action}
	if s.authz == nil || actorID <= 0 {
		return denied
	}
	ok, err := s.authz.HasPermission(ctx, actorID, s.cfg.ManagerPermission)
	if err != nil {
		return fmt.Errorf("pettycash: check permission: %w", err)
	}
	if !ok {
		return denied
	}
	return nil
}

// CreateJournalSequence provisions the numbering sequence of a new fund.
func (s *Service) CreateJournalSequence(ctx context.Context, actorID int64, name, code string) (accounting.Sequence, error) {
	if err := s.checkIsInGroup(ctx, actorID, actionCreateSequence); err != nil {
		return accounting.Sequence{}, err
	}
	return s.ledger.CreateSequence(ctx, accounting.SequenceInput{
		Name:    name,
		Code:    sequenceCode,
		Prefix:  code + "/%(y)s/",
		Padding: 2,
	})
}

// CreateJournal provisions the cash journal of a new fund.
func (s *Service) CreateJournal(ctx context.Context, name, code string, custodianID, sequenceID, creditAccountID, debitAccountID int64) (accounting.Journal, error) {
	custodian := custodianID
	return s.ledger.CreateJournal(ctx, accounting.JournalInput{
		Name:                   name,
		Code:                   code,
		Type:                   accounting.JournalTypeCash,
		DefaultDebitAccountID:  debitAccountID,
		DefaultCreditAccountID: creditAccountID,
		UserID:                 &custodian,
		SequenceID:             sequenceID,
		UpdatePosted:           true,
	})
}

// CreateFund provisions sequence, journal and fund, leaving the fund open.
func (s *Service) CreateFund(ctx context.Context, input CreateFundInput) (Fund, error) {
	if err := s.checkIsInGroup(ctx, input.ActorID, actionCreateSequence); err != nil {
		return Fund{}, err
	}
	if err := input.Validate(); err != nil {
		return Fund{}, err
	}
	if input.CompanyID == 0 {
		input.CompanyID = s.cfg.DefaultCompanyID
	}
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := s.CreateJournalSequence(ctx, input.ActorID, input.Name, input.Code)
		if err != nil {
			return err
		}
		journal, err := s.CreateJournal(ctx, input.Name, input.Code, input.CustodianID, seq.ID, input.AccountID, input.AccountID)
		if err != nil {
			return err
		}
		fund, err = tx.InsertFund(ctx, FundInput{
			Name:        input.Name,
			Code:        input.Code,
			CustodianID: input.CustodianID,
			JournalID:   journal.ID,
			Amount:      input.Amount.Round(2),
			State:       FundStateOpen,
			CompanyID:   input.CompanyID,
		})
		if err != nil {
			return err
		}
		return s.record(ctx, input.ActorID, "pettycash.fund.create", fund, map[string]any{
			"amount":      fund.Amount.StringFixed(2),
			"journal_id":  journal.ID,
			"sequence_id": seq.ID,
		})
	})
	if err != nil {
		return Fund{}, err
	}
	s.count("create")
	return fund, nil
}

// CloseFund posts the receivable entry for the fund amount and closes the fund.
func (s *Service) CloseFund(ctx context.Context, input CloseFundInput) (Fund, error) {
	if err := s.checkIsInGroup(ctx, input.ActorID, actionCloseFund); err != nil {
		return Fund{}, err
	}
	if input.ReceivableAccountID <= 0 {
		return Fund{}, fmt.Errorf("%w: receivable account required", ErrInvalidAccount)
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	var (
		fund   Fund
		move   accounting.Move
		amount decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetFundForUpdate(ctx, input.FundID)
		if err != nil {
			return err
		}
		if current.State != FundStateOpen {
			return stateError(current, FundStateOpen)
		}
		open, err := tx.CountUnreconciledVouchers(ctx, current.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			return unreconciledError(current.Name)
		}
		amount = current.Amount
		if amount.IsPositive() {
			move, err = s.createJournalEntryCommon(ctx, EntryReceivable, current, JournalEntryInput{
				FundID:      current.ID,
				AccountID:   input.ReceivableAccountID,
				Date:        date,
				Amount:      amount,
				Description: fmt.Sprintf("Close Petty Cash fund (%s)", current.Name),
				ActorID:     input.ActorID,
			})
			if err != nil {
				return err
			}
		}
		zero := decimal.Zero
		closed := FundStateClosed
		inactive := false
		fund, err = tx.UpdateFund(ctx, current.ID, FundUpdate{Amount: &zero, State: &closed, Active: &inactive})
		if err != nil {
			return err
		}
		return s.record(ctx, input.ActorID, "pettycash.fund.close", fund, map[string]any{
			"amount":  amount.StringFixed(2),
			"move_id": move.ID,
		})
	})
	if err != nil {
		return Fund{}, err
	}
	s.invalidate(ctx, fund.ID)
	s.count("close")
	if s.notifier != nil {
		event := FundClosedEvent{
			FundID:   fund.ID,
			Name:     fund.Name,
			MoveID:   move.ID,
			Amount:   amount.StringFixed(2),
			ClosedBy: input.ActorID,
			ClosedAt: s.now(),
		}
		if err := s.notifier.FundClosed(ctx, event); err != nil {
			s.logger.Warn("pettycash: enqueue fund closed", slog.Int64("fund_id", fund.ID), slog.Any("error", err))
		}
	}
	return fund, nil
}

// ReopenFund moves a closed fund back to open.
func (s *Service) ReopenFund(ctx context.Context, fundID, actorID int64) (Fund, error) {
	if err := s.checkIsInGroup(ctx, actorID, actionReopenFund); err != nil {
		return Fund{}, err
	}
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetFundForUpdate(ctx, fundID)
		if err != nil {
			return err
		}
		if current.State != FundStateClosed {
			return stateError(current, FundStateClosed)
		}
		open := FundStateOpen
		active := true
		fund, err = tx.UpdateFund(ctx, current.ID, FundUpdate{State: &open, Active: &active})
		if err != nil {
			return err
		}
		return s.record(ctx, actorID, "pettycash.fund.reopen", fund, nil)
	})
	if err != nil {
		return Fund{}, err
	}
	s.invalidate(ctx, fund.ID)
	s.count("reopen")
	return fund, nil
}

// ChangeFundAmount sets a new fund amount. Decreases are blocked while vouchers are open.
func (s *Service) ChangeFundAmount(ctx context.Context, input ChangeAmountInput) (Fund, error) {
	if err := s.checkIsInGroup(ctx, input.ActorID, actionChangeAmount); err != nil {
		return Fund{}, err
	}
	if input.NewAmount.IsNegative() {
		return Fund{}, ErrInvalidAmount
	}
	newAmount := input.NewAmount.Round(2)
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetFundForUpdate(ctx, input.FundID)
		if err != nil {
			return err
		}
		if current.State != FundStateOpen {
			return stateError(current, FundStateOpen)
		}
		if newAmount.Cmp(current.Amount.Round(2)) < 0 {
			open, err := tx.CountUnreconciledVouchers(ctx, current.ID)
			if err != nil {
				return err
			}
			if open > 0 {
				return unreconciledError(current.Name)
			}
		}
		fund, err = tx.UpdateFund(ctx, current.ID, FundUpdate{Amount: &newAmount})
		if err != nil {
			return err
		}
		return s.record(ctx, input.ActorID, "pettycash.fund.amount", fund, map[string]any{
			"from": current.Amount.StringFixed(2),
			"to":   newAmount.StringFixed(2),
		})
	})
	if err != nil {
		return Fund{}, err
	}
	s.invalidate(ctx, fund.ID)
	s.count("change_amount")
	return fund, nil
}

// CreatePayableJournalEntry debits the fund cash account and credits the given account.
func (s *Service) CreatePayableJournalEntry(ctx context.Context, input JournalEntryInput) (accounting.Move, error) {
	return s.createJournalEntry(ctx, EntryPayable, input)
}

// CreateReceivableJournalEntry debits the given account and credits the fund cash account.
func (s *Service) CreateReceivableJournalEntry(ctx context.Context, input JournalEntryInput) (accounting.Move, error) {
	return s.createJournalEntry(ctx, EntryReceivable, input)
}

func (s *Service) createJournalEntry(ctx context.Context, kind EntryType, input JournalEntryInput) (accounting.Move, error) {
	var move accounting.Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.GetFund(ctx, input.FundID)
		if err != nil {
			return err
		}
		move, err = s.createJournalEntryCommon(ctx, kind, fund, input)
		return err
	})
	if err != nil {
		return accounting.Move{}, err
	}
	s.invalidate(ctx, input.FundID)
	return move, nil
}

// createJournalEntryCommon posts a two-line entry in the fund journal.
func (s *Service) createJournalEntryCommon(ctx context.Context, kind EntryType, fund Fund, input JournalEntryInput) (accounting.Move, error) {
	if err := input.Validate(); err != nil {
		return accounting.Move{}, err
	}
	journal, err := s.ledger.GetJournal(ctx, fund.JournalID)
	if err != nil {
		return accounting.Move{}, err
	}
	debitAccount, creditAccount := journal.DefaultDebitAccountID, input.AccountID
	if kind == EntryReceivable {
		debitAccount, creditAccount = input.AccountID, journal.DefaultCreditAccountID
	}
	amount := input.Amount.Round(2)
	date := input.Date
	partner := fund.CustodianID
	return s.ledger.PostMove(ctx, accounting.MoveInput{
		JournalID:    journal.ID,
		Date:         date,
		Narration:    input.Description,
		SourceModule: SourceModule,
		SourceID:     uuid.New(),
		PostedBy:     input.ActorID,
		Lines: []accounting.MoveLineInput{
			{
				Name:      input.Description,
				AccountID: debitAccount,
				PartnerID: &partner,
				Debit:     amount,
				Credit:    decimal.Zero,
			},
			{
				Name:         input.Description,
				AccountID:    creditAccount,
				PartnerID:    &partner,
				Debit:        decimal.Zero,
				Credit:       amount,
				Quantity:     decimal.NewFromInt(1),
				DateMaturity: &date,
			},
		},
	})
}

// GetFund loads a fund with its computed balance.
func (s *Service) GetFund(ctx context.Context, id int64) (Fund, error) {
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		fund, err = tx.GetFund(ctx, id)
		return err
	})
	if err != nil {
		return Fund{}, err
	}
	fund.Balance, err = s.FundBalance(ctx, fund.ID)
	if err != nil {
		return Fund{}, err
	}
	return fund, nil
}

// ListFunds returns funds with balances; closed inactive funds only when asked.
func (s *Service) ListFunds(ctx context.Context, filter ListFundsFilter) ([]Fund, error) {
	var funds []Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		funds, err = tx.ListFunds(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i := range funds {
		i := i
		group.Go(func() error {
			balance, err := s.FundBalance(gctx, funds[i].ID)
			if err != nil {
				return err
			}
			funds[i].Balance = balance
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return funds, nil
}

// RenameFund changes the display name of a draft fund.
func (s *Service) RenameFund(ctx context.Context, fundID, actorID int64, name string) (Fund, error) {
	if err := s.checkIsInGroup(ctx, actorID, actionRenameFund); err != nil {
		return Fund{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Fund{}, errNameRequired
	}
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetFundForUpdate(ctx, fundID)
		if err != nil {
			return err
		}
		if current.State != FundStateDraft {
			return stateError(current, FundStateDraft)
		}
		fund, err = tx.UpdateFund(ctx, current.ID, FundUpdate{Name: &name})
		if err != nil {
			return err
		}
		return s.record(ctx, actorID, "pettycash.fund.rename", fund, map[string]any{"from": current.Name})
	})
	return fund, err
}

// FundBalance is the cash on hand: posted cash account movement less open vouchers.
func (s *Service) FundBalance(ctx context.Context, fundID int64) (decimal.Decimal, error) {
	loader := func(ctx context.Context) (decimal.Decimal, error) {
		return s.computeBalance(ctx, fundID)
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.Balance(ctx, fundID, loader)
}

func (s *Service) computeBalance(ctx context.Context, fundID int64) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.GetFund(ctx, fundID)
		if err != nil {
			return err
		}
		balance, err = s.balanceOf(ctx, tx, fund)
		return err
	})
	return balance, err
}

func (s *Service) balanceOf(ctx context.Context, tx TxRepository, fund Fund) (decimal.Decimal, error) {
	open, err := tx.SumUnreconciledVouchers(ctx, fund.ID)
	if err != nil {
		return decimal.Zero, err
	}
	journal, err := s.ledger.GetJournal(ctx, fund.JournalID)
	if err != nil {
		return decimal.Zero, err
	}
	cash, err := s.ledger.AccountBalance(ctx, journal.ID, journal.DefaultDebitAccountID)
	if err != nil {
		return decimal.Zero, err
	}
	return cash.Sub(open).Round(2), nil
}

// RefreshBalances drops cached balances of active funds and recomputes them.
func (s *Service) RefreshBalances(ctx context.Context) (int, error) {
	funds, err := s.ListFunds(ctx, ListFundsFilter{})
	if err != nil {
		return 0, err
	}
	for _, fund := range funds {
		s.invalidate(ctx, fund.ID)
		if _, err := s.FundBalance(ctx, fund.ID); err != nil {
			return 0, err
		}
	}
	return len(funds), nil
}

// ListMoves returns the journal entries posted in the fund journal.
func (s *Service) ListMoves(ctx context.Context, fundID int64) ([]accounting.Move, error) {
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		fund, err = tx.GetFund(ctx, fundID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.ledger.ListMovesByJournal(ctx, fund.JournalID)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, fund Fund, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["name"] = fund.Name
	meta["state"] = string(fund.State)
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "petty_cash_fund",
		EntityID: fmt.Sprintf("%d", fund.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) invalidate(ctx context.Context, fundID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, fundID); err != nil {
		s.logger.Warn("pettycash: invalidate balance", slog.Int64("fund_id", fundID), slog.Any("error", err))
	}
}

func (s *Service) count(action string) {
	if s.metrics != nil {
		s.metrics.FundEvent(action)
	}
}

// IsAccessDenied reports whether err is a failed role check.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
