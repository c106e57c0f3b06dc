package pettycash

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/shared"
)

const (
	managerID int64 = 1
	clerkID   int64 = 2

	cashAccountID       int64 = 10
	payableAccountID    int64 = 20
	receivableAccountID int64 = 30
	expenseAccountID    int64 = 40
	custodianID         int64 = 77
)

var march5 = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

type memoryFundRepo struct {
	funds       map[int64]Fund
	vouchers    map[int64]Voucher
	invoices    map[int64]Invoice
	nextFund    int64
	nextVoucher int64
}

func newMemoryFundRepo() *memoryFundRepo {
	return &memoryFundRepo{
		funds:    make(map[int64]Fund),
		vouchers: make(map[int64]Voucher),
		invoices: make(map[int64]Invoice),
	}
}

func (r *memoryFundRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryFundTx{repo: r})
}

type memoryFundTx struct {
	repo *memoryFundRepo
}

func (tx *memoryFundTx) InsertFund(_ context.Context, in FundInput) (Fund, error) {
	for _, f := range tx.repo.funds {
		if f.Code == in.Code {
			return Fund{}, ErrDuplicateFundCode
		}
	}
	tx.repo.nextFund++
	fund := Fund{
		ID:          tx.repo.nextFund,
		Name:        in.Name,
		Code:        in.Code,
		CustodianID: in.CustodianID,
		JournalID:   in.JournalID,
		Amount:      in.Amount,
		State:       in.State,
		Active:      true,
		CompanyID:   in.CompanyID,
		Currency:    "IDR",
		CreatedAt:   march5,
		UpdatedAt:   march5,
	}
	tx.repo.funds[fund.ID] = fund
	return fund, nil
}

func (tx *memoryFundTx) GetFund(_ context.Context, id int64) (Fund, error) {
	fund, ok := tx.repo.funds[id]
	if !ok {
		return Fund{}, ErrFundNotFound
	}
	return fund, nil
}

func (tx *memoryFundTx) GetFundForUpdate(ctx context.Context, id int64) (Fund, error) {
	return tx.GetFund(ctx, id)
}

func (tx *memoryFundTx) ListFunds(_ context.Context, filter ListFundsFilter) ([]Fund, error) {
	var out []Fund
	for _, f := range tx.repo.funds {
		if !filter.IncludeInactive && !f.Active {
			continue
		}
		if filter.State != "" && f.State != filter.State {
			continue
		}
		if filter.CustodianID > 0 && f.CustodianID != filter.CustodianID {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (tx *memoryFundTx) UpdateFund(_ context.Context, id int64, upd FundUpdate) (Fund, error) {
	fund, ok := tx.repo.funds[id]
	if !ok {
		return Fund{}, ErrFundNotFound
	}
	if upd.Name != nil {
		fund.Name = *upd.Name
	}
	if upd.Amount != nil {
		fund.Amount = *upd.Amount
	}
	if upd.State != nil {
		fund.State = *upd.State
	}
	if upd.Active != nil {
		fund.Active = *upd.Active
	}
	tx.repo.funds[id] = fund
	return fund, nil
}

func (tx *memoryFundTx) CountUnreconciledVouchers(_ context.Context, fundID int64) (int, error) {
	count := 0
	for _, v := range tx.repo.vouchers {
		if v.FundID == fundID && !v.Reconciled {
			count++
		}
	}
	return count, nil
}

func (tx *memoryFundTx) SumUnreconciledVouchers(_ context.Context, fundID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range tx.repo.vouchers {
		if v.FundID == fundID && !v.Reconciled {
			total = total.Add(v.Amount)
		}
	}
	return total, nil
}

func (tx *memoryFundTx) InsertVoucher(_ context.Context, in VoucherInput) (Voucher, error) {
	tx.repo.nextVoucher++
	v := Voucher{
		ID:               tx.repo.nextVoucher,
		FundID:           in.FundID,
		Number:           in.Number,
		Amount:           in.Amount,
		ExpenseAccountID: in.ExpenseAccountID,
		Description:      in.Description,
		Date:             in.Date,
		CreatedBy:        in.CreatedBy,
		CreatedAt:        march5,
	}
	tx.repo.vouchers[v.ID] = v
	return v, nil
}

func (tx *memoryFundTx) GetVoucherForUpdate(_ context.Context, id int64) (Voucher, error) {
	v, ok := tx.repo.vouchers[id]
	if !ok {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, nil
}

func (tx *memoryFundTx) MarkVoucherReconciled(_ context.Context, id, moveID int64, at time.Time) (Voucher, error) {
	v, ok := tx.repo.vouchers[id]
	if !ok || v.Reconciled {
		return Voucher{}, ErrVoucherReconciled
	}
	v.Reconciled = true
	v.MoveID = &moveID
	v.ReconciledAt = &at
	tx.repo.vouchers[id] = v
	return v, nil
}

func (tx *memoryFundTx) ListVouchers(_ context.Context, fundID int64, onlyOpen bool) ([]Voucher, error) {
	var out []Voucher
	for _, v := range tx.repo.vouchers {
		if v.FundID != fundID || (onlyOpen && v.Reconciled) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryFundTx) GetInvoiceForUpdate(_ context.Context, id int64) (Invoice, error) {
	inv, ok := tx.repo.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (tx *memoryFundTx) AttachInvoice(_ context.Context, invoiceID int64, fundID *int64) (Invoice, error) {
	inv, ok := tx.repo.invoices[invoiceID]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	inv.PettyFundID = fundID
	tx.repo.invoices[invoiceID] = inv
	return inv, nil
}

func (tx *memoryFundTx) ListInvoices(_ context.Context, fundID int64) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range tx.repo.invoices {
		if inv.PettyFundID != nil && *inv.PettyFundID == fundID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeLedger struct {
	accounts  map[int64]accounting.Account
	sequences map[int64]accounting.Sequence
	journals  map[int64]accounting.Journal
	moves     []accounting.Move
	nextID    int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[int64]accounting.Account{
			cashAccountID:       {ID: cashAccountID, Code: "1010", Name: "Petty Cash", Type: accounting.AccountTypeAsset, Kind: accounting.AccountKindLiquidity},
			payableAccountID:    {ID: payableAccountID, Code: "2010", Name: "Accounts Payable", Type: accounting.AccountTypeLiability, Kind: accounting.AccountKindPayable},
			receivableAccountID: {ID: receivableAccountID, Code: "1110", Name: "Accounts Receivable", Type: accounting.AccountTypeAsset, Kind: accounting.AccountKindReceivable},
			expenseAccountID:    {ID: expenseAccountID, Code: "6010", Name: "Office Expense", Type: accounting.AccountTypeExpense, Kind: accounting.AccountKindOther},
		},
		sequences: make(map[int64]accounting.Sequence),
		journals:  make(map[int64]accounting.Journal),
	}
}

func (l *fakeLedger) GetAccount(_ context.Context, id int64) (accounting.Account, error) {
	acc, ok := l.accounts[id]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return acc, nil
}

func (l *fakeLedger) CreateSequence(_ context.Context, in accounting.SequenceInput) (accounting.Sequence, error) {
	if err := in.Validate(); err != nil {
		return accounting.Sequence{}, err
	}
	l.nextID++
	seq := accounting.Sequence{ID: l.nextID, Name: in.Name, Code: in.Code, Prefix: in.Prefix, Padding: in.Padding, NumberNext: 1}
	l.sequences[seq.ID] = seq
	return seq, nil
}

func (l *fakeLedger) NextSequenceNumber(_ context.Context, sequenceID int64, date time.Time) (string, error) {
	seq, ok := l.sequences[sequenceID]
	if !ok {
		return "", accounting.ErrSequenceNotFound
	}
	name := seq.Render(seq.NumberNext, date)
	seq.NumberNext++
	l.sequences[sequenceID] = seq
	return name, nil
}

func (l *fakeLedger) CreateJournal(_ context.Context, in accounting.JournalInput) (accounting.Journal, error) {
	if err := in.Validate(); err != nil {
		return accounting.Journal{}, err
	}
	l.nextID++
	j := accounting.Journal{
		ID:                     l.nextID,
		Name:                   in.Name,
		Code:                   in.Code,
		Type:                   in.Type,
		DefaultDebitAccountID:  in.DefaultDebitAccountID,
		DefaultCreditAccountID: in.DefaultCreditAccountID,
		UserID:                 in.UserID,
		SequenceID:             in.SequenceID,
		UpdatePosted:           in.UpdatePosted,
	}
	l.journals[j.ID] = j
	return j, nil
}

func (l *fakeLedger) GetJournal(_ context.Context, id int64) (accounting.Journal, error) {
	j, ok := l.journals[id]
	if !ok {
		return accounting.Journal{}, accounting.ErrJournalNotFound
	}
	return j, nil
}

func (l *fakeLedger) PostMove(ctx context.Context, in accounting.MoveInput) (accounting.Move, error) {
	if err := in.Validate(); err != nil {
		return accounting.Move{}, err
	}
	journal, err := l.GetJournal(ctx, in.JournalID)
	if err != nil {
		return accounting.Move{}, err
	}
	name, err := l.NextSequenceNumber(ctx, journal.SequenceID, in.Date)
	if err != nil {
		return accounting.Move{}, err
	}
	l.nextID++
	move := accounting.Move{
		ID:           l.nextID,
		Name:         name,
		JournalID:    in.JournalID,
		Date:         in.Date,
		Narration:    in.Narration,
		State:        accounting.MoveStatePosted,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		PostedBy:     in.PostedBy,
	}
	for _, line := range in.Lines {
		move.Lines = append(move.Lines, accounting.MoveLine{
			MoveID:       move.ID,
			Name:         line.Name,
			AccountID:    line.AccountID,
			PartnerID:    line.PartnerID,
			Debit:        line.Debit,
			Credit:       line.Credit,
			Quantity:     line.Quantity,
			Date:         in.Date,
			DateMaturity: line.DateMaturity,
		})
	}
	l.moves = append(l.moves, move)
	return move, nil
}

func (l *fakeLedger) ListMovesByJournal(_ context.Context, journalID int64) ([]accounting.Move, error) {
	var out []accounting.Move
	for _, m := range l.moves {
		if m.JournalID == journalID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *fakeLedger) AccountBalance(_ context.Context, journalID, accountID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, m := range l.moves {
		if m.JournalID != journalID {
			continue
		}
		for _, line := range m.Lines {
			if line.AccountID == accountID {
				total = total.Add(line.Debit).Sub(line.Credit)
			}
		}
	}
	return total, nil
}

type stubAuthorizer struct {
	managers map[int64]bool
	err      error
}

func (a stubAuthorizer) HasPermission(_ context.Context, userID int64, permission string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return permission == shared.PermPettyCashManage && a.managers[userID], nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingNotifier struct {
	events []FundClosedEvent
	err    error
}

func (n *recordingNotifier) FundClosed(_ context.Context, event FundClosedEvent) error {
	n.events = append(n.events, event)
	return n.err
}

type countingMetrics struct {
	events map[string]int
}

func (m *countingMetrics) FundEvent(action string) {
	if m.events == nil {
		m.events = make(map[string]int)
	}
	m.events[action]++
}

type fundFixture struct {
	svc      *Service
	repo     *memoryFundRepo
	ledger   *fakeLedger
	audit    *recordingAudit
	notifier *recordingNotifier
	metrics  *countingMetrics
}

func newFundFixture(t *testing.T) *fundFixture {
	t.Helper()
	fx := &fundFixture{
		repo:     newMemoryFundRepo(),
		ledger:   newFakeLedger(),
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		metrics:  &countingMetrics{},
	}
	fx.svc = NewService(fx.repo, fx.ledger, stubAuthorizer{managers: map[int64]bool{managerID: true}}, fx.audit, ServiceConfig{DefaultCompanyID: 1}).
		WithNotifier(fx.notifier).
		WithMetrics(fx.metrics)
	fx.svc.WithNow(func() time.Time { return march5 })
	return fx
}

func (fx *fundFixture) initialize(t *testing.T, amount string) Fund {
	t.Helper()
	result, err := fx.svc.InitializeFund(context.Background(), CreateFundWizard{
		FundName:         "Front Office",
		FundCode:         "PC01",
		FundAmount:       decimal.RequireFromString(amount),
		CustodianID:      custodianID,
		AccountID:        cashAccountID,
		PayableAccountID: payableAccountID,
		EffectiveDate:    march5,
	}, managerID)
	require.NoError(t, err)
	return result.Fund
}

func (fx *fundFixture) issue(t *testing.T, fundID int64, amount string) Voucher {
	t.Helper()
	v, err := fx.svc.IssueVoucher(context.Background(), IssueVoucherInput{
		FundID:           fundID,
		Amount:           decimal.RequireFromString(amount),
		ExpenseAccountID: expenseAccountID,
		Description:      "Taxi",
		Date:             march5,
		ActorID:          clerkID,
	})
	require.NoError(t, err)
	return v
}

func requireTwoBalancedLines(t *testing.T, move accounting.Move, amount string) {
	t.Helper()
	require.Len(t, move.Lines, 2)
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range move.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	require.Equal(t, amount, debit.StringFixed(2))
	require.Equal(t, amount, credit.StringFixed(2))
}

func TestCreateFundProvisionsSequenceJournalAndOpenFund(t *testing.T) {
	fx := newFundFixture(t)

	fund, err := fx.svc.CreateFund(context.Background(), CreateFundInput{
		Amount:      decimal.RequireFromString("500"),
		Name:        "Front Office",
		Code:        "PC01",
		CustodianID: custodianID,
		AccountID:   cashAccountID,
		ActorID:     managerID,
	})
	require.NoError(t, err)

	assert.Equal(t, FundStateOpen, fund.State)
	assert.True(t, fund.Active)
	assert.Equal(t, "500.00", fund.Amount.StringFixed(2))
	assert.Equal(t, int64(1), fund.CompanyID)

	journal, err := fx.ledger.GetJournal(context.Background(), fund.JournalID)
	require.NoError(t, err)
	assert.Equal(t, accounting.JournalTypeCash, journal.Type)
	assert.Equal(t, "PC01", journal.Code)
	assert.Equal(t, cashAccountID, journal.DefaultDebitAccountID)
	assert.Equal(t, cashAccountID, journal.DefaultCreditAccountID)
	require.NotNil(t, journal.UserID)
	assert.Equal(t, custodianID, *journal.UserID)
	assert.True(t, journal.UpdatePosted)

	seq := fx.ledger.sequences[journal.SequenceID]
	assert.Equal(t, "Front Office", seq.Name)
	assert.Equal(t, "pay_voucher", seq.Code)
	assert.Equal(t, "PC01/%(y)s/", seq.Prefix)
	assert.Equal(t, 2, seq.Padding)

	assert.Equal(t, []string{"pettycash.fund.create"}, fx.audit.actions())
	assert.Equal(t, 1, fx.metrics.events["create"])
}

func TestCreateFundRejectsDuplicateCode(t *testing.T) {
	fx := newFundFixture(t)
	input := CreateFundInput{
		Amount:      decimal.NewFromInt(100),
		Name:        "Front Office",
		Code:        "PC01",
		CustodianID: custodianID,
		AccountID:   cashAccountID,
		ActorID:     managerID,
	}
	_, err := fx.svc.CreateFund(context.Background(), input)
	require.NoError(t, err)

	input.Name = "Warehouse"
	_, err = fx.svc.CreateFund(context.Background(), input)
	require.ErrorIs(t, err, ErrDuplicateFundCode)
}

func TestGuardedOperationsRejectNonManagers(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "500")
	voucher := fx.issue(t, fund.ID, "20")
	linkedFund := fund.ID
	fx.repo.invoices[5] = Invoice{ID: 5, Number: "INV/2024/0005", PettyFundID: &linkedFund, InvoiceDate: march5}
	ctx := context.Background()

	cases := map[string]struct {
		action string
		run    func() error
	}{
		"create": {actionCreateSequence, func() error {
			_, err := fx.svc.CreateFund(ctx, CreateFundInput{Amount: decimal.NewFromInt(1), Name: "X", Code: "X", CustodianID: 1, AccountID: cashAccountID, ActorID: clerkID})
			return err
		}},
		"sequence": {actionCreateSequence, func() error {
			_, err := fx.svc.CreateJournalSequence(ctx, clerkID, "X", "X")
			return err
		}},
		"wizard": {actionCreateSequence, func() error {
			_, err := fx.svc.InitializeFund(ctx, CreateFundWizard{}, clerkID)
			return err
		}},
		"close": {actionCloseFund, func() error {
			_, err := fx.svc.CloseFund(ctx, CloseFundInput{FundID: fund.ID, ReceivableAccountID: receivableAccountID, ActorID: clerkID})
			return err
		}},
		"reopen": {actionReopenFund, func() error {
			_, err := fx.svc.ReopenFund(ctx, fund.ID, clerkID)
			return err
		}},
		"amount": {actionChangeAmount, func() error {
			_, err := fx.svc.ChangeFundAmount(ctx, ChangeAmountInput{FundID: fund.ID, NewAmount: decimal.NewFromInt(900), ActorID: clerkID})
			return err
		}},
		"reconcile": {actionReconcile, func() error {
			_, err := fx.svc.ReconcileVoucher(ctx, ReconcileVoucherInput{VoucherID: voucher.ID, ActorID: clerkID})
			return err
		}},
		"attach invoice": {actionAttachInvoice, func() error {
			_, err := fx.svc.AttachInvoice(ctx, fund.ID, 5, clerkID)
			return err
		}},
		"detach invoice": {actionDetachInvoice, func() error {
			_, err := fx.svc.DetachInvoice(ctx, fund.ID, 5, clerkID)
			return err
		}},
		"anonymous": {actionCloseFund, func() error {
			_, err := fx.svc.CloseFund(ctx, CloseFundInput{FundID: fund.ID, ReceivableAccountID: receivableAccountID})
			return err
		}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.run()
			require.ErrorIs(t, err, ErrAccessDenied)
			require.True(t, IsAccessDenied(err))
			require.EqualError(t, err, "pettycash: only users in group Finance Manager may "+tc.action)
		})
	}

	stored := fx.repo.funds[fund.ID]
	assert.Equal(t, FundStateOpen, stored.State)
	assert.Equal(t, "500.00", stored.Amount.StringFixed(2))
	require.NotNil(t, fx.repo.invoices[5].PettyFundID)
	assert.Equal(t, fund.ID, *fx.repo.invoices[5].PettyFundID)
}

func TestGuardPropagatesAuthorizerFailure(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(newMemoryFundRepo(), newFakeLedger(), stubAuthorizer{err: boom}, nil, ServiceConfig{})

	_, err := svc.ReopenFund(context.Background(), 1, managerID)
	require.ErrorIs(t, err, boom)
	require.False(t, IsAccessDenied(err))
}

func TestCloseFundRejectsUnreconciledVouchers(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "500")
	fx.issue(t, fund.ID, "45")

	_, err := fx.svc.CloseFund(context.Background(), CloseFundInput{
		FundID:              fund.ID,
		Date:                march5,
		ReceivableAccountID: receivableAccountID,
		ActorID:             managerID,
	})
	require.ErrorIs(t, err, ErrUnreconciledVouchers)
	require.Contains(t, err.Error(), "petty cash fund (Front Office)")

	stored := fx.repo.funds[fund.ID]
	assert.Equal(t, FundStateOpen, stored.State)
	assert.True(t, stored.Active)
	assert.Empty(t, fx.notifier.events)
}

func TestCloseFundPostsReceivableEntryAndDeactivates(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "500")
	movesBefore := len(fx.ledger.moves)

	closed, err := fx.svc.CloseFund(context.Background(), CloseFundInput{
		FundID:              fund.ID,
		Date:                march5,
		ReceivableAccountID: receivableAccountID,
		ActorID:             managerID,
	})
	require.NoError(t, err)

	assert.True(t, closed.Amount.IsZero())
	assert.Equal(t, FundStateClosed, closed.State)
	assert.False(t, closed.Active)

	require.Len(t, fx.ledger.moves, movesBefore+1)
	move := fx.ledger.moves[len(fx.ledger.moves)-1]
	requireTwoBalancedLines(t, move, "500.00")
	assert.Equal(t, "Close Petty Cash fund (Front Office)", move.Narration)
	assert.Equal(t, receivableAccountID, move.Lines[0].AccountID)
	assert.Equal(t, cashAccountID, move.Lines[1].AccountID)

	require.Len(t, fx.notifier.events, 1)
	assert.Equal(t, fund.ID, fx.notifier.events[0].FundID)
	assert.Equal(t, move.ID, fx.notifier.events[0].MoveID)
	assert.Equal(t, "500.00", fx.notifier.events[0].Amount)
	assert.Equal(t, 1, fx.metrics.events["close"])

	balance, err := fx.svc.FundBalance(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestCloseFundToleratesNotifierFailure(t *testing.T) {
	fx := newFundFixture(t)
	fx.notifier.err = errors.New("queue unavailable")
	fund := fx.initialize(t, "100")

	closed, err := fx.svc.CloseFund(context.Background(), CloseFundInput{FundID: fund.ID, ReceivableAccountID: receivableAccountID, ActorID: managerID})
	require.NoError(t, err)
	assert.Equal(t, FundStateClosed, closed.State)
}

func TestCloseFundRequiresOpenState(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "100")
	input := CloseFundInput{FundID: fund.ID, ReceivableAccountID: receivableAccountID, ActorID: managerID}
	_, err := fx.svc.CloseFund(context.Background(), input)
	require.NoError(t, err)

	_, err = fx.svc.CloseFund(context.Background(), input)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCloseZeroAmountFundPostsNoEntry(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "100")
	input := CloseFundInput{FundID: fund.ID, ReceivableAccountID: receivableAccountID, ActorID: managerID}
	_, err := fx.svc.CloseFund(context.Background(), input)
	require.NoError(t, err)
	reopened, err := fx.svc.ReopenFund(context.Background(), fund.ID, managerID)
	require.NoError(t, err)
	require.True(t, reopened.Amount.IsZero())
	movesBefore := len(fx.ledger.moves)

	closed, err := fx.svc.CloseFund(context.Background(), input)
	require.NoError(t, err)

	assert.Len(t, fx.ledger.moves, movesBefore)
	assert.Equal(t, FundStateClosed, closed.State)
	assert.False(t, closed.Active)
	require.Len(t, fx.notifier.events, 2)
	assert.Zero(t, fx.notifier.events[1].MoveID)
	assert.Equal(t, "0.00", fx.notifier.events[1].Amount)
}

func TestReopenFundRestoresOpenActive(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "100")

	_, err := fx.svc.ReopenFund(context.Background(), fund.ID, managerID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = fx.svc.CloseFund(context.Background(), CloseFundInput{FundID: fund.ID, ReceivableAccountID: receivableAccountID, ActorID: managerID})
	require.NoError(t, err)

	reopened, err := fx.svc.ReopenFund(context.Background(), fund.ID, managerID)
	require.NoError(t, err)
	assert.Equal(t, FundStateOpen, reopened.State)
	assert.True(t, reopened.Active)
	assert.True(t, reopened.Amount.IsZero())
}

func TestChangeFundAmount(t *testing.T) {
	t.Run("decrease blocked by open vouchers", func(t *testing.T) {
		fx := newFundFixture(t)
		fund := fx.initialize(t, "500")
		fx.issue(t, fund.ID, "10")

		_, err := fx.svc.ChangeFundAmount(context.Background(), ChangeAmountInput{FundID: fund.ID, NewAmount: decimal.NewFromInt(400), ActorID: managerID})
		require.ErrorIs(t, err, ErrUnreconciledVouchers)
		assert.Equal(t, "500.00", fx.repo.funds[fund.ID].Amount.StringFixed(2))
	})

	t.Run("increase allowed with open vouchers", func(t *testing.T) {
		fx := newFundFixture(t)
		fund := fx.initialize(t, "500")
		fx.issue(t, fund.ID, "10")

		updated, err := fx.svc.ChangeFundAmount(context.Background(), ChangeAmountInput{FundID: fund.ID, NewAmount: decimal.NewFromInt(750), ActorID: managerID})
		require.NoError(t, err)
		assert.Equal(t, "750.00", updated.Amount.StringFixed(2))
		assert.Equal(t, FundStateOpen, updated.State)
	})

	t.Run("sub-cent difference is not a decrease", func(t *testing.T) {
		fx := newFundFixture(t)
		fund := fx.initialize(t, "500")
		fx.issue(t, fund.ID, "10")

		_, err := fx.svc.ChangeFundAmount(context.Background(), ChangeAmountInput{FundID: fund.ID, NewAmount: decimal.RequireFromString("499.996"), ActorID: managerID})
		require.NoError(t, err)
	})

	t.Run("decrease allowed without vouchers", func(t *testing.T) {
		fx := newFundFixture(t)
		fund := fx.initialize(t, "500")

		updated, err := fx.svc.ChangeFundAmount(context.Background(), ChangeAmountInput{FundID: fund.ID, NewAmount: decimal.NewFromInt(200), ActorID: managerID})
		require.NoError(t, err)
		assert.Equal(t, "200.00", updated.Amount.StringFixed(2))
		assert.Contains(t, fx.audit.actions(), "pettycash.fund.amount")
	})

	t.Run("negative rejected", func(t *testing.T) {
		fx := newFundFixture(t)
		fund := fx.initialize(t, "500")

		_, err := fx.svc.ChangeFundAmount(context.Background(), ChangeAmountInput{FundID: fund.ID, NewAmount: decimal.NewFromInt(-1), ActorID: managerID})
		require.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestJournalEntriesPairAccountsByType(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "300")
	ctx := context.Background()
	input := JournalEntryInput{
		FundID:      fund.ID,
		AccountID:   payableAccountID,
		Date:        march5,
		Amount:      decimal.RequireFromString("75.5"),
		Description: "Top up",
		ActorID:     managerID,
	}

	payable, err := fx.svc.CreatePayableJournalEntry(ctx, input)
	require.NoError(t, err)
	requireTwoBalancedLines(t, payable, "75.50")
	assert.Equal(t, cashAccountID, payable.Lines[0].AccountID)
	assert.Equal(t, payableAccountID, payable.Lines[1].AccountID)

	input.AccountID = receivableAccountID
	receivable, err := fx.svc.CreateReceivableJournalEntry(ctx, input)
	require.NoError(t, err)
	requireTwoBalancedLines(t, receivable, "75.50")
	assert.Equal(t, receivableAccountID, receivable.Lines[0].AccountID)
	assert.Equal(t, cashAccountID, receivable.Lines[1].AccountID)

	for _, move := range []accounting.Move{payable, receivable} {
		assert.Equal(t, "Top up", move.Narration)
		assert.Equal(t, SourceModule, move.SourceModule)
		for _, line := range move.Lines {
			assert.Equal(t, "Top up", line.Name)
			require.NotNil(t, line.PartnerID)
			assert.Equal(t, custodianID, *line.PartnerID)
			assert.True(t, line.Date.Equal(march5))
		}
		credit := move.Lines[1]
		assert.Equal(t, "1", credit.Quantity.String())
		require.NotNil(t, credit.DateMaturity)
		assert.True(t, credit.DateMaturity.Equal(march5))
	}

	_, err = fx.svc.CreatePayableJournalEntry(ctx, JournalEntryInput{FundID: fund.ID, AccountID: payableAccountID, Date: march5, Amount: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSubCentAmountsAreRejected(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "100")
	ctx := context.Background()
	movesBefore := len(fx.ledger.moves)

	_, err := fx.svc.CreateFund(ctx, CreateFundInput{
		Amount:      decimal.RequireFromString("0.004"),
		Name:        "Warehouse",
		Code:        "PC02",
		CustodianID: custodianID,
		AccountID:   cashAccountID,
		ActorID:     managerID,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Len(t, fx.repo.funds, 1)

	_, err = fx.svc.CreatePayableJournalEntry(ctx, JournalEntryInput{
		FundID:      fund.ID,
		AccountID:   payableAccountID,
		Date:        march5,
		Amount:      decimal.RequireFromString("0.004"),
		Description: "Rounding",
		ActorID:     managerID,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Len(t, fx.ledger.moves, movesBefore)

	_, err = fx.svc.IssueVoucher(ctx, IssueVoucherInput{
		FundID:           fund.ID,
		Amount:           decimal.RequireFromString("0.001"),
		ExpenseAccountID: expenseAccountID,
		Description:      "Stamps",
		Date:             march5,
		ActorID:          clerkID,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Empty(t, fx.repo.vouchers)

	_, err = fx.svc.InitializeFund(ctx, CreateFundWizard{
		FundName:         "Warehouse",
		FundCode:         "PC02",
		FundAmount:       decimal.RequireFromString("0.004"),
		CustodianID:      custodianID,
		AccountID:        cashAccountID,
		PayableAccountID: payableAccountID,
		EffectiveDate:    march5,
	}, managerID)
	require.ErrorIs(t, err, ErrInvalidAmount)

	voucher := fx.issue(t, fund.ID, "0.005")
	assert.Equal(t, "0.01", voucher.Amount.StringFixed(2))
}

func TestInitializeFundPostsEstablishingEntry(t *testing.T) {
	fx := newFundFixture(t)

	result, err := fx.svc.InitializeFund(context.Background(), CreateFundWizard{
		FundName:         "Front Office",
		FundCode:         "PC01",
		FundAmount:       decimal.RequireFromString("500"),
		CustodianID:      custodianID,
		AccountID:        cashAccountID,
		PayableAccountID: payableAccountID,
		EffectiveDate:    march5,
	}, managerID)
	require.NoError(t, err)

	assert.Equal(t, FundStateOpen, result.Fund.State)
	move := result.PayableMove
	requireTwoBalancedLines(t, move, "500.00")
	assert.Equal(t, "Establish Petty Cash Fund (Front Office)", move.Narration)
	assert.Equal(t, "PC01/24/01", move.Name)
	assert.Equal(t, cashAccountID, move.Lines[0].AccountID)
	assert.Equal(t, payableAccountID, move.Lines[1].AccountID)

	balance, err := fx.svc.FundBalance(context.Background(), result.Fund.ID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", balance.StringFixed(2))
}

func TestInitializeFundValidatesForm(t *testing.T) {
	fx := newFundFixture(t)
	valid := CreateFundWizard{
		FundName:         "Front Office",
		FundCode:         "PC01",
		FundAmount:       decimal.RequireFromString("500"),
		CustodianID:      custodianID,
		AccountID:        cashAccountID,
		PayableAccountID: payableAccountID,
		EffectiveDate:    march5,
	}

	missingName := valid
	missingName.FundName = ""
	_, err := fx.svc.InitializeFund(context.Background(), missingName, managerID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FundName")

	zero := valid
	zero.FundAmount = decimal.Zero
	_, err = fx.svc.InitializeFund(context.Background(), zero, managerID)
	require.ErrorIs(t, err, ErrInvalidAmount)

	notPayable := valid
	notPayable.PayableAccountID = expenseAccountID
	_, err = fx.svc.InitializeFund(context.Background(), notPayable, managerID)
	require.ErrorIs(t, err, ErrInvalidAccount)

	assert.Empty(t, fx.repo.funds)
}

func TestVoucherLifecycleKeepsBalanceConsistent(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "500")
	ctx := context.Background()

	voucher := fx.issue(t, fund.ID, "80")
	assert.Equal(t, "PC01/24/02", voucher.Number)
	assert.False(t, voucher.Reconciled)

	balance, err := fx.svc.FundBalance(ctx, fund.ID)
	require.NoError(t, err)
	assert.Equal(t, "420.00", balance.StringFixed(2))

	_, err = fx.svc.IssueVoucher(ctx, IssueVoucherInput{
		FundID:           fund.ID,
		Amount:           decimal.RequireFromString("420.01"),
		ExpenseAccountID: expenseAccountID,
		Description:      "Too much",
		Date:             march5,
		ActorID:          clerkID,
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	reconciled, err := fx.svc.ReconcileVoucher(ctx, ReconcileVoucherInput{VoucherID: voucher.ID, Date: march5, ActorID: managerID})
	require.NoError(t, err)
	assert.True(t, reconciled.Reconciled)
	require.NotNil(t, reconciled.MoveID)

	move := fx.ledger.moves[len(fx.ledger.moves)-1]
	assert.Equal(t, *reconciled.MoveID, move.ID)
	requireTwoBalancedLines(t, move, "80.00")
	assert.Equal(t, expenseAccountID, move.Lines[0].AccountID)
	assert.Equal(t, cashAccountID, move.Lines[1].AccountID)

	balance, err = fx.svc.FundBalance(ctx, fund.ID)
	require.NoError(t, err)
	assert.Equal(t, "420.00", balance.StringFixed(2))

	_, err = fx.svc.ReconcileVoucher(ctx, ReconcileVoucherInput{VoucherID: voucher.ID, ActorID: managerID})
	require.ErrorIs(t, err, ErrVoucherReconciled)

	open, err := fx.svc.ListVouchers(ctx, fund.ID, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.Equal(t, []string{"pettycash.fund.create", "pettycash.voucher.issue", "pettycash.voucher.reconcile"}, fx.audit.actions())
}

func TestIssueVoucherRequiresOpenFund(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "100")
	_, err := fx.svc.CloseFund(context.Background(), CloseFundInput{FundID: fund.ID, ReceivableAccountID: receivableAccountID, ActorID: managerID})
	require.NoError(t, err)

	_, err = fx.svc.IssueVoucher(context.Background(), IssueVoucherInput{
		FundID:           fund.ID,
		Amount:           decimal.NewFromInt(5),
		ExpenseAccountID: expenseAccountID,
		Description:      "Stamps",
		Date:             march5,
		ActorID:          clerkID,
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestListFundsHidesInactiveUnlessAsked(t *testing.T) {
	fx := newFundFixture(t)
	ctx := context.Background()
	open := fx.initialize(t, "100")
	closedFund, err := fx.svc.CreateFund(ctx, CreateFundInput{
		Amount:      decimal.NewFromInt(50),
		Name:        "Archive",
		Code:        "PC02",
		CustodianID: custodianID,
		AccountID:   cashAccountID,
		ActorID:     managerID,
	})
	require.NoError(t, err)
	_, err = fx.svc.CloseFund(ctx, CloseFundInput{FundID: closedFund.ID, ReceivableAccountID: receivableAccountID, ActorID: managerID})
	require.NoError(t, err)

	active, err := fx.svc.ListFunds(ctx, ListFundsFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)
	assert.Equal(t, "100.00", active[0].Balance.StringFixed(2))

	all, err := fx.svc.ListFunds(ctx, ListFundsFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Archive", all[0].Name)
}

func TestRenameFundOnlyInDraft(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "100")

	_, err := fx.svc.RenameFund(context.Background(), fund.ID, managerID, "Lobby")
	require.ErrorIs(t, err, ErrInvalidState)

	draft := fx.repo.funds[fund.ID]
	draft.State = FundStateDraft
	fx.repo.funds[fund.ID] = draft

	renamed, err := fx.svc.RenameFund(context.Background(), fund.ID, managerID, " Lobby ")
	require.NoError(t, err)
	assert.Equal(t, "Lobby", renamed.Name)
}

func TestInvoiceLinks(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "100")
	fx.repo.invoices[5] = Invoice{ID: 5, Number: "INV/2024/0005", AmountTotal: decimal.NewFromInt(12), State: "open", InvoiceDate: march5}
	ctx := context.Background()

	inv, err := fx.svc.AttachInvoice(ctx, fund.ID, 5, managerID)
	require.NoError(t, err)
	require.NotNil(t, inv.PettyFundID)
	assert.Equal(t, fund.ID, *inv.PettyFundID)

	linked, err := fx.svc.ListInvoices(ctx, fund.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)

	_, err = fx.svc.AttachInvoice(ctx, fund.ID, 5, managerID)
	require.NoError(t, err)

	other, err := fx.svc.CreateFund(ctx, CreateFundInput{
		Amount:      decimal.NewFromInt(50),
		Name:        "Warehouse",
		Code:        "PC02",
		CustodianID: custodianID,
		AccountID:   cashAccountID,
		ActorID:     managerID,
	})
	require.NoError(t, err)
	_, err = fx.svc.AttachInvoice(ctx, other.ID, 5, managerID)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, fund.ID, *fx.repo.invoices[5].PettyFundID)

	_, err = fx.svc.DetachInvoice(ctx, other.ID, 5, managerID)
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	_, err = fx.svc.DetachInvoice(ctx, fund.ID, 99, managerID)
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	inv, err = fx.svc.DetachInvoice(ctx, fund.ID, 5, managerID)
	require.NoError(t, err)
	assert.Nil(t, inv.PettyFundID)

	_, err = fx.svc.ListInvoices(ctx, 404)
	require.ErrorIs(t, err, ErrFundNotFound)
}

func TestStatementCollectsFundActivity(t *testing.T) {
	fx := newFundFixture(t)
	fund := fx.initialize(t, "200")
	v := fx.issue(t, fund.ID, "30")
	_, err := fx.svc.ReconcileVoucher(context.Background(), ReconcileVoucherInput{VoucherID: v.ID, ActorID: managerID})
	require.NoError(t, err)

	st, err := fx.svc.Statement(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.Equal(t, cashAccountID, st.CashAccountID)
	require.Len(t, st.Moves, 2)
	require.Len(t, st.Vouchers, 1)

	movements := st.CashMovements()
	require.Len(t, movements, 2)
	assert.Equal(t, "200.00", movements[0].Balance.StringFixed(2))
	assert.Equal(t, "170.00", movements[1].Balance.StringFixed(2))
	assert.Equal(t, "170.00", st.Fund.Balance.StringFixed(2))
}

func TestRefreshBalancesWarmsActiveFunds(t *testing.T) {
	fx := newFundFixture(t)
	fx.initialize(t, "100")

	count, err := fx.svc.RefreshBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
