package pettycash

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/platform/httpx"
)

// FundState enumerates the fund lifecycle.
type FundState string

const (
	FundStateDraft  FundState = "draft"
	FundStateOpen   FundState = "open"
	FundStateClosed FundState = "closed"
)

// EntryType selects the debit/credit pairing of a fund journal entry.
type EntryType string

const (
	// EntryPayable debits the journal's cash account and credits the given account.
	EntryPayable EntryType = "payable"
	// EntryReceivable debits the given account and credits the journal's cash account.
	EntryReceivable EntryType = "receivable"
)

// SourceModule tags journal entries created by this package.
const SourceModule = "PETTYCASH"

// Fund is one cash box under a custodian's responsibility.
type Fund struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Code        string          `json:"code"`
	CustodianID int64           `json:"custodian_partner_id"`
	JournalID   int64           `json:"journal_id"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	State       FundState       `json:"state"`
	Active      bool            `json:"active"`
	CompanyID   int64           `json:"company_id"`
	Currency    string          `json:"currency"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Voucher is a payment or expense claim paid out of the fund.
type Voucher struct {
	ID               int64           `json:"id"`
	FundID           int64           `json:"fund_id"`
	Number           string          `json:"number"`
	Amount           decimal.Decimal `json:"amount"`
	ExpenseAccountID int64           `json:"expense_account_id"`
	Description      string          `json:"description"`
	Date             time.Time       `json:"date"`
	Reconciled       bool            `json:"reconciled"`
	MoveID           *int64          `json:"move_id,omitempty"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	ReconciledAt     *time.Time      `json:"reconciled_at,omitempty"`
}

// Invoice is the host invoice as seen from a fund.
type Invoice struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	PartnerID   int64           `json:"partner_id"`
	AmountTotal decimal.Decimal `json:"amount_total"`
	State       string          `json:"state"`
	InvoiceDate time.Time       `json:"invoice_date"`
	PettyFundID *int64          `json:"petty_fund_id,omitempty"`
}

// FundInput carries the columns of a new fund row.
type FundInput struct {
	Name        string
	Code        string
	CustodianID int64
	JournalID   int64
	Amount      decimal.Decimal
	State       FundState
	CompanyID   int64
}

// FundUpdate carries mutable fund columns; nil fields are left untouched.
type FundUpdate struct {
	Name   *string
	Amount *decimal.Decimal
	State  *FundState
	Active *bool
}

// ListFundsFilter narrows fund listings.
type ListFundsFilter struct {
	IncludeInactive bool
	State           FundState
	CustodianID     int64
}

// CreateFundInput gathers the create_fund parameters.
type CreateFundInput struct {
	Amount      decimal.Decimal
	Name        string
	Code        string
	CustodianID int64
	AccountID   int64
	CompanyID   int64
	ActorID     int64
}

// CloseFundInput gathers the close_fund parameters.
type CloseFundInput struct {
	FundID              int64
	Date                time.Time
	ReceivableAccountID int64
	ActorID             int64
}

// ChangeAmountInput gathers the change_fund_amount parameters.
type ChangeAmountInput struct {
	FundID    int64
	NewAmount decimal.Decimal
	ActorID   int64
}

// JournalEntryInput gathers the parameters of a fund journal entry.
type JournalEntryInput struct {
	FundID      int64
	AccountID   int64
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	ActorID     int64
}

// IssueVoucherInput gathers the parameters of a new voucher.
type IssueVoucherInput struct {
	FundID           int64
	Amount           decimal.Decimal
	ExpenseAccountID int64
	Description      string
	Date             time.Time
	ActorID          int64
}

// VoucherInput carries the columns of a new voucher row.
type VoucherInput struct {
	FundID           int64
	Number           string
	Amount           decimal.Decimal
	ExpenseAccountID int64
	Description      string
	Date             time.Time
	CreatedBy        int64
}

// ReconcileVoucherInput gathers the parameters of a voucher reconciliation.
type ReconcileVoucherInput struct {
	VoucherID int64
	Date      time.Time
	ActorID   int64
}

var (
	// ErrAccessDenied indicates the caller lacks the Finance Manager role.
	ErrAccessDenied = fmt.Errorf("pettycash: access denied: %w", httpx.ErrForbidden)
	// ErrFundNotFound indicates a missing fund.
	ErrFundNotFound = fmt.Errorf("pettycash: fund not found: %w", httpx.ErrNotFound)
	// ErrVoucherNotFound indicates a missing voucher.
	ErrVoucherNotFound = fmt.Errorf("pettycash: voucher not found: %w", httpx.ErrNotFound)
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = fmt.Errorf("pettycash: invoice not found: %w", httpx.ErrNotFound)
	// ErrUnreconciledVouchers blocks closing or shrinking a fund with open vouchers.
	ErrUnreconciledVouchers = fmt.Errorf("pettycash: fund has un-reconciled vouchers: %w", httpx.ErrUnprocessable)
	// ErrInvalidState indicates the fund is not in the state the operation needs.
	ErrInvalidState = fmt.Errorf("pettycash: invalid fund state: %w", httpx.ErrUnprocessable)
	// ErrInvalidAmount indicates a non-positive or malformed amount.
	ErrInvalidAmount = fmt.Errorf("pettycash: invalid amount: %w", httpx.ErrUnprocessable)
	// ErrInvalidAccount indicates an account of the wrong kind.
	ErrInvalidAccount = fmt.Errorf("pettycash: invalid account: %w", httpx.ErrValidation)
	// ErrInsufficientBalance indicates a voucher exceeds the cash on hand.
	ErrInsufficientBalance = fmt.Errorf("pettycash: insufficient fund balance: %w", httpx.ErrUnprocessable)
	// ErrVoucherReconciled indicates the voucher was already reconciled.
	ErrVoucherReconciled = fmt.Errorf("pettycash: voucher already reconciled: %w", httpx.ErrUnprocessable)
	// ErrDuplicateFundCode indicates the fund code is taken.
	ErrDuplicateFundCode = fmt.Errorf("pettycash: fund code already exists: %w", httpx.ErrDuplicate)
)

// AccessError reports which group an action requires.
type AccessError struct {
	Group  string
	Action string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("pettycash: only users in group %s may %s", e.Group, e.Action)
}

// Is lets errors.Is match ErrAccessDenied and the HTTP forbidden sentinel.
func (e *AccessError) Is(target error) bool {
	return target == ErrAccessDenied || target == httpx.ErrForbidden
}

// Validate ensures fund creation input meets minimum criteria.
func (in CreateFundInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errNameRequired
	}
	if strings.TrimSpace(in.Code) == "" {
		return fmt.Errorf("pettycash: fund code required: %w", httpx.ErrValidation)
	}
	if in.CustodianID <= 0 {
		return fmt.Errorf("pettycash: custodian required: %w", httpx.ErrValidation)
	}
	if in.AccountID <= 0 {
		return fmt.Errorf("pettycash: cash account required: %w", httpx.ErrValidation)
	}
	if !in.Amount.Round(2).IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Validate ensures journal entry input meets minimum criteria.
func (in JournalEntryInput) Validate() error {
	if in.AccountID <= 0 {
		return fmt.Errorf("pettycash: counterpart account required: %w", httpx.ErrValidation)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("pettycash: entry date required: %w", httpx.ErrValidation)
	}
	if !in.Amount.Round(2).IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Validate ensures voucher input meets minimum criteria.
func (in IssueVoucherInput) Validate() error {
	if in.ExpenseAccountID <= 0 {
		return fmt.Errorf("pettycash: expense account required: %w", httpx.ErrValidation)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("pettycash: voucher description required: %w", httpx.ErrValidation)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("pettycash: voucher date required: %w", httpx.ErrValidation)
	}
	if !in.Amount.Round(2).IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func unreconciledError(name string) error {
	return fmt.Errorf("%w: petty cash fund (%s)", ErrUnreconciledVouchers, name)
}

func stateError(fund Fund, want FundState) error {
	return fmt.Errorf("%w: petty cash fund (%s) is %s, expected %s", ErrInvalidState, fund.Name, fund.State, want)
}

var (
	errNilRepository = errors.New("pettycash: repository not initialised")
	errNameRequired  = fmt.Errorf("pettycash: fund name required: %w", httpx.ErrValidation)
)
