package accounting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/platform/httpx"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// AccountKind narrows an account to its reconciliation behaviour.
type AccountKind string

const (
	AccountKindPayable    AccountKind = "payable"
	AccountKindReceivable AccountKind = "receivable"
	AccountKindLiquidity  AccountKind = "liquidity"
	AccountKindOther      AccountKind = "other"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// JournalType enumerates the books a journal can represent.
type JournalType string

const (
	JournalTypeCash    JournalType = "cash"
	JournalTypeBank    JournalType = "bank"
	JournalTypeGeneral JournalType = "general"
)

// MoveState enumerates journal entry lifecycle values.
type MoveState string

const (
	MoveStateDraft  MoveState = "draft"
	MoveStatePosted MoveState = "posted"
)

// Account models a chart of accounts node.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	Kind      AccountKind
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period represents a fiscal period window.
type Period struct {
	ID        int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
}

// Sequence numbers documents posted in a journal.
type Sequence struct {
	ID         int64
	Name       string
	Code       string
	Prefix     string
	Padding    int
	NumberNext int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Render formats number with the sequence prefix interpolated for date.
func (s Sequence) Render(number int64, date time.Time) string {
	prefix := strings.NewReplacer(
		"%(year)s", date.Format("2006"),
		"%(y)s", date.Format("06"),
		"%(month)s", date.Format("01"),
		"%(day)s", date.Format("02"),
	).Replace(s.Prefix)
	return fmt.Sprintf("%s%0*d", prefix, s.Padding, number)
}

// Journal is a book whose moves share numbering and default accounts.
type Journal struct {
	ID                     int64
	Name                   string
	Code                   string
	Type                   JournalType
	DefaultDebitAccountID  int64
	DefaultCreditAccountID int64
	UserID                 *int64
	SequenceID             int64
	UpdatePosted           bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Move captures a double-entry journal entry.
type Move struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	JournalID    int64      `json:"journal_id"`
	PeriodID     int64      `json:"period_id"`
	Date         time.Time  `json:"date"`
	Narration    string     `json:"narration"`
	State        MoveState  `json:"state"`
	SourceModule string     `json:"source_module"`
	SourceID     uuid.UUID  `json:"source_id"`
	PostedBy     int64      `json:"posted_by"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Lines        []MoveLine `json:"lines"`
}

// Amount returns the total debited by the move.
func (m Move) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, line := range m.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// MoveLine stores a debit or credit amount for an account.
type MoveLine struct {
	ID           int64           `json:"id"`
	MoveID       int64           `json:"move_id"`
	Name         string          `json:"name"`
	AccountID    int64           `json:"account_id"`
	PartnerID    *int64          `json:"partner_id,omitempty"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	Quantity     decimal.Decimal `json:"quantity"`
	Date         time.Time       `json:"date"`
	DateMaturity *time.Time      `json:"date_maturity,omitempty"`
}

// SequenceInput describes a sequence to create.
type SequenceInput struct {
	Name    string
	Code    string
	Prefix  string
	Padding int
}

// JournalInput describes a journal to create.
type JournalInput struct {
	Name                   string
	Code                   string
	Type                   JournalType
	DefaultDebitAccountID  int64
	DefaultCreditAccountID int64
	UserID                 *int64
	SequenceID             int64
	UpdatePosted           bool
}

// MoveLineInput describes a journal line for posting request.
type MoveLineInput struct {
	Name         string
	AccountID    int64
	PartnerID    *int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	Quantity     decimal.Decimal
	DateMaturity *time.Time
}

// MoveInput groups fields required to create and post a journal entry.
type MoveInput struct {
	JournalID    int64
	Date         time.Time
	Narration    string
	SourceModule string
	SourceID     uuid.UUID
	PostedBy     int64
	Lines        []MoveLineInput
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = fmt.Errorf("accounting: journal lines must balance: %w", httpx.ErrUnprocessable)
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = fmt.Errorf("accounting: journal requires at least two lines: %w", httpx.ErrUnprocessable)
	// ErrInvalidPeriod indicates missing or locked period.
	ErrInvalidPeriod = fmt.Errorf("accounting: period is not open: %w", httpx.ErrUnprocessable)
	// ErrPeriodLocked indicates locked period.
	ErrPeriodLocked = fmt.Errorf("accounting: period locked: %w", httpx.ErrUnprocessable)
	// ErrMoveNotFound indicates missing entry.
	ErrMoveNotFound = fmt.Errorf("accounting: journal entry not found: %w", httpx.ErrNotFound)
	// ErrJournalNotFound indicates a missing journal.
	ErrJournalNotFound = fmt.Errorf("accounting: journal not found: %w", httpx.ErrNotFound)
	// ErrSequenceNotFound indicates a missing sequence.
	ErrSequenceNotFound = fmt.Errorf("accounting: sequence not found: %w", httpx.ErrNotFound)
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = fmt.Errorf("accounting: account not found: %w", httpx.ErrNotFound)
	// ErrDuplicateJournalCode indicates the journal code is taken.
	ErrDuplicateJournalCode = fmt.Errorf("accounting: journal code already exists: %w", httpx.ErrDuplicate)
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = fmt.Errorf("accounting: source already linked: %w", httpx.ErrDuplicate)
)

// Validate ensures sequence input meets minimum criteria.
func (in SequenceInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("accounting: sequence name required")
	}
	if in.Padding < 0 {
		return errors.New("accounting: sequence padding must not be negative")
	}
	return nil
}

// Validate ensures journal input meets minimum criteria.
func (in JournalInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("accounting: journal name required")
	}
	if strings.TrimSpace(in.Code) == "" {
		return errors.New("accounting: journal code required")
	}
	if in.DefaultDebitAccountID == 0 || in.DefaultCreditAccountID == 0 {
		return errors.New("accounting: journal default accounts required")
	}
	if in.SequenceID == 0 {
		return errors.New("accounting: journal sequence required")
	}
	return nil
}

// Validate ensures posting input meets minimum criteria.
func (in MoveInput) Validate() error {
	if in.JournalID == 0 {
		return errors.New("accounting: journal required")
	}
	if in.Date.IsZero() {
		return errors.New("accounting: date required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("accounting: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("accounting: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return fmt.Errorf("accounting: line %d cannot be both debit and credit", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Round(2).Equal(credit.Round(2)) {
		return ErrUnbalanced
	}
	if in.SourceModule == "" {
		return errors.New("accounting: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("accounting: source id required")
	}
	return nil
}
