package pettycashhttp

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

type createFundRequest struct {
	Name        string          `json:"name" validate:"required,max=128"`
	Code        string          `json:"code" validate:"required,max=16"`
	Amount      decimal.Decimal `json:"amount"`
	CustodianID int64           `json:"custodian_id" validate:"required,gt=0"`
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	CompanyID   int64           `json:"company_id" validate:"omitempty,gt=0"`
}

type closeFundRequest struct {
	Date                string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ReceivableAccountID int64  `json:"receivable_account_id" validate:"required,gt=0"`
}

type changeAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type renameFundRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type journalEntryRequest struct {
	Type        string          `json:"type" validate:"required,oneof=payable receivable"`
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=256"`
}

type issueVoucherRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	ExpenseAccountID int64           `json:"expense_account_id" validate:"required,gt=0"`
	Description      string          `json:"description" validate:"required,max=256"`
	Date             string          `json:"date" validate:"required,datetime=2006-01-02"`
}

type reconcileVoucherRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type balanceResponse struct {
	FundID   int64  `json:"fund_id"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", httpx.ErrValidation, raw)
	}
	return t, nil
}

type wizardRequest struct {
	FundName         string          `json:"fund_name"`
	FundCode         string          `json:"fund_code"`
	FundAmount       decimal.Decimal `json:"fund_amount"`
	CustodianID      int64           `json:"custodian_id"`
	AccountID        int64           `json:"account_id"`
	PayableAccountID int64           `json:"payable_account_id"`
	EffectiveDate    string          `json:"effective_date" validate:"required,datetime=2006-01-02"`
	CompanyID        int64           `json:"company_id"`
}
