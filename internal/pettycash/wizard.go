package pettycash

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/platform/httpx"
)

// CreateFundWizard is the transient input of the fund creation wizard.
type CreateFundWizard struct {
	FundName         string          `json:"fund_name" yaml:"fund_name" validate:"required,max=128"`
	FundCode         string          `json:"fund_code" yaml:"fund_code" validate:"required,max=16"`
	FundAmount       decimal.Decimal `json:"fund_amount" yaml:"fund_amount"`
	CustodianID      int64           `json:"custodian_id" yaml:"custodian_id" validate:"required,gt=0"`
	AccountID        int64           `json:"account_id" yaml:"account_id" validate:"required,gt=0"`
	PayableAccountID int64           `json:"payable_account_id" yaml:"payable_account_id" validate:"required,gt=0"`
	EffectiveDate    time.Time       `json:"effective_date" yaml:"effective_date" validate:"required"`
	CompanyID        int64           `json:"company_id,omitempty" yaml:"company_id" validate:"omitempty,gt=0"`
}

// WizardResult carries what the wizard created.
type WizardResult struct {
	Fund        Fund            `json:"fund"`
	PayableMove accounting.Move `json:"payable_move"`
}

var wizardValidator = validator.New()

// Validate checks the wizard form.
func (w CreateFundWizard) Validate() error {
	if err := wizardValidator.Struct(w); err != nil {
		return validationError(err)
	}
	if !w.FundAmount.Round(2).IsPositive() {
		return fmt.Errorf("%w: fund_amount must be greater than zero", ErrInvalidAmount)
	}
	return nil
}

// InitializeFund creates the fund and posts its establishing payable entry in one transaction.
func (s *Service) InitializeFund(ctx context.Context, wiz CreateFundWizard, actorID int64) (WizardResult, error) {
	if err := s.checkIsInGroup(ctx, actorID, actionCreateSequence); err != nil {
		return WizardResult{}, err
	}
	if err := wiz.Validate(); err != nil {
		return WizardResult{}, err
	}
	payable, err := s.ledger.GetAccount(ctx, wiz.PayableAccountID)
	if err != nil {
		return WizardResult{}, err
	}
	if payable.Kind != accounting.AccountKindPayable {
		return WizardResult{}, fmt.Errorf("%w: account %s is not payable", ErrInvalidAccount, payable.Code)
	}
	var result WizardResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := s.CreateFund(ctx, CreateFundInput{
			Amount:      wiz.FundAmount,
			Name:        wiz.FundName,
			Code:        wiz.FundCode,
			CustodianID: wiz.CustodianID,
			AccountID:   wiz.AccountID,
			CompanyID:   wiz.CompanyID,
			ActorID:     actorID,
		})
		if err != nil {
			return err
		}
		move, err := s.createJournalEntryCommon(ctx, EntryPayable, fund, JournalEntryInput{
			FundID:      fund.ID,
			AccountID:   payable.ID,
			Date:        wiz.EffectiveDate,
			Amount:      fund.Amount,
			Description: fmt.Sprintf("Establish Petty Cash Fund (%s)", wiz.FundName),
			ActorID:     actorID,
		})
		if err != nil {
			return err
		}
		result = WizardResult{Fund: fund, PayableMove: move}
		return nil
	})
	if err != nil {
		return WizardResult{}, err
	}
	s.invalidate(ctx, result.Fund.ID)
	return result, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, "; "))
}
