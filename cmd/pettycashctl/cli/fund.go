package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/pettycash/internal/pettycash"
)

const dateLayout = "2006-01-02"

var errActorRequired = errors.New("pettycashctl: --actor is required")

func newFundCommand(deps Deps, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Manage petty cash funds",
	}
	cmd.AddCommand(
		newFundListCommand(deps, flags),
		newFundCreateCommand(deps, flags),
		newFundCloseCommand(deps, flags),
		newFundReopenCommand(deps, flags),
		newFundAmountCommand(deps, flags),
		newFundImportCommand(deps, flags),
	)
	return cmd
}

func newFundListCommand(deps Deps, flags *globalFlags) *cobra.Command {
	var all bool
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List funds",
		RunE: func(cmd *cobra.Command, args []string) error {
			funds, err := deps.Funds.ListFunds(cmd.Context(), pettycash.ListFundsFilter{
				IncludeInactive: all,
				State:           pettycash.FundState(state),
			})
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(deps.Stdout, funds)
			}
			return printFunds(deps.Stdout, funds)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive funds")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (draft, open, closed)")
	return cmd
}

func newFundCreateCommand(deps Deps, flags *globalFlags) *cobra.Command {
	var name, code, amount string
	var custodianID, accountID, companyID int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a fund with its own journal and voucher sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.actorID <= 0 {
				return errActorRequired
			}
			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			fund, err := deps.Funds.CreateFund(cmd.Context(), pettycash.CreateFundInput{
				Amount:      value,
				Name:        name,
				Code:        code,
				CustodianID: custodianID,
				AccountID:   accountID,
				CompanyID:   companyID,
				ActorID:     flags.actorID,
			})
			if err != nil {
				return err
			}
			return printFund(deps.Stdout, flags.json, fund)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "fund name")
	cmd.Flags().StringVar(&code, "code", "", "short code used as journal and voucher prefix")
	cmd.Flags().StringVar(&amount, "amount", "0", "fund amount")
	cmd.Flags().Int64Var(&custodianID, "custodian", 0, "custodian partner ID")
	cmd.Flags().Int64Var(&accountID, "account", 0, "cash account ID")
	cmd.Flags().Int64Var(&companyID, "company", 0, "company ID (defaults to the configured company)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("custodian")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newFundCloseCommand(deps Deps, flags *globalFlags) *cobra.Command {
	var fundID, receivableID int64
	var date string
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close a fund and post the receivable entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.actorID <= 0 {
				return errActorRequired
			}
			when, err := parseDate(date)
			if err != nil {
				return err
			}
			fund, err := deps.Funds.CloseFund(cmd.Context(), pettycash.CloseFundInput{
				FundID:              fundID,
				Date:                when,
				ReceivableAccountID: receivableID,
				ActorID:             flags.actorID,
			})
			if err != nil {
				return err
			}
			return printFund(deps.Stdout, flags.json, fund)
		},
	}
	cmd.Flags().Int64Var(&fundID, "id", 0, "fund ID")
	cmd.Flags().Int64Var(&receivableID, "receivable", 0, "receivable account ID")
	cmd.Flags().StringVar(&date, "date", "", "closing date (YYYY-MM-DD, defaults to today)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("receivable")
	return cmd
}

func newFundReopenCommand(deps Deps, flags *globalFlags) *cobra.Command {
	var fundID int64
	cmd := &cobra.Command{
		Use:   "reopen",
		Short: "Re-open a closed fund",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.actorID <= 0 {
				return errActorRequired
			}
			fund, err := deps.Funds.ReopenFund(cmd.Context(), fundID, flags.actorID)
			if err != nil {
				return err
			}
			return printFund(deps.Stdout, flags.json, fund)
		},
	}
	cmd.Flags().Int64Var(&fundID, "id", 0, "fund ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newFundAmountCommand(deps Deps, flags *globalFlags) *cobra.Command {
	var fundID int64
	var amount string
	cmd := &cobra.Command{
		Use:   "amount",
		Short: "Change the amount of an open fund",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.actorID <= 0 {
				return errActorRequired
			}
			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			fund, err := deps.Funds.ChangeFundAmount(cmd.Context(), pettycash.ChangeAmountInput{
				FundID:    fundID,
				NewAmount: value,
				ActorID:   flags.actorID,
			})
			if err != nil {
				return err
			}
			return printFund(deps.Stdout, flags.json, fund)
		},
	}
	cmd.Flags().Int64Var(&fundID, "id", 0, "fund ID")
	cmd.Flags().StringVar(&amount, "amount", "", "new fund amount")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func parseAmount(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pettycashctl: invalid amount %q: %w", raw, err)
	}
	return value, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	when, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("pettycashctl: invalid date %q: %w", raw, err)
	}
	return when, nil
}

func printFund(w io.Writer, asJSON bool, fund pettycash.Fund) error {
	if asJSON {
		return writeJSON(w, fund)
	}
	return printFunds(w, []pettycash.Fund{fund})
}

func printFunds(w io.Writer, funds []pettycash.Fund) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tNAME\tSTATE\tAMOUNT\tACTIVE")
	for _, f := range funds {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", f.ID, f.Code, f.Name, f.State, f.Amount.StringFixed(2), f.Active)
	}
	return tw.Flush()
}
