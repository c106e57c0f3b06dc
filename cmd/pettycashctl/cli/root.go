package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/pettycash/internal/pettycash"
	"github.com/odyssey-erp/pettycash/internal/rbac"
)

// FundOps is the slice of the fund service the CLI drives.
type FundOps interface {
	ListFunds(ctx context.Context, filter pettycash.ListFundsFilter) ([]pettycash.Fund, error)
	CreateFund(ctx context.Context, input pettycash.CreateFundInput) (pettycash.Fund, error)
	InitializeFund(ctx context.Context, wiz pettycash.CreateFundWizard, actorID int64) (pettycash.WizardResult, error)
	CloseFund(ctx context.Context, input pettycash.CloseFundInput) (pettycash.Fund, error)
	ReopenFund(ctx context.Context, fundID, actorID int64) (pettycash.Fund, error)
	ChangeFundAmount(ctx context.Context, input pettycash.ChangeAmountInput) (pettycash.Fund, error)
}

// RoleSeeder provisions roles and permissions.
type RoleSeeder interface {
	EnsureRole(ctx context.Context, name, description string) (rbac.Role, error)
	EnsurePermission(ctx context.Context, name, description string) (rbac.Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
}

// Deps are the collaborators behind the commands.
type Deps struct {
	Funds        FundOps
	Roles        RoleSeeder
	Jobs         *JobsCLI
	ManagerGroup string
	Stdout       io.Writer
	Stderr       io.Writer
}

type globalFlags struct {
	actorID int64
	json    bool
}

// NewRootCommand assembles the pettycashctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "pettycashctl",
		Short:         "Operate petty cash funds from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(deps.Stdout)
	root.SetErr(deps.Stderr)
	root.PersistentFlags().Int64Var(&flags.actorID, "actor", 0, "user ID the operation is performed as")
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "print results as JSON")

	root.AddCommand(newFundCommand(deps, flags))
	root.AddCommand(newJobsCommand(deps, flags))
	root.AddCommand(newRBACCommand(deps))
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
