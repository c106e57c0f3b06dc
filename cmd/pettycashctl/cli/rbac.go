package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/pettycash/internal/shared"
)

// CustodianRole groups the permissions of fund custodians.
const CustodianRole = "Petty Cash Custodian"

var permissionDescriptions = map[string]string{
	shared.PermPettyCashView:    "View petty cash funds, balances and statements",
	shared.PermPettyCashVoucher: "Issue petty cash vouchers and link invoices",
	shared.PermPettyCashManage:  "Create, close, re-open and resize petty cash funds",
}

// SeedRoles provisions the manager and custodian roles and assigns managers.
func SeedRoles(ctx context.Context, seeder RoleSeeder, managerGroup string, managerIDs []int64) error {
	managerGroup = managerGroupOrDefault(managerGroup)
	grants := map[string][]string{
		managerGroup:  shared.PettyCashScopes(),
		CustodianRole: {shared.PermPettyCashView, shared.PermPettyCashVoucher},
	}
	permIDs := make(map[string]int64, len(permissionDescriptions))
	for _, name := range shared.PettyCashScopes() {
		perm, err := seeder.EnsurePermission(ctx, name, permissionDescriptions[name])
		if err != nil {
			return fmt.Errorf("rbac seed: permission %s: %w", name, err)
		}
		permIDs[name] = perm.ID
	}

	var managerRoleID int64
	for _, roleName := range []string{managerGroup, CustodianRole} {
		role, err := seeder.EnsureRole(ctx, roleName, "Petty cash "+roleName)
		if err != nil {
			return fmt.Errorf("rbac seed: role %s: %w", roleName, err)
		}
		for _, perm := range grants[roleName] {
			if err := seeder.GrantPermission(ctx, role.ID, permIDs[perm]); err != nil {
				return fmt.Errorf("rbac seed: grant %s to %s: %w", perm, roleName, err)
			}
		}
		if roleName == managerGroup {
			managerRoleID = role.ID
		}
	}

	for _, userID := range managerIDs {
		if err := seeder.AssignRole(ctx, userID, managerRoleID); err != nil {
			return fmt.Errorf("rbac seed: assign user %d: %w", userID, err)
		}
	}
	return nil
}

func newRBACCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Manage petty cash roles",
	}
	var managers []int64
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create petty cash roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := SeedRoles(cmd.Context(), deps.Roles, deps.ManagerGroup, managers); err != nil {
				return err
			}
			fmt.Fprintf(deps.Stdout, "seeded roles %q and %q\n", managerGroupOrDefault(deps.ManagerGroup), CustodianRole)
			return nil
		},
	}
	seed.Flags().Int64SliceVar(&managers, "manager", nil, "user IDs to add to the manager role")
	cmd.AddCommand(seed)
	return cmd
}

func managerGroupOrDefault(group string) string {
	if group == "" {
		return shared.GroupFinanceManager
	}
	return group
}
