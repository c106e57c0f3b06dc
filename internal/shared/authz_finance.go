package shared

// Petty cash permissions declared for RBAC.
const (
	PermPettyCashView    = "finance.pettycash.view"
	PermPettyCashVoucher = "finance.pettycash.voucher"
	PermPettyCashManage  = "finance.pettycash.manage"
)

// GroupFinanceManager names the role that holds PermPettyCashManage.
const GroupFinanceManager = "Finance Manager"

// PettyCashScopes lists all permissions related to the petty cash module.
func PettyCashScopes() []string {
	return []string{
		PermPettyCashView,
		PermPettyCashVoucher,
		PermPettyCashManage,
	}
}
