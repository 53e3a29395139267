package admin

// Role is the role claim carried in the access token.
type Role string

const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Permission represents an admin permission
type Permission string

const (
	// Ledger
	PermViewLedger   Permission = "ledger.view"
	PermAdjustLedger Permission = "ledger.adjust"
	PermReconcile    Permission = "ledger.reconcile"

	// Withdrawals and store
	PermProcessWithdrawals Permission = "withdrawals.process"
	PermRefundOrders       Permission = "store.refund"

	// System
	PermManageSettings Permission = "settings.manage"
	PermViewAuditLogs  Permission = "audit.view"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {
		PermViewLedger, PermAdjustLedger, PermReconcile,
		PermProcessWithdrawals, PermRefundOrders,
		PermManageSettings, PermViewAuditLogs,
	},
	RoleAdmin: {
		PermViewLedger, PermAdjustLedger, PermReconcile,
		PermProcessWithdrawals, PermRefundOrders,
		PermViewAuditLogs,
	},
	RoleModerator: {
		PermViewLedger,
		PermViewAuditLogs,
	},
}

// Can reports whether role grants perm.
func Can(role Role, perm Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// IsStaff reports whether role has any admin permission.
func IsStaff(role Role) bool {
	return len(RolePermissions[role]) > 0
}
