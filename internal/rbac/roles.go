package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleOperator   = "operator" // runs sessions and campaigns
	RoleBilling    = "billing"  // reads balances and transactions
	RoleSuperAdmin = "super_admin"
	RoleReconciler = "reconciler" // hidden role for ledger reconciliation tooling
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleReconciler }
