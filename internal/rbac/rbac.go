package rbac

import "github.com/google/uuid"

// Roles are relative to one transaction or shipment.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Permission constants
const (
	PermViewTransaction = "view_transaction"
	PermPurchaseLabel   = "purchase_label"
	PermVoidReturnLabel = "void_return_label"
	PermReleaseDeposit  = "release_deposit"
	PermSweepDeposits   = "sweep_deposits"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleBuyer: {
		PermViewTransaction, PermPurchaseLabel, PermVoidReturnLabel,
	},
	RoleSeller: {
		PermViewTransaction, PermPurchaseLabel, PermVoidReturnLabel,
		// Seller CANNOT: PermReleaseDeposit, the return shipment decides that
	},
	RoleAdmin: {
		PermViewTransaction, PermPurchaseLabel, PermVoidReturnLabel,
		PermReleaseDeposit, PermSweepDeposits,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RoleFor resolves the caller's role against the two parties of a
// transaction. Admin wins over party roles. Empty means no relation.
func RoleFor(userID uuid.UUID, isAdmin bool, buyerID, sellerID uuid.UUID) string {
	switch {
	case isAdmin:
		return RoleAdmin
	case userID == uuid.Nil:
		return ""
	case userID == buyerID:
		return RoleBuyer
	case userID == sellerID:
		return RoleSeller
	}
	return ""
}

// IsOperatorOnly reports permissions that move money without a carrier or
// processor event behind them.
func IsOperatorOnly(permission string) bool {
	return permission == PermReleaseDeposit || permission == PermSweepDeposits
}
