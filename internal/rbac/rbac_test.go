package rbac

import (
	"testing"

	"github.com/google/uuid"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role, perm string
		want       bool
	}{
		{RoleBuyer, PermViewTransaction, true},
		{RoleBuyer, PermVoidReturnLabel, true},
		{RoleBuyer, PermReleaseDeposit, false},
		{RoleSeller, PermPurchaseLabel, true},
		{RoleSeller, PermReleaseDeposit, false},
		{RoleSeller, PermSweepDeposits, false},
		{RoleAdmin, PermReleaseDeposit, true},
		{RoleAdmin, PermSweepDeposits, true},
		{"", PermViewTransaction, false},
		{"stranger", PermViewTransaction, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.perm, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestRoleFor(t *testing.T) {
	buyer, seller, other := uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name    string
		user    uuid.UUID
		isAdmin bool
		want    string
	}{
		{"buyer", buyer, false, RoleBuyer},
		{"seller", seller, false, RoleSeller},
		{"stranger", other, false, ""},
		{"admin stranger", other, true, RoleAdmin},
		{"admin who is also buyer", buyer, true, RoleAdmin},
		{"anonymous", uuid.Nil, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleFor(tt.user, tt.isAdmin, buyer, seller); got != tt.want {
				t.Errorf("RoleFor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperatorOnlyPermissionsAreAdminOnly(t *testing.T) {
	for role, perms := range RolePermissions {
		for _, p := range perms {
			if IsOperatorOnly(p) && role != RoleAdmin {
				t.Errorf("role %s holds operator-only permission %s", role, p)
			}
		}
	}
}
