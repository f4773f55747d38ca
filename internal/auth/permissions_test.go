package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermStateRead, true},
		{RoleViewer, PermAuditRead, false},
		{RoleViewer, PermSystemRead, false},
		{RoleOperator, PermStateRead, true},
		{RoleOperator, PermAuditRead, true},
		{RoleOperator, PermSystemRead, false},
		{RoleAdmin, PermStateRead, true},
		{RoleAdmin, PermAuditRead, true},
		{RoleAdmin, PermSystemRead, true},
		{Role("unknown"), PermStateRead, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	if len(perms) != 3 {
		t.Fatalf("admin permissions = %v, want 3", perms)
	}

	// Returned slice is a copy.
	perms[0] = "tampered"
	if !HasPermission(RoleAdmin, PermStateRead) {
		t.Error("mutating the returned slice changed the role mapping")
	}

	if PermissionsForRole(Role("unknown")) != nil {
		t.Error("unknown role should have nil permissions")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	for _, r := range []Role{"", "panel", "owner"} {
		if IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = true", r)
		}
	}
}
