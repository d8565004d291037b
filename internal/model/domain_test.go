package model

import "testing"

func TestPrincipalRoles(t *testing.T) {
	tests := []struct {
		role       UserRole
		valid      bool
		admin      bool
		manage     bool
		viewerOnly bool
	}{
		{role: UserRoleAdmin, valid: true, admin: true, manage: true},
		{role: UserRoleOperator, valid: true, manage: true},
		{role: UserRoleViewer, valid: true, viewerOnly: true},
		{role: "DRIVER"},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			p := Principal{Role: tt.role}
			if got := tt.role.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := p.IsAdmin(); got != tt.admin {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.admin)
			}
			if got := p.CanManageRegistry(); got != tt.manage {
				t.Errorf("CanManageRegistry() = %v, want %v", got, tt.manage)
			}
			if got := p.IsViewer(); got != tt.viewerOnly {
				t.Errorf("IsViewer() = %v, want %v", got, tt.viewerOnly)
			}
		})
	}
}
