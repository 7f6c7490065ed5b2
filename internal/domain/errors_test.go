package domain

import (
	"errors"
	"testing"
)

func TestGatewayErrorMessage(t *testing.T) {
	t.Parallel()

	err := &GatewayError{FacilityID: "fac-1", Op: "unicast", Err: ErrNotConnected}
	want := "facility fac-1: unicast: gateway not connected"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGatewayErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &GatewayError{FacilityID: "fac-2", Op: "auth", Err: ErrInvalidToken}
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expected errors.Is to match ErrInvalidToken")
	}
}

func TestGatewayErrorWithoutFacility(t *testing.T) {
	t.Parallel()

	err := &GatewayError{Op: "verify", Err: ErrForbiddenRole}
	want := "verify: role not allowed"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHasFacilityScope(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		identity Identity
		facility string
		want     bool
	}{
		{"scoped_match", Identity{Role: RoleFacilityAdmin, FacilityScopes: []string{"fac-1", "fac-2"}}, "fac-2", true},
		{"scoped_miss", Identity{Role: RoleFacilityAdmin, FacilityScopes: []string{"fac-1"}}, "fac-9", false},
		{"scoped_empty", Identity{Role: RoleFacilityAdmin}, "fac-1", false},
		{"admin_any", Identity{Role: RoleAdmin}, "fac-9", true},
		{"dev_admin_any", Identity{Role: RoleDevAdmin}, "fac-9", true},
		{"unknown_role", Identity{Role: "tenant"}, "fac-1", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.identity.HasFacilityScope(tc.facility); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsOperatorRole(t *testing.T) {
	t.Parallel()

	for _, role := range []string{RoleFacilityAdmin, RoleAdmin, RoleDevAdmin} {
		if !IsOperatorRole(role) {
			t.Fatalf("expected %q to be an operator role", role)
		}
	}
	for _, role := range []string{"", "tenant", "user", "Admin"} {
		if IsOperatorRole(role) {
			t.Fatalf("expected %q to be rejected", role)
		}
	}
}
