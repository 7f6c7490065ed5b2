// Package domain defines the core data types shared across the gatelink
// transport, token, and scope layers.
package domain

// Operator roles that may open a gateway connection. Global roles act on
// any facility; RoleFacilityAdmin is restricted to its granted scopes.
const (
	RoleFacilityAdmin = "facility-admin"
	RoleAdmin         = "admin"
	RoleDevAdmin      = "dev-admin"
)

// Identity is the authenticated principal behind a gateway connection,
// produced by the token verifier.
type Identity struct {
	UserID         string
	Role           string
	FacilityScopes []string
}

// IsOperatorRole reports whether role is allowed to bind a gateway
// connection at all.
func IsOperatorRole(role string) bool {
	switch role {
	case RoleFacilityAdmin, RoleAdmin, RoleDevAdmin:
		return true
	}
	return false
}

// IsGlobalRole reports whether role may act on any facility without an
// explicit scope grant.
func IsGlobalRole(role string) bool {
	return role == RoleAdmin || role == RoleDevAdmin
}

// HasFacilityScope reports whether the identity may act for facilityID.
func (id Identity) HasFacilityScope(facilityID string) bool {
	if IsGlobalRole(id.Role) {
		return true
	}
	for _, s := range id.FacilityScopes {
		if s == facilityID {
			return true
		}
	}
	return false
}
