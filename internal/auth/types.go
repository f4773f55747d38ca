package auth

import "errors"

// Role represents an authorisation tier of the ops API.
type Role string

const (
	// RoleViewer sees live plant state: devices, alerts, locks, decisions.
	RoleViewer Role = "viewer"

	// RoleOperator can also read the audit trail.
	RoleOperator Role = "operator"

	// RoleAdmin can also read process internals.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
