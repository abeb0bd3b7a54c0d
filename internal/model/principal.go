package model

// Roles the authorization bridge accepts. The set is closed: a role not
// listed here never reaches the database, so caller-controlled strings
// cannot end up in an authorization-context statement.
const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
	RoleService       = "service_role"
)

// KnownRole reports whether role is one of the fixed database roles.
func KnownRole(role string) bool {
	switch role {
	case RoleAnon, RoleAuthenticated, RoleService:
		return true
	}
	return false
}

// Principal is the identity on whose behalf an operation is attempted.
// ID is empty for anonymous and system callers.
type Principal struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role"`
}

// Anonymous is the principal used when no credentials were presented.
func Anonymous() Principal {
	return Principal{Role: RoleAnon}
}

// System is the principal used by trusted server-side callers.
func System() Principal {
	return Principal{Role: RoleService}
}

// SenderType maps the principal onto the message sender classification.
func (p Principal) SenderType() string {
	if p.Role == RoleService {
		return SenderSystem
	}
	return SenderUser
}
