package domain

import (
	"strings"
	"time"
)

// ClientRole is the permission level of an API client.
type ClientRole string

const (
	// ClientRoleOperator may start runs and answer clarifications.
	ClientRoleOperator ClientRole = "operator"
	// ClientRoleViewer may only read runs and their history.
	ClientRoleViewer ClientRole = "viewer"
)

// ParseClientRole normalizes a role label.
func ParseClientRole(label string) (ClientRole, bool) {
	switch role := ClientRole(strings.ToLower(strings.TrimSpace(label))); role {
	case ClientRoleOperator, ClientRoleViewer:
		return role, true
	default:
		return "", false
	}
}

// Allows reports whether r grants what required asks for. Operators can do
// everything a viewer can.
func (r ClientRole) Allows(required ClientRole) bool {
	if r == required {
		return true
	}
	return r == ClientRoleOperator && required == ClientRoleViewer
}

// APIClient is a machine caller allowed to use the HTTP API.
type APIClient struct {
	ID         string
	Role       ClientRole
	SecretHash string
}

// Token represents issued access token metadata.
type Token struct {
	Value     string
	ClientID  string
	Role      ClientRole
	ExpiresAt time.Time
	IssuedAt  time.Time
}
