package auth

import "strings"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// NormalizeRole maps free-form role strings onto the known roles. Anything
// unrecognized is treated as a regular user.
func NormalizeRole(role string) Role {
	if strings.EqualFold(strings.TrimSpace(role), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

func IsAdmin(role string) bool {
	return NormalizeRole(role) == RoleAdmin
}
