package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of membership roles.
type Role uint8

const (
	roleUnknown Role = iota
	RoleAdmin
	RoleUser
)

// ParseRole converts the wire/storage representation into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.TrimSpace(s) {
	case "admin":
		return RoleAdmin, nil
	case "user":
		return RoleUser, nil
	default:
		return roleUnknown, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleUser:
		return "user"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: role %d", ErrInvalidInput, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
