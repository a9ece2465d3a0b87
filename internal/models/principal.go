package models

import "fmt"

// PrincipalKind enumerates the actor types known to the platform.
const (
	PrincipalUser  = "user"
	PrincipalCoach = "coach"
	PrincipalAdmin = "admin"
)

// Principal identifies an acting party as an (id, kind) pair.
type Principal struct {
	ID   uint   `json:"id"`
	Kind string `json:"kind"`
}

// Key returns the canonical "kind:id" form used for channel routing and pair keys.
func (p Principal) Key() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// Valid reports whether the principal carries a known kind and a non-zero id.
func (p Principal) Valid() bool {
	if p.ID == 0 {
		return false
	}
	switch p.Kind {
	case PrincipalUser, PrincipalCoach, PrincipalAdmin:
		return true
	}
	return false
}

// Equal compares two principals by id and kind.
func (p Principal) Equal(other Principal) bool {
	return p.ID == other.ID && p.Kind == other.Kind
}
