package domain

import "strings"

type Role string

const (
	RoleHead        Role = "HEAD"
	RoleHousekeeper Role = "HOUSEKEEPER"
	RolePurchasing  Role = "PURCHASING"
	RoleAdmin       Role = "ADMIN"
)

// ParseRole normalizes a role string coming from an identity provider.
// "PURCHASING DEPARTMENT" is the spelling used by older sessions.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HEAD":
		return RoleHead, true
	case "HOUSEKEEPER":
		return RoleHousekeeper, true
	case "PURCHASING", "PURCHASING DEPARTMENT":
		return RolePurchasing, true
	case "ADMIN":
		return RoleAdmin, true
	}
	return "", false
}

// Actor is the already-authenticated caller of a core operation.
type Actor struct {
	SubjectID string
	Role      Role
}

// NewActor builds an actor from identity-provider strings.
func NewActor(subjectID, role string) (Actor, error) {
	r, ok := ParseRole(role)
	if !ok {
		return Actor{}, Invalid("unknown actor role %q", role)
	}
	a := Actor{SubjectID: strings.TrimSpace(subjectID), Role: r}
	return a, a.Validate()
}

func (a Actor) Validate() error {
	if strings.TrimSpace(a.SubjectID) == "" {
		return Invalid("actor subject id is required")
	}
	if r, ok := ParseRole(string(a.Role)); !ok || r != a.Role {
		return Invalid("unknown actor role %q", a.Role)
	}
	return nil
}
