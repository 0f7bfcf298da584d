// Package access decides how much of the owner's context a conversation
// may use, based on who the vision service recognizes.
package access

import "strings"

// Role is the relationship of a recognized person to the owner.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleFamily  Role = "family"
	RoleFriend  Role = "friend"
	RoleUnknown Role = "unknown"
)

// Identity is the vision collaborator's view of who is present.
type Identity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Recognized reports whether anyone was identified.
func (i *Identity) Recognized() bool {
	return i != nil && (i.Name != "" || i.Role != "")
}

// Mode is the outcome of the gate.
type Mode string

const (
	// Full allows the owner profile and conversation history.
	Full Mode = "full"
	// Restricted allows conversation without owner context.
	Restricted Mode = "restricted"
	// Denied skips generation and answers with Refusal.
	Denied Mode = "denied"
)

// Refusal is spoken instead of a generated reply when access is denied.
const Refusal = "I'm sorry, I can only chat with people I know right now."

// Policy holds the gate's tunables.
type Policy struct {
	// RequireIdentity downgrades an unrecognized room to Restricted while vision is on.
	RequireIdentity bool
}

// Gate applies the default policy.
func Gate(id *Identity, visionEnabled bool) Mode {
	return Policy{}.Gate(id, visionEnabled)
}

// Gate maps an optional identity to an access mode. With vision off every
// turn gets Full. With vision on, an absent identity gets Full unless
// RequireIdentity is set; only a recognized non-owner outside the family
// and friend roles is Denied.
func (p Policy) Gate(id *Identity, visionEnabled bool) Mode {
	if !visionEnabled {
		return Full
	}
	if !id.Recognized() {
		if p.RequireIdentity {
			return Restricted
		}
		return Full
	}

	switch Role(strings.ToLower(string(id.Role))) {
	case RoleOwner:
		return Full
	case RoleFamily, RoleFriend:
		return Restricted
	default:
		return Denied
	}
}
