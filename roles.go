package auth

import "strings"

// Role is the portal role stored in the identity metadata
type Role string

const (
	// RolePatient is the default role, it owns a patient profile
	RolePatient Role = "patient"
	// RoleAdmin manages the portal
	RoleAdmin Role = "admin"
	// RoleClinician is a health professional
	RoleClinician Role = "clinician"
	// RoleStaff is front desk staff
	RoleStaff Role = "staff"
)

// MetadataRoleKey is the metadata key that holds the role
const MetadataRoleKey = "role"

// MetadataNameKey is the metadata key that holds the display name
const MetadataNameKey = "name"

// IsValid checks if the role is one of the predefined valid roles.
// Unknown roles are kept as is, the portal only ever branches on patient.
func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RoleAdmin, RoleClinician, RoleStaff:
		return true
	default:
		return false
	}
}

// IsPatient reports whether the role owns a patient profile
func (r Role) IsPatient() bool {
	return r == RolePatient
}

func (r Role) String() string {
	return string(r)
}

// RoleFromMetadata reads the role out of identity metadata, falling back
// to patient when the key is missing or empty.
func RoleFromMetadata(metadata map[string]any) Role {
	if metadata == nil {
		return RolePatient
	}

	switch v := metadata[MetadataRoleKey].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return Role(s)
		}
	case Role:
		if v != "" {
			return v
		}
	}

	return RolePatient
}
