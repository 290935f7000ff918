// internal/models/caller.go
package models

type Role string

const (
	RoleAdopter Role = "adopter"
	RoleShelter Role = "shelter"
)

// Caller is the authenticated identity behind a request. ShelterID is set only for shelter staff.
type Caller struct {
	UserID    string `json:"userId"`
	Role      Role   `json:"role"`
	ShelterID string `json:"shelterId,omitempty"`
}

func (c Caller) IsAdopter() bool { return c.Role == RoleAdopter }

// ManagesShelter reports whether c is staff of the given shelter.
func (c Caller) ManagesShelter(shelterID string) bool {
	return c.Role == RoleShelter && c.ShelterID != "" && c.ShelterID == shelterID
}
