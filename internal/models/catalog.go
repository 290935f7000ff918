// internal/models/catalog.go
package models

const PetStatusAvailable = "available"

// Pet is the catalog view the adoption core needs.
type Pet struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ShelterID     string `json:"shelterId"`
	ShelterUserID string `json:"shelterUserId"`
	Status        string `json:"status"`
}

// Contact is a user's outbound delivery address.
type Contact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}
