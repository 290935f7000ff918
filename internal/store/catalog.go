package store

import (
	"context"

	"adoption-workflow/internal/models"
)

// PostgresCatalog reads the pet/shelter catalog and user contacts owned by other services.
type PostgresCatalog struct {
	q querier
}

func NewPostgresCatalog(p *Postgres) *PostgresCatalog {
	return &PostgresCatalog{q: p.db}
}

func (c *PostgresCatalog) GetPet(ctx context.Context, petID string) (*models.Pet, error) {
	var pet models.Pet
	err := c.q.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.shelter_id, s.owner_user_id, p.status
		FROM pets p
		JOIN shelters s ON s.id = p.shelter_id
		WHERE p.id = $1`, petID).
		Scan(&pet.ID, &pet.Name, &pet.ShelterID, &pet.ShelterUserID, &pet.Status)
	if err != nil {
		return nil, dbError("get pet", err)
	}
	return &pet, nil
}

func (c *PostgresCatalog) GetContact(ctx context.Context, userID string) (*models.Contact, error) {
	var contact models.Contact
	err := c.q.QueryRowContext(ctx, `SELECT email, phone FROM users WHERE id = $1`, userID).
		Scan(&contact.Email, &contact.Phone)
	if err != nil {
		return nil, dbError("get contact", err)
	}
	return &contact, nil
}
