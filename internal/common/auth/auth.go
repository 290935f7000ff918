// Package auth resolves the caller identity of an API request.
package auth

import (
	"context"
	"net/http"
	"strings"

	"adoption-workflow/internal/common/config"
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderShelterID = "X-Shelter-ID"
)

// Authenticator turns an inbound request into a Caller.
type Authenticator interface {
	Authenticate(r *http.Request) (models.Caller, error)
}

// NewAuthenticator picks the authenticator configured by auth.mode.
func NewAuthenticator(cfg config.AuthConfig) Authenticator {
	if cfg.Mode == "keycloak" {
		return NewKeycloakIntrospector(
			cfg.Keycloak.URL,
			cfg.Keycloak.Realm,
			cfg.Keycloak.ClientID,
			cfg.Keycloak.ClientSecret,
			cfg.Keycloak.ShelterClaim,
		)
	}
	return HeaderAuthenticator{}
}

// HeaderAuthenticator trusts identity headers set by an upstream gateway.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (models.Caller, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return models.Caller{}, errors.NewUnauthenticatedError("missing " + HeaderUserID + " header")
	}

	role, err := parseRole(r.Header.Get(HeaderUserRole))
	if err != nil {
		return models.Caller{}, err
	}

	caller := models.Caller{UserID: userID, Role: role}
	if role == models.RoleShelter {
		caller.ShelterID = strings.TrimSpace(r.Header.Get(HeaderShelterID))
		if caller.ShelterID == "" {
			return models.Caller{}, errors.NewUnauthenticatedError("shelter callers require " + HeaderShelterID)
		}
	}
	return caller, nil
}

func parseRole(raw string) (models.Role, error) {
	switch models.Role(strings.ToLower(strings.TrimSpace(raw))) {
	case models.RoleAdopter, "":
		return models.RoleAdopter, nil
	case models.RoleShelter:
		return models.RoleShelter, nil
	default:
		return "", errors.NewUnauthenticatedError("unknown role " + raw)
	}
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFrom(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(models.Caller)
	return caller, ok
}
