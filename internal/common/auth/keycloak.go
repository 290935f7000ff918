package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
)

const maxCachedIntrospection = time.Minute

// KeycloakIntrospector validates bearer tokens through Keycloak's token introspection endpoint.
type KeycloakIntrospector struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	shelterClaim string
	httpClient   *http.Client
	now          func() time.Time

	mu    sync.Mutex
	cache map[string]cachedCaller
}

type cachedCaller struct {
	caller    models.Caller
	expiresAt time.Time
}

// IntrospectionResponse holds the fields read from Keycloak's introspection response.
type IntrospectionResponse struct {
	Active      bool   `json:"active"`
	Subject     string `json:"sub"`
	ExpiresAt   int64  `json:"exp"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	Claims map[string]interface{} `json:"-"`
}

func NewKeycloakIntrospector(baseURL, realm, clientID, clientSecret, shelterClaim string) *KeycloakIntrospector {
	if shelterClaim == "" {
		shelterClaim = "shelter_id"
	}
	return &KeycloakIntrospector{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		shelterClaim: shelterClaim,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
		cache:        make(map[string]cachedCaller),
	}
}

func (k *KeycloakIntrospector) Authenticate(r *http.Request) (models.Caller, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return models.Caller{}, errors.NewUnauthenticatedError("missing bearer token")
	}
	return k.Introspect(r.Context(), strings.TrimSpace(token))
}

// Introspect resolves a token into a Caller. Active results are cached until the token expires,
// at most one minute.
func (k *KeycloakIntrospector) Introspect(ctx context.Context, token string) (models.Caller, error) {
	now := k.now()
	k.mu.Lock()
	if entry, ok := k.cache[token]; ok && now.Before(entry.expiresAt) {
		k.mu.Unlock()
		return entry.caller, nil
	}
	k.mu.Unlock()

	resp, err := k.introspect(ctx, token)
	if err != nil {
		return models.Caller{}, err
	}
	if !resp.Active || resp.Subject == "" {
		return models.Caller{}, errors.NewUnauthenticatedError("token is not active")
	}

	caller := models.Caller{UserID: resp.Subject, Role: models.RoleAdopter}
	for _, role := range resp.RealmAccess.Roles {
		if role == string(models.RoleShelter) {
			caller.Role = models.RoleShelter
		}
	}
	if caller.Role == models.RoleShelter {
		shelterID, _ := resp.Claims[k.shelterClaim].(string)
		if shelterID == "" {
			return models.Caller{}, errors.NewUnauthenticatedError("shelter token carries no " + k.shelterClaim + " claim")
		}
		caller.ShelterID = shelterID
	}

	expiresAt := now.Add(maxCachedIntrospection)
	if resp.ExpiresAt > 0 {
		if tokenExpiry := time.Unix(resp.ExpiresAt, 0); tokenExpiry.Before(expiresAt) {
			expiresAt = tokenExpiry
		}
	}
	k.mu.Lock()
	k.cache[token] = cachedCaller{caller: caller, expiresAt: expiresAt}
	k.mu.Unlock()

	return caller, nil
}

func (k *KeycloakIntrospector) introspect(ctx context.Context, token string) (*IntrospectionResponse, error) {
	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, introspectURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.NewIdentityProviderError(fmt.Errorf("failed to create introspection request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewIdentityProviderError(fmt.Errorf("failed to execute introspection request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewIdentityProviderError(fmt.Errorf("failed to read introspection response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewIdentityProviderError(
			fmt.Errorf("keycloak introspection failed with status %d: %s", resp.StatusCode, string(body)))
	}

	var out IntrospectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.NewIdentityProviderError(fmt.Errorf("failed to decode introspection response: %w", err))
	}
	if err := json.Unmarshal(body, &out.Claims); err != nil {
		return nil, errors.NewIdentityProviderError(fmt.Errorf("failed to decode introspection claims: %w", err))
	}
	return &out, nil
}
