package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"story-workers/internal/common/errors"
)

// Authenticator resolves the calling user's id from an inbound request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// HeaderAuthenticator trusts a user id header set by an upstream gateway.
type HeaderAuthenticator struct {
	Header string
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := a.Header
	if header == "" {
		header = "X-User-ID"
	}
	userID := strings.TrimSpace(r.Header.Get(header))
	if userID == "" {
		return "", errors.NewUnauthorizedError("missing " + header + " header")
	}
	return userID, nil
}

// KeycloakClient introspects bearer tokens against a Keycloak realm.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// TokenInfo is the subset of the introspection response the service uses.
type TokenInfo struct {
	Active   bool   `json:"active"`
	Sub      string `json:"sub,omitempty"`
	Username string `json:"preferred_username,omitempty"`
	Email    string `json:"email,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

func NewKeycloakClient(baseURL, realm, clientID, clientSecret string) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateToken checks that an access token is active.
func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, introspectURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewUnauthorizedError("introspection request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewUnauthorizedError(fmt.Sprintf("introspection returned status %d", resp.StatusCode))
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.NewUnauthorizedError("undecodable introspection response")
	}
	if !info.Active || info.Sub == "" {
		return nil, errors.NewUnauthorizedError("token is not active")
	}
	return &info, nil
}

// Authenticate reads the bearer token and returns the token subject.
func (k *KeycloakClient) Authenticate(r *http.Request) (string, error) {
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errors.NewUnauthorizedError("missing bearer token")
	}

	info, err := k.ValidateToken(r.Context(), strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	return info.Sub, nil
}
