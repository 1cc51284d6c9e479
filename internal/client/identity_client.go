package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// IdentityClient resolves approvers from the identity service.
type IdentityClient interface {
	// GetUsersWithRole returns the users holding the given role within a
	// tenant, in the identity service's assignment order.
	GetUsersWithRole(ctx context.Context, tenantID uuid.UUID, role string) ([]DirectoryUser, error)
}

// DirectoryUser is one user returned by the identity service.
type DirectoryUser struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// HTTPIdentityClient implements IdentityClient over the identity service's
// internal HTTP API.
type HTTPIdentityClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPIdentityClient creates a client for the given base URL.
func NewHTTPIdentityClient(baseURL string) *HTTPIdentityClient {
	return &HTTPIdentityClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// GetUsersWithRole calls GET /internal/tenants/{tenant}/roles/{role}/users.
func (c *HTTPIdentityClient) GetUsersWithRole(ctx context.Context, tenantID uuid.UUID, role string) ([]DirectoryUser, error) {
	endpoint := fmt.Sprintf("%s/internal/tenants/%s/roles/%s/users",
		c.baseURL, tenantID, url.PathEscape(role))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned status %d for role %s", resp.StatusCode, role)
	}

	var users []DirectoryUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	return users, nil
}
