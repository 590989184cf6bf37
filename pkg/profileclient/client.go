/**
 * @description
 * This package provides a client for the customer profile provider. It resolves single profiles
 * for group admission checks and pages through the profile directory for auto-grouping.
 */
package profileclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

const defaultPageSize = 200

// Client is a client for the profile provider.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
}

// NewClient creates a new profile provider client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		pageSize:   defaultPageSize,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type directoryPage struct {
	Profiles   []domain.CustomerProfile `json:"profiles"`
	NextCursor string                   `json:"next_cursor"`
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) (int, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("profile service base url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request to profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("profile service returned error status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// GetProfile fetches one customer's profile.
func (c *Client) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	var profile domain.CustomerProfile
	endpoint := fmt.Sprintf("%s/internal/profiles/%s", c.baseURL, url.PathEscape(customerID))
	status, err := c.get(ctx, endpoint, &profile)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, domain.NewNotFound("customer", customerID, domain.ErrCustomerNotFound)
		}
		return nil, err
	}
	if profile.CustomerID == "" {
		profile.CustomerID = customerID
	}
	return &profile, nil
}

// ListProfiles walks the whole directory.
func (c *Client) ListProfiles(ctx context.Context) ([]domain.CustomerProfile, error) {
	out := make([]domain.CustomerProfile, 0)
	cursor := ""
	for {
		query := url.Values{}
		query.Set("limit", fmt.Sprint(c.pageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var page directoryPage
		if _, err := c.get(ctx, c.baseURL+"/internal/profiles?"+query.Encode(), &page); err != nil {
			return nil, err
		}
		out = append(out, page.Profiles...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
