/**
 * @description
 * This package provides a client for the payment-method validator. Its answer is one risk signal
 * among several; callers decide how much weight it carries.
 */
package validatorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

// Client is a client for the payment validator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new payment validator client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateRequest defines the request payload for one validation.
type ValidateRequest struct {
	CustomerID string `json:"customer_id"`
	Method     string `json:"method"`
	Address    string `json:"address"`
	Amount     int64  `json:"amount"`
	Context    string `json:"context"`
}

// Validate asks the validator to score a payment method and address.
func (c *Client) Validate(ctx context.Context, customerID, method, address string, amount int64, purpose string) (*domain.ValidationResult, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("payment validator base url is empty")
	}

	body, err := json.Marshal(ValidateRequest{
		CustomerID: customerID,
		Method:     method,
		Address:    address,
		Amount:     amount,
		Context:    purpose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/validate", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to payment validator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("payment validator returned error status %d", resp.StatusCode)
	}

	var result domain.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	result.RiskLevel = strings.ToLower(strings.TrimSpace(result.RiskLevel))
	return &result, nil
}
