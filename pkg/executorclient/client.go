/**
 * @description
 * This package provides a client for the Transfer Executor, the service that actually moves money
 * between two customers. The client classifies every failure so the resilience layer can tell a
 * transient fault (retry) from a refusal (terminal).
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - internal/domain: Transfer request and error taxonomy.
 */
package executorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

const operation = "transfer_executor.execute"

// Client is a client for the Transfer Executor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new executor client. Per-attempt deadlines come from the caller's context.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ExecuteRequest is the wire payload for one transfer.
type ExecuteRequest struct {
	TransactionID    string `json:"transaction_id"`
	SenderID         string `json:"sender_id"`
	RecipientID      string `json:"recipient_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	PaymentMethod    string `json:"payment_method"`
	SenderAddress    string `json:"sender_address,omitempty"`
	RecipientAddress string `json:"recipient_address,omitempty"`
	Reference        string `json:"reference,omitempty"`
	Narration        string `json:"narration,omitempty"`
}

// ExecuteResponse is the executor's verdict.
type ExecuteResponse struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// ErrorResponse represents an error body from the executor.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message == "" {
		return "unknown executor error"
	}
	return fmt.Sprintf("executor error: %s - %s", e.Code, e.Message)
}

// Execute submits the transfer. Network failures, timeouts, 429 and 5xx come back as
// *domain.ExecutionError; refusals wrap domain.ErrTransferDeclined.
func (c *Client) Execute(ctx context.Context, req domain.TransferRequest) (*domain.ExecutionResult, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("transfer executor base url is empty")
	}

	payload := ExecuteRequest{
		TransactionID:    req.TransactionID.String(),
		SenderID:         req.RequesterID,
		RecipientID:      req.PeerID,
		Amount:           req.Amount,
		Currency:         "NGN",
		PaymentMethod:    req.PaymentMethod,
		SenderAddress:    req.Details.SenderAddress,
		RecipientAddress: req.Details.RecipientAddress,
		Reference:        req.Details.Reference,
		Narration:        req.Details.Narration,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", payload.TransactionID)
	if strings.TrimSpace(c.APIKey) != "" {
		httpReq.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.APIKey))
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ExecutionError{Operation: operation, Err: fmt.Errorf("failed to execute transfer request: %w", err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ExecutionError{Operation: operation, Err: fmt.Errorf("failed to read transfer response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(bodyBytes, &errResp); jsonErr != nil || errResp.Message == "" {
			errResp = ErrorResponse{Code: http.StatusText(resp.StatusCode), Message: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		c.logger.Warn("transfer executor returned non-2xx", "transaction_id", payload.TransactionID, "status", resp.StatusCode, "code", errResp.Code)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &domain.ExecutionError{Operation: operation, Err: &errResp}
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTransferDeclined, &errResp)
	}

	var result ExecuteResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, &domain.ExecutionError{Operation: operation, Err: fmt.Errorf("failed to decode transfer response: %w", err)}
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransferDeclined, result.Message)
	}
	return &domain.ExecutionResult{Success: true, Reference: result.Reference, Message: result.Message}, nil
}

// IsDeclined reports whether err is a refusal by the executor.
func IsDeclined(err error) bool {
	return errors.Is(err, domain.ErrTransferDeclined)
}
