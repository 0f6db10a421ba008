/**
 * @description
 * This package provides a client for the external payout provider's transfer
 * API. It encapsulates the logic for making authenticated HTTP requests to
 * the provider's endpoints, handling request body construction, and parsing
 * responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package payoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payout provider API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new payout provider client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransferRequest is the payload for a bank transfer.
type TransferRequest struct {
	AccountBank     string `json:"account_bank"`
	AccountNumber   string `json:"account_number"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Narration       string `json:"narration,omitempty"`
	Reference       string `json:"reference"`
	BeneficiaryName string `json:"beneficiary_name"`
}

// TransferResponse is the provider's envelope for transfer calls. Status is
// "success" when the transfer was accepted; anything else is a decline.
type TransferResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Fee       int64  `json:"fee"`
	} `json:"data"`
}

// Accepted reports whether the provider accepted the transfer.
func (r *TransferResponse) Accepted() bool {
	return r.Status == "success"
}

// ErrorResponse represents an error envelope from the provider API.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payout provider error: %s", e.Message)
	}
	return "unknown payout provider error"
}

// InitiateTransfer sends a bank transfer request to the provider. A non-nil
// error means the provider could not be reached or returned a non-2xx
// response; a 2xx response with a non-success envelope is returned to the
// caller for decline handling.
func (c *Client) InitiateTransfer(ctx context.Context, transfer TransferRequest) (*TransferResponse, error) {
	body, err := json.Marshal(transfer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v3/transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=payout_client op=transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=payout_client op=transfer status=%d message=%q", resp.StatusCode, errResp.Message)
		return nil, &errResp
	}

	var successResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode transfer response: %w", err)
	}
	return &successResp, nil
}
