// Package telephony originates outbound calls through the carrier REST API.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Caller places outbound calls. When the call connects, the carrier fetches
// call instructions from the webhook URL, which points back at this service's
// voice endpoint.
type Caller struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	fromNumber string
}

func NewCaller(baseURL, accountSID, authToken, fromNumber string) (*Caller, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("telephony: account credentials must not be empty")
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("telephony: from number must not be empty")
	}
	return &Caller{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
	}, nil
}

// CallResult is the carrier's record of the originated call.
type CallResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

// StartCall dials toNumber and points the carrier at webhookURL for call
// instructions. No automatic retry: re-issuing a create-call request can ring
// the callee twice.
func (c *Caller) StartCall(ctx context.Context, toNumber, webhookURL string) (*CallResult, error) {
	if toNumber == "" {
		return nil, fmt.Errorf("telephony: to number must not be empty")
	}
	if webhookURL == "" {
		return nil, fmt.Errorf("telephony: webhook url must not be empty")
	}

	form := url.Values{}
	form.Set("To", toNumber)
	form.Set("From", c.fromNumber)
	form.Set("Url", webhookURL)
	form.Set("Method", "POST")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: create call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telephony: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telephony: create call status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result CallResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("telephony: decode response: %w", err)
	}
	return &result, nil
}
