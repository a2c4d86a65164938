// Package verifydata implements the company registry client.
package verifydata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"idcollect/internal/verifier"
)

const providerName = "verifydata"

// Body status codes the registry returns alongside HTTP 400.
const (
	statusInvalidKey   = "FF"
	statusNoService    = "EE"
	statusInsufficient = "IB"
	statusBusinessDown = "BR"
)

// Client talks to the company registration registry.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func New(baseURL, secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return providerName
}

type lookupRequest struct {
	RCNumber  string `json:"rcNumber"`
	SecretKey string `json:"secretKey"`
}

type lookupResponse struct {
	Success    bool   `json:"success"`
	StatusCode string `json:"statusCode"`
	Message    string `json:"message"`
	Data       struct {
		CompanyName      string `json:"companyName"`
		RCNumber         string `json:"rcNumber"`
		CompanyStatus    string `json:"companyStatus"`
		RegistrationDate string `json:"registrationDate"`
		TypeOfEntity     string `json:"typeOfEntity"`
	} `json:"data"`
}

// Lookup fetches the registry record for an RC number.
func (c *Client) Lookup(ctx context.Context, identityNumber string) (verifier.Record, error) {
	if c.baseURL == "" || c.secretKey == "" {
		return nil, verifier.NewProviderError(verifier.ErrorMisconfigured, providerName,
			"company registry credentials are not configured", nil)
	}

	payload, err := json.Marshal(lookupRequest{
		RCNumber:  verifier.NormalizeRCNumber(identityNumber),
		SecretKey: c.secretKey,
	})
	if err != nil {
		return nil, verifier.NewProviderError(verifier.ErrorServer, providerName,
			"encode registry request", err)
	}

	endpoint := c.baseURL + "/api/ValidateRcNumber/Initiate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, verifier.NewProviderError(verifier.ErrorMisconfigured, providerName,
			"invalid registry URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, verifier.NewProviderError(verifier.ErrorNetwork, providerName,
				"registry request timed out", err)
		}
		return nil, verifier.NewProviderError(verifier.ErrorNetwork, providerName,
			"registry unreachable", err)
	}
	defer resp.Body.Close()

	var body lookupResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		if decodeErr != nil {
			return nil, verifier.NewProviderError(verifier.ErrorServer, providerName,
				"registry returned an unreadable response", decodeErr)
		}
		return nil, classifyBadRequest(body.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, verifier.NewProviderError(verifier.ErrorQuotaExhausted, providerName,
			"registry request quota exhausted", nil)
	case resp.StatusCode >= 500:
		return nil, verifier.NewProviderError(verifier.ErrorServer, providerName,
			fmt.Sprintf("registry returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, verifier.NewProviderError(verifier.ErrorServer, providerName,
			fmt.Sprintf("unexpected registry status %d", resp.StatusCode), nil)
	}

	if decodeErr != nil {
		return nil, verifier.NewProviderError(verifier.ErrorServer, providerName,
			"registry returned an unreadable response", decodeErr)
	}
	if !body.Success {
		return nil, verifier.NewProviderError(verifier.ErrorNotFound, providerName,
			"no record found for the RC number provided", nil)
	}

	return verifier.Record{
		"company_name":      body.Data.CompanyName,
		"rc_number":         body.Data.RCNumber,
		"company_status":    body.Data.CompanyStatus,
		"registration_date": body.Data.RegistrationDate,
		"type_of_entity":    body.Data.TypeOfEntity,
	}, nil
}

func classifyBadRequest(statusCode string) *verifier.ProviderError {
	switch statusCode {
	case statusInvalidKey:
		return verifier.NewProviderError(verifier.ErrorMisconfigured, providerName,
			"registry rejected our secret key", nil)
	case statusInsufficient:
		return verifier.NewProviderError(verifier.ErrorQuotaExhausted, providerName,
			"registry account balance exhausted", nil)
	case statusBusinessDown, statusNoService:
		return verifier.NewProviderError(verifier.ErrorUnavailable, providerName,
			"registry reports the lookup service is down", nil)
	default:
		return verifier.NewProviderError(verifier.ErrorInvalidInput, providerName,
			"registry rejected the RC number as malformed", nil)
	}
}
