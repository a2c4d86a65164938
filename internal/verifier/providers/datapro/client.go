// Package datapro implements the NIN registry client.
package datapro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"idcollect/internal/verifier"
)

const providerName = "datapro"

// Response codes documented by the registry.
const (
	codeSuccess         = "00"
	codeInvalidService  = "87"
	codeTemporaryError  = "88"
)

// Client talks to the NIN verification registry.
type Client struct {
	baseURL   string
	serviceID string
	http      *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func New(baseURL, serviceID string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		serviceID: serviceID,
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

type lookupResponse struct {
	ResponseCode string `json:"responseCode"`
	Message      string `json:"message"`
	Data         struct {
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		Gender      string `json:"gender"`
		DateOfBirth string `json:"dateOfBirth"`
		PhoneNumber string `json:"phoneNumber"`
	} `json:"data"`
}

// Lookup fetches the registry record for a NIN. The number travels only in
// the query string of an outbound TLS request; it is never logged here.
func (c *Client) Lookup(ctx context.Context, identityNumber string) (verifier.Record, error) {
	if c.baseURL == "" || c.serviceID == "" {
		return nil, verifier.NewProviderError(verifier.ErrorMisconfigured, providerName,
			"NIN registry credentials are not configured", nil)
	}

	endpoint := fmt.Sprintf("%s/verifynin/?regNo=%s", c.baseURL, url.QueryEscape(identityNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, verifier.NewProviderError(verifier.ErrorMisconfigured, providerName,
			"invalid registry URL", err)
	}
	req.Header.Set("SERVICEID", c.serviceID)
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

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, verifier.NewProviderError(verifier.ErrorInvalidInput, providerName,
			"registry rejected the NIN as malformed", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, verifier.NewProviderError(verifier.ErrorMisconfigured, providerName,
			"registry rejected our service credentials", nil)
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

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, verifier.NewProviderError(verifier.ErrorServer, providerName,
			"registry returned an unreadable response", err)
	}

	switch body.ResponseCode {
	case codeSuccess:
		return verifier.Record{
			"first_name":    body.Data.FirstName,
			"last_name":     body.Data.LastName,
			"gender":        body.Data.Gender,
			"date_of_birth": body.Data.DateOfBirth,
			"phone":         body.Data.PhoneNumber,
		}, nil
	case codeInvalidService:
		return nil, verifier.NewProviderError(verifier.ErrorMisconfigured, providerName,
			"registry reports an invalid service id", nil)
	case codeTemporaryError:
		return nil, verifier.NewProviderError(verifier.ErrorNetwork, providerName,
			"registry reports a temporary processing error", nil)
	default:
		return nil, verifier.NewProviderError(verifier.ErrorNotFound, providerName,
			"no record found for the NIN provided", nil)
	}
}
