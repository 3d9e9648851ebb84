package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/datagate-io/datagate"
	"github.com/datagate-io/datagate/facilitator"
)

// DefaultVerifyTimeout bounds facilitator verification calls.
const DefaultVerifyTimeout = 5 * time.Second

// DefaultSettleTimeout bounds facilitator settlement calls. Settlement waits
// on a blockchain transaction, so it gets a much longer budget than verify.
const DefaultSettleTimeout = 60 * time.Second

// AuthorizationProvider returns an Authorization header value for a
// facilitator request. Used for short-lived bearer tokens that are minted per
// request, like CDP JWTs.
type AuthorizationProvider func(method, path string) (string, error)

// FacilitatorClient talks to an x402 facilitator service over HTTP. It
// implements facilitator.Interface and is safe for concurrent use.
type FacilitatorClient struct {
	BaseURL string
	Client  *http.Client

	VerifyTimeout time.Duration
	SettleTimeout time.Duration

	// Authorization is a static Authorization header value, e.g.
	// "Bearer api-key". Ignored when AuthorizationProvider is set.
	Authorization string

	// AuthorizationProvider mints an Authorization header per request and
	// takes precedence over Authorization.
	AuthorizationProvider AuthorizationProvider
}

// NewFacilitatorClient returns a client for the facilitator at baseURL with
// default timeouts.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL:       baseURL,
		Client:        &http.Client{},
		VerifyTimeout: DefaultVerifyTimeout,
		SettleTimeout: DefaultSettleTimeout,
	}
}

// facilitatorRequest is the request payload for /verify and /settle.
type facilitatorRequest struct {
	X402Version         int                         `json:"x402Version"`
	PaymentPayload      datagate.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements datagate.PaymentRequirement `json:"paymentRequirements"`
}

// Verify validates a payment proof without executing any transaction.
func (c *FacilitatorClient) Verify(ctx context.Context, payment datagate.PaymentPayload, requirement datagate.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	body, status, err := c.post(ctx, "/verify", c.verifyTimeout(), payment, requirement)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", datagate.ErrVerificationFailed, status)
	}

	var verifyResp facilitator.VerifyResponse
	if err := json.Unmarshal(body, &verifyResp); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &verifyResp, nil
}

// Settle executes a verified payment on the blockchain.
func (c *FacilitatorClient) Settle(ctx context.Context, payment datagate.PaymentPayload, requirement datagate.PaymentRequirement) (*datagate.SettlementResponse, error) {
	body, status, err := c.post(ctx, "/settle", c.settleTimeout(), payment, requirement)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", datagate.ErrSettlementFailed, status)
	}

	var settlementResp datagate.SettlementResponse
	if err := json.Unmarshal(body, &settlementResp); err != nil {
		return nil, fmt.Errorf("failed to decode settlement response: %w", err)
	}
	return &settlementResp, nil
}

// Supported queries the facilitator for the payment kinds it handles.
func (c *FacilitatorClient) Supported(ctx context.Context) (*facilitator.SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authorize(httpReq, http.MethodGet, "/supported"); err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datagate.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supported endpoint failed: status %d", resp.StatusCode)
	}

	var supportedResp facilitator.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supportedResp); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return &supportedResp, nil
}

// EnrichRequirements merges facilitator-provided extra data (fetched from
// /supported) into the given requirements. Caller-specified Extra values take
// precedence over facilitator values.
func (c *FacilitatorClient) EnrichRequirements(ctx context.Context, requirements []datagate.PaymentRequirement) ([]datagate.PaymentRequirement, error) {
	supported, err := c.Supported(ctx)
	if err != nil {
		return requirements, fmt.Errorf("failed to fetch supported payment types: %w", err)
	}

	supportedMap := make(map[string]facilitator.SupportedKind)
	for _, kind := range supported.Kinds {
		supportedMap[kind.Network+"-"+kind.Scheme] = kind
	}

	enriched := make([]datagate.PaymentRequirement, len(requirements))
	for i, req := range requirements {
		enriched[i] = req
		kind, ok := supportedMap[req.Network+"-"+req.Scheme]
		if !ok || kind.Extra == nil {
			continue
		}
		if enriched[i].Extra == nil {
			enriched[i].Extra = make(map[string]interface{})
		}
		for k, v := range kind.Extra {
			if _, exists := enriched[i].Extra[k]; !exists {
				enriched[i].Extra[k] = v
			}
		}
	}

	return enriched, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, timeout time.Duration, payment datagate.PaymentPayload, requirement datagate.PaymentRequirement) ([]byte, int, error) {
	req := facilitatorRequest{
		X402Version:         1,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(httpReq, http.MethodPost, path); err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", datagate.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *FacilitatorClient) authorize(req *http.Request, method, path string) error {
	if c.AuthorizationProvider != nil {
		auth, err := c.AuthorizationProvider(method, path)
		if err != nil {
			return fmt.Errorf("authorization provider: %w", err)
		}
		req.Header.Set("Authorization", auth)
		return nil
	}
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}
	return nil
}

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *FacilitatorClient) verifyTimeout() time.Duration {
	if c.VerifyTimeout > 0 {
		return c.VerifyTimeout
	}
	return DefaultVerifyTimeout
}

func (c *FacilitatorClient) settleTimeout() time.Duration {
	if c.SettleTimeout > 0 {
		return c.SettleTimeout
	}
	return DefaultSettleTimeout
}
