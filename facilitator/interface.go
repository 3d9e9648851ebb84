// Package facilitator defines the capability interface for external payment
// facilitators. The gate never verifies signatures or settles on chain
// itself; both operations are delegated to a facilitator implementation.
package facilitator

import (
	"context"

	"github.com/datagate-io/datagate"
)

// Interface is the facilitator contract for payment verification and
// settlement. Implementations must be safe for concurrent use.
type Interface interface {
	// Verify validates a payment proof against the requirement without
	// executing any transaction: signature correctness, amount, expiry and
	// replay protection are all checked by the facilitator.
	Verify(ctx context.Context, payment datagate.PaymentPayload, requirement datagate.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain and reports the
	// confirmed transaction hash.
	Settle(ctx context.Context, payment datagate.PaymentPayload, requirement datagate.PaymentRequirement) (*datagate.SettlementResponse, error)

	// Supported queries the facilitator for the payment kinds it handles.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
