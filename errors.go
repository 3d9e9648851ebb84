package datagate

import "errors"

// Error taxonomy for the payment gate and wallet client. Payment-class errors
// map to HTTP 402, settlement/infrastructure errors to 500, lookup misses to
// 404 and configuration errors to 500 at the point of first wallet use.

var (
	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("payment required")

	// ErrInvalidPayment indicates that the provided payment proof is invalid.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrMalformedHeader indicates that the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("unsupported x402 version")

	// ErrInvalidAmount indicates an amount that cannot be represented in atomic units.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds indicates the payer or wallet has insufficient funds.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExpiredAuthorization indicates the payment authorization has expired.
	ErrExpiredAuthorization = errors.New("expired authorization")

	// ErrFacilitatorUnavailable indicates the facilitator service is unreachable.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

	// ErrVerificationFailed indicates the facilitator rejected the payment proof.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrSettlementFailed indicates on-chain settlement or transfer submission failed.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrNotFound indicates a referenced creator, agent or data source is absent.
	ErrNotFound = errors.New("not found")

	// ErrWalletNotConfigured indicates required wallet configuration is missing.
	// Surfaced at the point of first wallet use; it does not crash the process.
	ErrWalletNotConfigured = errors.New("wallet not configured")

	// ErrInvalidMnemonic indicates an invalid BIP-39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidKeystore indicates an invalid or undecryptable keystore file.
	ErrInvalidKeystore = errors.New("invalid keystore")
)
