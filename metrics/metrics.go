// Package metrics defines the instrumentation facade for the gateway.
// Counters are recorded for gated requests, verifications, settlements and
// ledger writes; latency histograms cover facilitator and wallet operations.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter names used by the gateway.
const (
	CounterPaymentRequired = "payment_required"
	CounterVerified        = "payment_verified"
	CounterRejected        = "payment_rejected"
	CounterSettled         = "payment_settled"
	CounterSettleFailed    = "settlement_failed"
	CounterLedgerAppend    = "ledger_append"
	CounterTransfer        = "wallet_transfer"
)
