// Package http provides the payment gate middleware and the facilitator
// client for the gateway. The gate prices each request, challenges unpaid
// callers with a 402, verifies payment proofs against a facilitator, and
// settles on chain only once the downstream handler commits a success status.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/datagate-io/datagate"
	"github.com/datagate-io/datagate/facilitator"
	"github.com/datagate-io/datagate/logger"
	"github.com/datagate-io/datagate/metrics"
	"github.com/datagate-io/datagate/pricing"
)

// Config holds the configuration for the payment gate middleware.
type Config struct {
	// Pricing resolves each request path to its required payment.
	Pricing *pricing.Table

	// PayTo is the wallet address that receives payments.
	PayTo string

	// Facilitator verifies payment proofs and settles them on chain.
	Facilitator facilitator.Interface

	// VerifyOnly skips settlement if true (only verifies payments).
	VerifyOnly bool

	// ExemptPaths lists request paths that bypass the gate entirely,
	// e.g. health and metrics endpoints.
	ExemptPaths []string

	// Logger defaults to a noop logger when nil.
	Logger logger.Logger

	// Metrics defaults to a noop recorder when nil.
	Metrics metrics.Recorder

	// OnSettled is called after a successful settlement, before the response
	// is released. Used to append access ledger entries.
	OnSettled func(r *http.Request, res pricing.Resolution, settlement *datagate.SettlementResponse)

	// OnRejected is called for every gated request that did not reach the
	// handler or failed to settle. The reason distinguishes missing proofs,
	// facilitator rejections and settlement failures.
	OnRejected func(r *http.Request, res pricing.Resolution, reason string)
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey stores the verified payment for handler access.
const PaymentContextKey = contextKey("datagate_payment")

// PaymentFromContext returns the verified payment attached to a request that
// passed the gate.
func PaymentFromContext(ctx context.Context) (*facilitator.VerifyResponse, bool) {
	v, ok := ctx.Value(PaymentContextKey).(*facilitator.VerifyResponse)
	return v, ok
}

// NewPaymentGate creates the payment gate middleware. Every non-exempt
// request is priced, challenged, verified and settled; handlers behind the
// gate only run for verified payments, and settlement happens exactly once
// per request that commits a success status.
func NewPaymentGate(config *Config) func(http.Handler) http.Handler {
	log := config.Logger
	if log == nil {
		log = logger.NoopLogger{}
	}
	rec := config.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	exempt := make(map[string]struct{}, len(config.ExemptPaths))
	for _, p := range config.ExemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			res := config.Pricing.Resolve(r.Method, r.URL.Path)
			labels := map[string]string{"network": res.Network}

			chain, ok := datagate.ChainByNetwork(res.Network)
			if !ok {
				log.Error("unknown settlement network", map[string]any{"network": res.Network})
				writeError(w, http.StatusInternalServerError, "payment network not configured")
				return
			}

			requirement, err := datagate.NewUSDCRequirement(chain, res.Amount(), config.PayTo)
			if err != nil {
				log.Error("invalid payment requirement", map[string]any{"error": err.Error(), "price": res.Display})
				writeError(w, http.StatusInternalServerError, "payment requirement not configured")
				return
			}
			requirement.Resource = resourceURL(r)
			requirement.Description = "Payment required for " + r.URL.Path
			requirements := []datagate.PaymentRequirement{requirement}

			reject := func(reason string) {
				rec.IncCounter(metrics.CounterRejected, labels)
				if config.OnRejected != nil {
					config.OnRejected(r, res, reason)
				}
				sendPaymentRequired(w, reason, requirements)
			}

			paymentHeader := r.Header.Get("X-PAYMENT")
			if paymentHeader == "" {
				log.Info("no payment header provided", map[string]any{"path": r.URL.Path, "price": res.Display})
				rec.IncCounter(metrics.CounterPaymentRequired, labels)
				if config.OnRejected != nil {
					config.OnRejected(r, res, "payment required")
				}
				sendPaymentRequired(w, "", requirements)
				return
			}

			payment, err := ParsePaymentHeader(r)
			if err != nil {
				log.Warn("invalid payment header", map[string]any{"error": err.Error()})
				reject("invalid payment header")
				return
			}

			if payment.Scheme != requirement.Scheme || payment.Network != requirement.Network {
				log.Warn("payment scheme or network mismatch", map[string]any{
					"scheme":  payment.Scheme,
					"network": payment.Network,
				})
				reject("unsupported payment scheme or network")
				return
			}

			start := time.Now()
			verifyResp, err := config.Facilitator.Verify(r.Context(), payment, requirement)
			rec.ObserveLatency("facilitator_verify", time.Since(start), labels)
			if err != nil {
				log.Error("facilitator verification failed", map[string]any{"error": err.Error()})
				writeError(w, http.StatusInternalServerError, "payment verification failed")
				return
			}
			if !verifyResp.IsValid {
				log.Warn("payment rejected", map[string]any{"reason": verifyResp.InvalidReason})
				reject(verifyResp.InvalidReason)
				return
			}

			rec.IncCounter(metrics.CounterVerified, labels)
			log.Info("payment verified", map[string]any{"payer": verifyResp.Payer, "path": r.URL.Path})

			ctx := context.WithValue(r.Context(), PaymentContextKey, verifyResp)
			r = r.WithContext(ctx)

			interceptor := &settlementInterceptor{
				w:     w,
				payTo: config.PayTo,
				settle: func() (*datagate.SettlementResponse, bool) {
					if config.VerifyOnly {
						return nil, true
					}

					start := time.Now()
					settlementResp, err := config.Facilitator.Settle(r.Context(), payment, requirement)
					rec.ObserveLatency("facilitator_settle", time.Since(start), labels)
					if err != nil {
						log.Error("settlement failed", map[string]any{"error": err.Error()})
						rec.IncCounter(metrics.CounterSettleFailed, labels)
						if config.OnRejected != nil {
							config.OnRejected(r, res, "settlement failed")
						}
						writeError(w, http.StatusInternalServerError, "payment settlement failed")
						return nil, false
					}
					if !settlementResp.Success {
						log.Warn("settlement unsuccessful", map[string]any{"reason": settlementResp.ErrorReason})
						rec.IncCounter(metrics.CounterSettleFailed, labels)
						if config.OnRejected != nil {
							config.OnRejected(r, res, settlementResp.ErrorReason)
						}
						sendPaymentRequired(w, settlementResp.ErrorReason, requirements)
						return nil, false
					}

					log.Info("payment settled", map[string]any{
						"transaction": settlementResp.Transaction,
						"payer":       settlementResp.Payer,
					})
					rec.IncCounter(metrics.CounterSettled, labels)

					if err := AddPaymentResponseHeader(w.Header(), settlementResp); err != nil {
						// Payment already settled; the response just lacks
						// the encoded settlement header.
						log.Warn("failed to add payment response header", map[string]any{"error": err.Error()})
					}
					if config.OnSettled != nil {
						config.OnSettled(r, res, settlementResp)
					}
					return settlementResp, true
				},
				onFailure: func(statusCode int) {
					log.Warn("handler returned non-success, skipping settlement", map[string]any{"status": statusCode})
				},
			}

			next.ServeHTTP(interceptor, r)
			if err := interceptor.finalize(); err != nil {
				log.Error("failed to write enriched response", map[string]any{"error": err.Error()})
			}
		})
	}
}

// resourceURL rebuilds the absolute URL of the requested resource for the
// challenge body.
func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
