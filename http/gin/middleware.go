// Package gin provides a Gin-compatible payment gate. It is a thin adapter
// over the stdlib gate in the parent package: pricing, challenges and
// facilitator calls behave identically, with gin.Context plumbing and a
// deferred writer standing in for the stdlib settlement interceptor.
package gin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datagate-io/datagate"
	httpgate "github.com/datagate-io/datagate/http"
	"github.com/datagate-io/datagate/logger"
	"github.com/datagate-io/datagate/metrics"
)

// PaymentKey is the gin context key holding the verified payment.
const PaymentKey = "datagate_payment"

// NewPaymentGate creates a payment gate middleware for Gin using the shared
// Config from the http package. Handlers behind the gate only run for
// verified payments; settlement happens after the handler commits a success
// status, and successful responses are enriched with the settlement record.
func NewPaymentGate(config *httpgate.Config) gin.HandlerFunc {
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

	return func(c *gin.Context) {
		if _, ok := exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		res := config.Pricing.Resolve(c.Request.Method, c.Request.URL.Path)
		labels := map[string]string{"network": res.Network}

		chain, ok := datagate.ChainByNetwork(res.Network)
		if !ok {
			log.Error("unknown settlement network", map[string]any{"network": res.Network})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payment network not configured"})
			return
		}

		requirement, err := datagate.NewUSDCRequirement(chain, res.Amount(), config.PayTo)
		if err != nil {
			log.Error("invalid payment requirement", map[string]any{"error": err.Error(), "price": res.Display})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payment requirement not configured"})
			return
		}

		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		requirement.Resource = scheme + "://" + c.Request.Host + c.Request.RequestURI
		requirement.Description = "Payment required for " + c.Request.URL.Path
		requirements := []datagate.PaymentRequirement{requirement}

		reject := func(reason string) {
			rec.IncCounter(metrics.CounterRejected, labels)
			if config.OnRejected != nil {
				config.OnRejected(c.Request, res, reason)
			}
			sendPaymentRequired(c, reason, requirements)
		}

		if c.GetHeader("X-PAYMENT") == "" {
			log.Info("no payment header provided", map[string]any{"path": c.Request.URL.Path, "price": res.Display})
			rec.IncCounter(metrics.CounterPaymentRequired, labels)
			if config.OnRejected != nil {
				config.OnRejected(c.Request, res, "payment required")
			}
			sendPaymentRequired(c, "", requirements)
			return
		}

		payment, err := httpgate.ParsePaymentHeader(c.Request)
		if err != nil {
			log.Warn("invalid payment header", map[string]any{"error": err.Error()})
			reject("invalid payment header")
			return
		}

		if payment.Scheme != requirement.Scheme || payment.Network != requirement.Network {
			reject("unsupported payment scheme or network")
			return
		}

		start := time.Now()
		verifyResp, err := config.Facilitator.Verify(c.Request.Context(), payment, requirement)
		rec.ObserveLatency("facilitator_verify", time.Since(start), labels)
		if err != nil {
			log.Error("facilitator verification failed", map[string]any{"error": err.Error()})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payment verification failed"})
			return
		}
		if !verifyResp.IsValid {
			log.Warn("payment rejected", map[string]any{"reason": verifyResp.InvalidReason})
			reject(verifyResp.InvalidReason)
			return
		}

		rec.IncCounter(metrics.CounterVerified, labels)

		c.Set(PaymentKey, verifyResp)
		ctx := context.WithValue(c.Request.Context(), httpgate.PaymentContextKey, verifyResp)
		c.Request = c.Request.WithContext(ctx)

		// Buffer the handler's response so settlement can run after the
		// handler commits, and the body can carry the settlement record.
		dw := &deferredWriter{ResponseWriter: c.Writer}
		c.Writer = dw
		c.Next()
		c.Writer = dw.ResponseWriter

		if dw.StatusCode() >= 400 {
			log.Warn("handler returned non-success, skipping settlement", map[string]any{"status": dw.StatusCode()})
			dw.release(nil)
			return
		}

		if config.VerifyOnly {
			dw.release(nil)
			return
		}

		start = time.Now()
		settlementResp, err := config.Facilitator.Settle(c.Request.Context(), payment, requirement)
		rec.ObserveLatency("facilitator_settle", time.Since(start), labels)
		if err != nil {
			log.Error("settlement failed", map[string]any{"error": err.Error()})
			rec.IncCounter(metrics.CounterSettleFailed, labels)
			if config.OnRejected != nil {
				config.OnRejected(c.Request, res, "settlement failed")
			}
			dw.discard(http.StatusInternalServerError, gin.H{"error": "payment settlement failed"})
			return
		}
		if !settlementResp.Success {
			log.Warn("settlement unsuccessful", map[string]any{"reason": settlementResp.ErrorReason})
			rec.IncCounter(metrics.CounterSettleFailed, labels)
			if config.OnRejected != nil {
				config.OnRejected(c.Request, res, settlementResp.ErrorReason)
			}
			dw.discard(http.StatusPaymentRequired, datagate.PaymentRequirementsResponse{
				X402Version: 1,
				Error:       settlementResp.ErrorReason,
				Accepts:     requirements,
			})
			return
		}

		rec.IncCounter(metrics.CounterSettled, labels)
		log.Info("payment settled", map[string]any{"transaction": settlementResp.Transaction})

		if err := httpgate.AddPaymentResponseHeader(dw.Header(), settlementResp); err != nil {
			log.Warn("failed to add payment response header", map[string]any{"error": err.Error()})
		}
		if config.OnSettled != nil {
			config.OnSettled(c.Request, res, settlementResp)
		}

		dw.release(settlementResp, config.PayTo)
	}
}

func sendPaymentRequired(c *gin.Context, reason string, requirements []datagate.PaymentRequirement) {
	if reason == "" {
		reason = "Payment required for this resource"
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, datagate.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       reason,
		Accepts:     requirements,
	})
}

// deferredWriter holds back the status line and body until the gate decides
// the fate of the request.
type deferredWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *deferredWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

// WriteHeaderNow is a no-op while deferred; gin calls it from AbortWithStatus.
func (w *deferredWriter) WriteHeaderNow() {}

func (w *deferredWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *deferredWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *deferredWriter) Status() int {
	if w.status != 0 {
		return w.status
	}
	return w.ResponseWriter.Status()
}

func (w *deferredWriter) Size() int { return w.body.Len() }

func (w *deferredWriter) Written() bool {
	return w.status != 0 || w.body.Len() > 0
}

func (w *deferredWriter) StatusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// release flushes the buffered response, enriching JSON object bodies when a
// settlement is attached. Variadic payTo keeps the unsettled call sites short.
func (w *deferredWriter) release(settlement *datagate.SettlementResponse, payTo ...string) {
	body := w.body.Bytes()
	if settlement != nil && settlement.Transaction != "" && len(payTo) > 0 {
		meta := httpgate.NewPaymentMetadata(settlement, payTo[0])
		merged, changed := httpgate.MergePayment(body, meta)
		httpgate.SetSettlementHeaders(w.Header(), meta)
		if changed {
			w.Header().Set("Content-Length", strconv.Itoa(len(merged)))
		}
		body = merged
	}
	w.ResponseWriter.WriteHeader(w.StatusCode())
	_, _ = w.ResponseWriter.Write(body)
}

// discard drops the buffered handler output and writes an error instead.
func (w *deferredWriter) discard(status int, payload any) {
	w.body.Reset()
	w.status = status

	data, err := json.Marshal(payload)
	if err != nil {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.ResponseWriter.WriteHeader(status)
	_, _ = w.ResponseWriter.Write(data)
}
