package gin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/datagate-io/datagate"
	"github.com/datagate-io/datagate/encoding"
	"github.com/datagate-io/datagate/facilitator"
	httpgate "github.com/datagate-io/datagate/http"
	"github.com/datagate-io/datagate/pricing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testPayer = "0x1111111111111111111111111111111111111111"
	testTx    = "0xabc123abc123abc123abc123abc123abc123abc123abc123abc123abc1abcd"
)

// stubFacilitator implements facilitator.Interface and counts calls.
type stubFacilitator struct {
	verifyResp  *facilitator.VerifyResponse
	settleResp  *datagate.SettlementResponse
	settleErr   error
	verifyCalls int
	settleCalls int
}

func (s *stubFacilitator) Verify(context.Context, datagate.PaymentPayload, datagate.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	s.verifyCalls++
	return s.verifyResp, nil
}

func (s *stubFacilitator) Settle(context.Context, datagate.PaymentPayload, datagate.PaymentRequirement) (*datagate.SettlementResponse, error) {
	s.settleCalls++
	return s.settleResp, s.settleErr
}

func (s *stubFacilitator) Supported(context.Context) (*facilitator.SupportedResponse, error) {
	return &facilitator.SupportedResponse{}, nil
}

func settledStub() *stubFacilitator {
	return &stubFacilitator{
		verifyResp: &facilitator.VerifyResponse{IsValid: true, Payer: testPayer},
		settleResp: &datagate.SettlementResponse{
			Success:     true,
			Transaction: testTx,
			Network:     "base-sepolia",
			Payer:       testPayer,
		},
	}
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	encoded, err := encoding.EncodePayment(datagate.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload: datagate.EVMPayload{
			Signature: "0xdeadbeef",
			Authorization: datagate.EVMAuthorization{
				From:  testPayer,
				To:    testPayTo,
				Value: "10000",
			},
		},
	})
	if err != nil {
		t.Fatalf("EncodePayment: %v", err)
	}
	return encoded
}

func testRouter(fac *stubFacilitator, handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(NewPaymentGate(&httpgate.Config{
		Pricing:     mustTable(),
		PayTo:       testPayTo,
		Facilitator: fac,
	}))
	r.GET("/data", handler)
	return r
}

func mustTable() *pricing.Table {
	table, err := pricing.NewTable("$0.01", "base-sepolia")
	if err != nil {
		panic(err)
	}
	return table
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": "sources"})
}

func TestGinGate_NoPaymentReturns402(t *testing.T) {
	fac := settledStub()
	r := testRouter(fac, okHandler)

	req := httptest.NewRequest("GET", "/data", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status %d, got %d", http.StatusPaymentRequired, rec.Code)
	}

	var challenge datagate.PaymentRequirementsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("unmarshal challenge: %v", err)
	}
	if challenge.X402Version != 1 {
		t.Errorf("expected x402Version 1, got %d", challenge.X402Version)
	}
	if len(challenge.Accepts) != 1 {
		t.Fatalf("expected one requirement, got %d", len(challenge.Accepts))
	}
	if challenge.Accepts[0].MaxAmountRequired != "10000" {
		t.Errorf("expected default price 10000, got %s", challenge.Accepts[0].MaxAmountRequired)
	}
	if fac.verifyCalls != 0 || fac.settleCalls != 0 {
		t.Errorf("unpaid request must not hit the facilitator, got verify=%d settle=%d",
			fac.verifyCalls, fac.settleCalls)
	}
}

func TestGinGate_ValidPaymentSettlesOnceAndEnriches(t *testing.T) {
	fac := settledStub()
	r := testRouter(fac, okHandler)

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if fac.settleCalls != 1 {
		t.Fatalf("expected exactly one settlement, got %d", fac.settleCalls)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if _, ok := body["data"]; !ok {
		t.Error("handler payload missing from enriched body")
	}
	var meta httpgate.PaymentMetadata
	if err := json.Unmarshal(body["_payment"], &meta); err != nil {
		t.Fatalf("unmarshal _payment: %v", err)
	}
	if meta.TransactionHash != testTx {
		t.Errorf("expected transaction %s, got %s", testTx, meta.TransactionHash)
	}

	if got := rec.Header().Get("X-Transaction-Hash"); got != testTx {
		t.Errorf("expected X-Transaction-Hash %s, got %s", testTx, got)
	}
	if rec.Header().Get("X-Transaction-Url") == "" {
		t.Error("expected X-Transaction-Url header")
	}

	encoded := rec.Header().Get("X-PAYMENT-RESPONSE")
	if encoded == "" {
		t.Fatal("expected X-PAYMENT-RESPONSE header")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode settlement header: %v", err)
	}
	var settlement datagate.SettlementResponse
	if err := json.Unmarshal(raw, &settlement); err != nil {
		t.Fatalf("unmarshal settlement header: %v", err)
	}
	if settlement.Transaction != testTx {
		t.Errorf("expected settled transaction %s, got %s", testTx, settlement.Transaction)
	}
}

func TestGinGate_HandlerErrorSkipsSettlement(t *testing.T) {
	fac := settledStub()
	r := testRouter(fac, func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such source"})
	})

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if fac.verifyCalls != 1 {
		t.Errorf("expected one verification, got %d", fac.verifyCalls)
	}
	if fac.settleCalls != 0 {
		t.Errorf("handler error must not settle, got %d settle calls", fac.settleCalls)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["error"] != "no such source" {
		t.Errorf("expected the handler's error body, got %q", body["error"])
	}
	if rec.Header().Get("X-Transaction-Hash") != "" {
		t.Error("unsettled response must not carry settlement headers")
	}
}

func TestGinGate_SettlementErrorDiscardsHandlerBody(t *testing.T) {
	fac := settledStub()
	fac.settleErr = errors.New("facilitator down")
	r := testRouter(fac, okHandler)

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["error"] != "payment settlement failed" {
		t.Errorf("expected settlement error body, got %q", body["error"])
	}
	if _, ok := body["data"]; ok {
		t.Error("handler output must be discarded after a settlement error")
	}
}

func TestGinGate_RejectedPaymentNeverSettles(t *testing.T) {
	fac := settledStub()
	fac.verifyResp = &facilitator.VerifyResponse{IsValid: false, InvalidReason: "insufficient funds"}
	r := testRouter(fac, okHandler)

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if fac.settleCalls != 0 {
		t.Errorf("rejected payment must not settle, got %d settle calls", fac.settleCalls)
	}

	var challenge datagate.PaymentRequirementsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("unmarshal challenge: %v", err)
	}
	if challenge.Error != "insufficient funds" {
		t.Errorf("expected the rejection reason, got %q", challenge.Error)
	}
}

func TestGinGate_PaymentAvailableInContext(t *testing.T) {
	fac := settledStub()
	var payer string
	r := testRouter(fac, func(c *gin.Context) {
		if v, ok := c.Get(PaymentKey); ok {
			payer = v.(*facilitator.VerifyResponse).Payer
		}
		c.JSON(http.StatusOK, gin.H{"data": "sources"})
	})

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payer != testPayer {
		t.Errorf("expected payer %s in handler context, got %q", testPayer, payer)
	}
}
