package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/datagate-io/datagate"
	"github.com/datagate-io/datagate/encoding"
)

// ParsePaymentHeader decodes the X-PAYMENT header into a payment proof.
// Returns datagate.ErrMalformedHeader for a missing or undecodable header and
// datagate.ErrUnsupportedVersion when X402Version != 1.
func ParsePaymentHeader(r *http.Request) (datagate.PaymentPayload, error) {
	var payment datagate.PaymentPayload

	headerValue := r.Header.Get("X-PAYMENT")
	if headerValue == "" {
		return payment, datagate.ErrMalformedHeader
	}

	payment, err := encoding.DecodePayment(headerValue)
	if err != nil {
		return payment, fmt.Errorf("%w: %v", datagate.ErrMalformedHeader, err)
	}

	if payment.X402Version != 1 {
		return payment, datagate.ErrUnsupportedVersion
	}

	return payment, nil
}

// sendPaymentRequired writes a 402 challenge listing the accepted payment
// options. The reason string distinguishes missing, malformed, rejected and
// unsettled payments for the caller.
func sendPaymentRequired(w http.ResponseWriter, reason string, requirements []datagate.PaymentRequirement) {
	if reason == "" {
		reason = "Payment required for this resource"
	}
	response := datagate.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       reason,
		Accepts:     requirements,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	// Headers are already sent with the 402 status; an encoding failure here
	// can only truncate the body.
	_ = json.NewEncoder(w).Encode(response)
}

// AddPaymentResponseHeader sets the X-PAYMENT-RESPONSE header with the
// base64-encoded settlement record.
func AddPaymentResponseHeader(h http.Header, settlement *datagate.SettlementResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	h.Set("X-PAYMENT-RESPONSE", encoded)
	return nil
}
