package http

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/datagate-io/datagate"
)

// PaymentMetadata is the settlement summary merged into enriched responses
// under the "_payment" key and mirrored into X-Transaction-* headers.
type PaymentMetadata struct {
	TransactionHash string `json:"transactionHash"`
	Network         string `json:"network"`
	ExplorerURL     string `json:"explorerUrl"`
	WalletURL       string `json:"walletUrl"`
	ViewTransaction string `json:"viewTransaction"`
}

// NewPaymentMetadata builds the enrichment record for a confirmed settlement.
// The wallet URL points at the payTo address that received the payment.
func NewPaymentMetadata(settlement *datagate.SettlementResponse, payTo string) PaymentMetadata {
	txURL := datagate.TransactionURL(settlement.Transaction, settlement.Network)
	return PaymentMetadata{
		TransactionHash: settlement.Transaction,
		Network:         settlement.Network,
		ExplorerURL:     txURL,
		WalletURL:       datagate.AddressURL(payTo, settlement.Network),
		ViewTransaction: txURL,
	}
}

// MergePayment injects the _payment object into a JSON object body. Bodies
// that are not JSON objects pass through unmodified; the second return
// reports whether the body changed.
func MergePayment(body []byte, meta PaymentMetadata) ([]byte, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return body, false
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return body, false
	}
	obj["_payment"] = raw

	out, err := json.Marshal(obj)
	if err != nil {
		return body, false
	}
	return out, true
}

// SetSettlementHeaders mirrors the settlement metadata into the
// X-Transaction-* response headers.
func SetSettlementHeaders(h http.Header, meta PaymentMetadata) {
	h.Set("X-Transaction-Hash", meta.TransactionHash)
	h.Set("X-Transaction-Url", meta.ExplorerURL)
	h.Set("X-Wallet-Url", meta.WalletURL)
}
