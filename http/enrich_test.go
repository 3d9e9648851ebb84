package http

import (
	"encoding/json"
	"testing"

	"github.com/datagate-io/datagate"
)

func TestNewPaymentMetadata(t *testing.T) {
	settlement := &datagate.SettlementResponse{
		Success:     true,
		Transaction: testTx,
		Network:     "base",
		Payer:       "0x1111111111111111111111111111111111111111",
	}

	meta := NewPaymentMetadata(settlement, testPayTo)
	if meta.TransactionHash != testTx {
		t.Errorf("hash %s", meta.TransactionHash)
	}
	if meta.Network != "base" {
		t.Errorf("network %s", meta.Network)
	}
	if meta.ExplorerURL != "https://basescan.org/tx/"+testTx {
		t.Errorf("explorer %s", meta.ExplorerURL)
	}
	if meta.WalletURL != "https://basescan.org/address/"+testPayTo {
		t.Errorf("wallet %s", meta.WalletURL)
	}
	if meta.ViewTransaction != meta.ExplorerURL {
		t.Errorf("viewTransaction should mirror explorer url, got %s", meta.ViewTransaction)
	}
}

func TestNewPaymentMetadata_UnknownNetworkFallsBack(t *testing.T) {
	settlement := &datagate.SettlementResponse{
		Transaction: testTx,
		Network:     "some-unknown-chain",
	}

	meta := NewPaymentMetadata(settlement, testPayTo)
	if meta.ExplorerURL != "https://sepolia.basescan.org/tx/"+testTx {
		t.Errorf("expected base-sepolia fallback, got %s", meta.ExplorerURL)
	}
}

func TestMergePayment(t *testing.T) {
	meta := PaymentMetadata{
		TransactionHash: testTx,
		Network:         "base-sepolia",
		ExplorerURL:     "https://sepolia.basescan.org/tx/" + testTx,
	}

	tests := []struct {
		name       string
		body       string
		wantChange bool
	}{
		{"json object", `{"id":"ds_1","name":"weather"}`, true},
		{"empty object", `{}`, true},
		{"json array", `[{"id":"ds_1"}]`, false},
		{"plain text", `success`, false},
		{"empty body", ``, false},
		{"invalid json", `{"broken":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed := MergePayment([]byte(tt.body), meta)
			if changed != tt.wantChange {
				t.Fatalf("changed = %v, want %v", changed, tt.wantChange)
			}
			if !changed {
				if string(out) != tt.body {
					t.Errorf("unchanged body was modified: %s", out)
				}
				return
			}

			var obj map[string]json.RawMessage
			if err := json.Unmarshal(out, &obj); err != nil {
				t.Fatalf("merged body not valid JSON: %v", err)
			}
			var got PaymentMetadata
			if err := json.Unmarshal(obj["_payment"], &got); err != nil {
				t.Fatalf("_payment missing or invalid: %v", err)
			}
			if got.TransactionHash != testTx {
				t.Errorf("merged hash %s", got.TransactionHash)
			}
		})
	}
}

func TestMergePayment_PreservesExistingFields(t *testing.T) {
	body := `{"id":"ds_1","price":"$0.10"}`
	out, changed := MergePayment([]byte(body), PaymentMetadata{TransactionHash: testTx})
	if !changed {
		t.Fatal("expected merge")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(out, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(obj["id"]) != `"ds_1"` {
		t.Errorf("id lost: %s", obj["id"])
	}
	if string(obj["price"]) != `"$0.10"` {
		t.Errorf("price lost: %s", obj["price"])
	}
}
