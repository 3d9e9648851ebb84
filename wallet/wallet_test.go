package wallet

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/datagate-io/datagate"
	"github.com/datagate-io/datagate/metrics"
)

// Standard BIP39 test vector: first account of the all-abandon mnemonic.
const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testAddress  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	testKeyHex   = "1ab42cc412b618bdea3a599e3c9bae199ebf030895b039e9db1e30dafb12b727"
)

func TestKeyFromMnemonic(t *testing.T) {
	key, err := keyFromMnemonic(testMnemonic, 0)
	if err != nil {
		t.Fatalf("keyFromMnemonic: %v", err)
	}
	got := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if got != testAddress {
		t.Errorf("derived address %s, want %s", got, testAddress)
	}
}

func TestKeyFromMnemonic_DifferentIndexDifferentKey(t *testing.T) {
	key0, err := keyFromMnemonic(testMnemonic, 0)
	if err != nil {
		t.Fatalf("index 0: %v", err)
	}
	key1, err := keyFromMnemonic(testMnemonic, 1)
	if err != nil {
		t.Fatalf("index 1: %v", err)
	}
	if crypto.PubkeyToAddress(key0.PublicKey) == crypto.PubkeyToAddress(key1.PublicKey) {
		t.Error("expected different addresses for different account indexes")
	}
}

func TestKeyFromMnemonic_Invalid(t *testing.T) {
	_, err := keyFromMnemonic("definitely not a valid mnemonic phrase", 0)
	if !errors.Is(err, datagate.ErrInvalidMnemonic) {
		t.Errorf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestKeyFromHex(t *testing.T) {
	tests := []struct {
		name    string
		hexKey  string
		wantErr bool
	}{
		{"bare hex", testKeyHex, false},
		{"0x prefix", "0x" + testKeyHex, false},
		{"garbage", "zzzz", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := keyFromHex(tt.hexKey)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("keyFromHex: %v", err)
			}
			if got := crypto.PubkeyToAddress(key.PublicKey).Hex(); got != testAddress {
				t.Errorf("address %s, want %s", got, testAddress)
			}
		})
	}
}

func TestLoadPrivateKey_NoSource(t *testing.T) {
	_, err := loadPrivateKey(Config{})
	if !errors.Is(err, datagate.ErrWalletNotConfigured) {
		t.Errorf("expected ErrWalletNotConfigured, got %v", err)
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{PrivateKey: testKeyHex, RPCURL: "http://localhost:8545"}, nil, nil)
	if !errors.Is(err, datagate.ErrWalletNotConfigured) {
		t.Errorf("expected ErrWalletNotConfigured, got %v", err)
	}
}

func TestNew_RejectsKeyAddressMismatch(t *testing.T) {
	_, err := New(Config{
		Address:    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		PrivateKey: testKeyHex,
		ChainID:    84532,
		RPCURL:     "http://localhost:8545",
	}, nil, nil)
	if !errors.Is(err, datagate.ErrWalletNotConfigured) {
		t.Errorf("expected ErrWalletNotConfigured, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "derives") {
		t.Errorf("expected mismatch detail, got %v", err)
	}
}

func TestNew_FromMnemonic(t *testing.T) {
	client, err := New(Config{
		Address:  testAddress,
		Mnemonic: testMnemonic,
		ChainID:  84532,
		RPCURL:   "http://localhost:8545",
	}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	if client.Address() != testAddress {
		t.Errorf("address %s, want %s", client.Address(), testAddress)
	}
	if client.network != "base-sepolia" {
		t.Errorf("network %s, want base-sepolia", client.network)
	}
}

func TestToAtomic(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     string
		wantErr  error
	}{
		{"usdc dime", "0.10", 6, "100000", nil},
		{"usdc whole", "5.00", 6, "5000000", nil},
		{"eth", "1.5", 18, "1500000000000000000", nil},
		{"zero", "0", 6, "0", nil},
		{"too precise", "0.0000001", 6, "", datagate.ErrInvalidAmount},
		{"negative", "-1", 6, "", datagate.ErrInvalidAmount},
		{"garbage", "ten", 6, "", datagate.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toAtomic(tt.amount, tt.decimals)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("toAtomic: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

// spyRecorder captures instrumentation calls.
type spyRecorder struct {
	counters  []string
	latencies []string
}

func (s *spyRecorder) IncCounter(name string, _ map[string]string) {
	s.counters = append(s.counters, name)
}

func (s *spyRecorder) ObserveLatency(name string, _ time.Duration, _ map[string]string) {
	s.latencies = append(s.latencies, name)
}

func TestTransfer_RecordsMetrics(t *testing.T) {
	rec := &spyRecorder{}
	client, err := New(Config{
		Address:  testAddress,
		Mnemonic: testMnemonic,
		ChainID:  84532,
		RPCURL:   "http://localhost:8545",
	}, nil, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	// The bad destination fails before any RPC call, but the transfer
	// attempt is still counted and timed.
	if _, err := client.Transfer(context.Background(), "not-an-address", "1.0", ""); err == nil {
		t.Fatal("expected an error for an invalid destination")
	}

	if len(rec.counters) != 1 || rec.counters[0] != metrics.CounterTransfer {
		t.Errorf("expected one %s counter, got %v", metrics.CounterTransfer, rec.counters)
	}
	if len(rec.latencies) != 1 || rec.latencies[0] != "wallet_transfer" {
		t.Errorf("expected one wallet_transfer observation, got %v", rec.latencies)
	}
}

func TestHandle_FailureLeavesUnsetForRetry(t *testing.T) {
	h := NewHandle(Config{}, nil, nil)

	if _, err := h.Get(); !errors.Is(err, datagate.ErrWalletNotConfigured) {
		t.Fatalf("expected ErrWalletNotConfigured, got %v", err)
	}
	// Second call retries construction instead of caching the failure.
	if _, err := h.Get(); !errors.Is(err, datagate.ErrWalletNotConfigured) {
		t.Fatalf("expected ErrWalletNotConfigured on retry, got %v", err)
	}
}

func TestHandle_ReusesClient(t *testing.T) {
	h := NewHandle(Config{
		Address:    testAddress,
		PrivateKey: testKeyHex,
		ChainID:    8453,
		RPCURL:     "http://localhost:8545",
	}, nil, nil)
	defer h.Close()

	first, err := h.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := h.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected the same client instance on repeated Get")
	}
}
