package wallet

import (
	"sync"

	"github.com/datagate-io/datagate/logger"
	"github.com/datagate-io/datagate/metrics"
)

// Handle lazily constructs the process-wide wallet client on first use.
// Construction failure leaves the handle unset, so a later call retries with
// the same config; a successful construction is reused for the process
// lifetime. Routes that never touch the wallet keep working when the wallet
// is unconfigured.
type Handle struct {
	cfg Config
	log logger.Logger
	rec metrics.Recorder

	mu     sync.Mutex
	client *Client
}

// NewHandle prepares a lazy wallet handle. No RPC connection is made until
// Get is called.
func NewHandle(cfg Config, log logger.Logger, rec metrics.Recorder) *Handle {
	return &Handle{cfg: cfg, log: log, rec: rec}
}

// Get returns the wallet client, constructing it on first use.
func (h *Handle) Get() (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		return h.client, nil
	}

	client, err := New(h.cfg, h.log, h.rec)
	if err != nil {
		return nil, err
	}
	h.client = client
	return h.client, nil
}

// Close releases the client if it was ever constructed.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		h.client.Close()
		h.client = nil
	}
}
