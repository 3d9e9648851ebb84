package http

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/datagate-io/datagate"
)

// settlementInterceptor wraps the ResponseWriter to intercept the moment of
// commitment. Settlement runs when the handler commits a success status, so a
// handler error never triggers an on-chain payment. Successful settlements
// switch the interceptor into buffering mode so the JSON body can be enriched
// with the settlement record before anything reaches the wire.
type settlementInterceptor struct {
	w http.ResponseWriter

	// settle performs the settlement. A nil settlement with ok=true means
	// settlement was skipped (verify-only mode); ok=false means it failed and
	// the error response has already been written.
	settle func() (*datagate.SettlementResponse, bool)

	// onFailure observes handler error statuses that skipped settlement.
	onFailure func(statusCode int)

	// payTo receives the payment and is advertised in the wallet URL.
	payTo string

	committed  bool
	hijacked   bool
	buffering  bool
	status     int
	buf        bytes.Buffer
	settlement *datagate.SettlementResponse
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	// A Write without WriteHeader implies 200 OK; run the settlement check now.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}

	// After a failed settlement the error response is already on the wire.
	// Discard the handler's payload to avoid a mixed response.
	if i.hijacked {
		return len(b), nil
	}

	if i.buffering {
		return i.buf.Write(b)
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true
	i.status = statusCode

	// Handler errors pass through untouched. No settlement.
	if statusCode >= 400 {
		if i.onFailure != nil {
			i.onFailure(statusCode)
		}
		i.w.WriteHeader(statusCode)
		return
	}

	settlement, ok := i.settle()
	if !ok {
		// The settle callback has already written the 402/500 response.
		i.hijacked = true
		return
	}

	if settlement != nil && settlement.Transaction != "" {
		// Hold back the status line and body until finalize so the body can
		// carry the settlement record.
		i.settlement = settlement
		i.buffering = true
		return
	}

	i.w.WriteHeader(statusCode)
}

// finalize flushes a buffered response after the handler returns, merging the
// settlement metadata into JSON object bodies and mirroring it into headers.
// Must be called exactly once after the handler completes.
func (i *settlementInterceptor) finalize() error {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if i.hijacked || !i.buffering {
		return nil
	}

	meta := NewPaymentMetadata(i.settlement, i.payTo)
	body, changed := MergePayment(i.buf.Bytes(), meta)

	SetSettlementHeaders(i.w.Header(), meta)
	if changed {
		i.w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}

	i.w.WriteHeader(i.status)
	_, err := i.w.Write(body)
	return err
}

// Flush implements http.Flusher. Buffered responses cannot stream; flushes
// are dropped until finalize writes the enriched body.
func (i *settlementInterceptor) Flush() {
	if i.buffering {
		return
	}
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
