package server

import (
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datagate-io/datagate/wallet"
)

// walletClient resolves the lazy wallet handle, surfacing configuration
// errors as API failures at first use instead of at startup.
func (s *Server) walletClient(w nethttp.ResponseWriter) (*wallet.Client, bool) {
	if s.wallet == nil {
		writeErr(w, nethttp.StatusInternalServerError, "Wallet not configured")
		return nil, false
	}
	client, err := s.wallet.Get()
	if err != nil {
		s.writeFailure(w, err, "Wallet not found")
		return nil, false
	}
	return client, true
}

func (s *Server) handleWalletInfo(w nethttp.ResponseWriter, r *nethttp.Request) {
	client, ok := s.walletClient(w)
	if !ok {
		return
	}
	info, err := client.Info(r.Context())
	if err != nil {
		s.writeFailure(w, err, "Wallet not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, info)
}

func (s *Server) handleWalletBalance(w nethttp.ResponseWriter, r *nethttp.Request) {
	client, ok := s.walletClient(w)
	if !ok {
		return
	}

	if token := r.URL.Query().Get("token"); token != "" {
		holding, err := client.TokenBalance(r.Context(), token)
		if err != nil {
			s.writeFailure(w, err, "Wallet not found")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"address": client.Address(),
			"token":   holding.Token,
			"symbol":  holding.Symbol,
			"balance": holding.Balance,
		})
		return
	}

	balance, err := client.Balance(r.Context())
	if err != nil {
		s.writeFailure(w, err, "Wallet not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"address": client.Address(),
		"balance": balance,
	})
}

type transferRequest struct {
	To           string `json:"to" validate:"required,eth_addr"`
	Amount       string `json:"amount" validate:"required"`
	TokenAddress string `json:"tokenAddress" validate:"omitempty,eth_addr"`
}

func (s *Server) handleWalletTransfer(w nethttp.ResponseWriter, r *nethttp.Request) {
	client, ok := s.walletClient(w)
	if !ok {
		return
	}
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := client.Transfer(r.Context(), req.To, req.Amount, req.TokenAddress)
	if err != nil {
		s.writeFailure(w, err, "Wallet not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, result)
}

func (s *Server) handleWalletTransaction(w nethttp.ResponseWriter, r *nethttp.Request) {
	client, ok := s.walletClient(w)
	if !ok {
		return
	}
	details, err := client.Transaction(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeFailure(w, err, "Transaction not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, details)
}
