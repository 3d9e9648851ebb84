package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datagate-io/datagate/ledger"
	"github.com/datagate-io/datagate/storage"
)

const apiKeyPrefix = "sk_live_"

// newAPIKey mints an opaque agent credential. 32 random bytes, hex encoded.
func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

func (s *Server) myCreator(w nethttp.ResponseWriter, r *nethttp.Request) (*storage.Creator, bool) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeErr(w, nethttp.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	creator, err := s.store.CreatorByUserID(r.Context(), userID)
	if err != nil {
		s.writeFailure(w, err, "Creator not found")
		return nil, false
	}
	return creator, true
}

func (s *Server) myAgent(w nethttp.ResponseWriter, r *nethttp.Request) (*storage.Agent, bool) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		writeErr(w, nethttp.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	agent, err := s.store.AgentByAPIKey(r.Context(), key)
	if err != nil {
		s.writeFailure(w, err, "Agent not found")
		return nil, false
	}
	return agent, true
}

func (s *Server) handleCreatorMe(w nethttp.ResponseWriter, r *nethttp.Request) {
	creator, ok := s.myCreator(w, r)
	if !ok {
		return
	}
	writeJSON(w, nethttp.StatusOK, creator)
}

func (s *Server) handleCreator(w nethttp.ResponseWriter, r *nethttp.Request) {
	creator, err := s.store.Creator(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err, "Creator not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, creator)
}

type createDataSourceRequest struct {
	URL             string `json:"url" validate:"required,url"`
	PricePerRequest string `json:"pricePerRequest" validate:"required"`
	RateLimit       *int64 `json:"rateLimit" validate:"omitempty,min=1"`
}

func (s *Server) handleMyDataSources(w nethttp.ResponseWriter, r *nethttp.Request) {
	creator, ok := s.myCreator(w, r)
	if !ok {
		return
	}
	s.listDataSources(w, r, creator.ID)
}

func (s *Server) handleCreatorDataSources(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.listDataSources(w, r, chi.URLParam(r, "id"))
}

func (s *Server) listDataSources(w nethttp.ResponseWriter, r *nethttp.Request, creatorID string) {
	sources, err := s.store.DataSourcesByCreator(r.Context(), creatorID)
	if err != nil {
		s.writeFailure(w, err, "Creator not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, sources)
}

func (s *Server) handleCreateMyDataSource(w nethttp.ResponseWriter, r *nethttp.Request) {
	creator, ok := s.myCreator(w, r)
	if !ok {
		return
	}
	s.createDataSource(w, r, creator.ID)
}

func (s *Server) handleCreateDataSource(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.createDataSource(w, r, chi.URLParam(r, "id"))
}

func (s *Server) createDataSource(w nethttp.ResponseWriter, r *nethttp.Request, creatorID string) {
	var req createDataSourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	source, err := s.store.CreateDataSource(r.Context(), creatorID, req.URL, req.PricePerRequest, req.RateLimit)
	if err != nil {
		s.writeFailure(w, err, "Creator not found")
		return
	}
	writeJSON(w, nethttp.StatusCreated, source)
}

func (s *Server) handleMyAccessLogs(w nethttp.ResponseWriter, r *nethttp.Request) {
	creator, ok := s.myCreator(w, r)
	if !ok {
		return
	}
	s.listCreatorAccessLogs(w, r, creator.ID)
}

func (s *Server) handleCreatorAccessLogs(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.listCreatorAccessLogs(w, r, chi.URLParam(r, "id"))
}

func (s *Server) listCreatorAccessLogs(w nethttp.ResponseWriter, r *nethttp.Request, creatorID string) {
	logs, err := s.ledger.ListByCreator(r.Context(), creatorID)
	if err != nil {
		s.writeFailure(w, err, "Creator not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, logs)
}

func (s *Server) handleAgentMe(w nethttp.ResponseWriter, r *nethttp.Request) {
	agent, ok := s.myAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, nethttp.StatusOK, agent)
}

func (s *Server) handleAgent(w nethttp.ResponseWriter, r *nethttp.Request) {
	agent, err := s.store.Agent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err, "Agent not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, agent)
}

func (s *Server) handleGenerateMyKey(w nethttp.ResponseWriter, r *nethttp.Request) {
	agent, ok := s.myAgent(w, r)
	if !ok {
		return
	}
	s.rotateAPIKey(w, r, agent.ID)
}

func (s *Server) handleGenerateKey(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.rotateAPIKey(w, r, chi.URLParam(r, "id"))
}

func (s *Server) rotateAPIKey(w nethttp.ResponseWriter, r *nethttp.Request, agentID string) {
	key, err := newAPIKey()
	if err != nil {
		s.writeFailure(w, err, "Agent not found")
		return
	}
	agent, err := s.store.UpdateAgentAPIKey(r.Context(), agentID, key)
	if err != nil {
		s.writeFailure(w, err, "Agent not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, agent)
}

func (s *Server) handleMyAgentAccessLogs(w nethttp.ResponseWriter, r *nethttp.Request) {
	agent, ok := s.myAgent(w, r)
	if !ok {
		return
	}
	s.listAgentAccessLogs(w, r, agent.ID)
}

func (s *Server) handleAgentAccessLogs(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.listAgentAccessLogs(w, r, chi.URLParam(r, "id"))
}

func (s *Server) listAgentAccessLogs(w nethttp.ResponseWriter, r *nethttp.Request, agentID string) {
	logs, err := s.ledger.ListByAgent(r.Context(), agentID)
	if err != nil {
		s.writeFailure(w, err, "Agent not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, logs)
}

type createAccessLogRequest struct {
	AgentID      string  `json:"agentId" validate:"required"`
	DataSourceID string  `json:"dataSourceId" validate:"required"`
	Path         *string `json:"path"`
	Status       string  `json:"status" validate:"required,oneof=success pending failed"`
	Amount       *string `json:"amount"`
}

func (s *Server) handleCreateAccessLog(w nethttp.ResponseWriter, r *nethttp.Request) {
	var req createAccessLogRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Status == ledger.StatusSuccess && req.Amount == nil {
		writeErr(w, nethttp.StatusBadRequest, "Validation failed: success entries require an amount")
		return
	}
	entry, err := s.ledger.Record(r.Context(), req.AgentID, req.DataSourceID, req.Path, req.Status, req.Amount)
	if err != nil {
		s.writeFailure(w, err, "Agent not found")
		return
	}
	writeJSON(w, nethttp.StatusCreated, entry)
}
