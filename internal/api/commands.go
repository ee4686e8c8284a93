package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/session"
)

type legResult struct {
	Node    string `json:"node"`
	Peer    string `json:"peer,omitempty"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func legResults(legs []admin.Leg) []legResult {
	out := make([]legResult, len(legs))
	for i, l := range legs {
		out[i] = legResult{Node: l.Node, Peer: l.Peer, OK: l.OK(), Message: l.Message}
		if l.Err != nil {
			out[i].Error = l.Err.Error()
		}
	}
	return out
}

// @Title: Submit Donation
// @Route: POST /api/donations
// @Description: Submits a donation to the ledger. An empty sender is recorded as an anonymous donor
// @Response: 201 {"message": "...", "mempool_size": 1}
func (s *Service) HandleDonate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender    string          `json:"sender"`
		Recipient string          `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := s.dash.Donate(r.Context(), session.Donation{
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Amount:    req.Amount,
	})
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

// @Title: Refresh Statistics
// @Route: POST /api/refresh
// @Description: Runs node health, statistics and recent transaction refresh immediately
// @Response: 204 No Content
func (s *Service) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Refresh(r.Context()); err != nil {
		s.writeError(w, statusFor(err), fmt.Sprintf("Refresh failed: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Title: Refresh Chain
// @Route: POST /api/refresh/chain
// @Description: Reloads the block list, which is not part of the periodic refresh
// @Response: 204 No Content
func (s *Service) HandleRefreshChain(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.RefreshChain(r.Context()); err != nil {
		s.writeError(w, statusFor(err), fmt.Sprintf("Chain refresh failed: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Title: Synchronize Nodes
// @Route: POST /api/admin/sync
// @Description: Registers every node as a peer of every other node. Fails if any registration fails
// @Response: {"legs": [{"node": "...", "peer": "...", "ok": true}]}
func (s *Service) HandleSync(w http.ResponseWriter, r *http.Request) {
	legs, err := s.dash.SyncPeers(r.Context())
	s.writeLegs(w, legs, err)
}

// @Title: Mine Block
// @Route: POST /api/admin/mine
// @Description: Asks a node to seal its pending transactions into a block. Returns 409 when there is nothing to mine
// @Response: {"message": "...", "block": {...}}
func (s *Service) HandleMine(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dash.Mine(r.Context())
	if err != nil {
		msg := err.Error()
		if errors.Is(err, admin.ErrEmptyMinePool) {
			msg = "No pending transactions to mine"
		}
		s.writeError(w, statusFor(err), msg)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// @Title: Run Consensus
// @Route: POST /api/admin/consensus
// @Description: Asks every node to adopt the longest valid chain among its peers. Fails if any node fails
// @Response: {"legs": [{"node": "...", "ok": true, "message": "..."}]}
func (s *Service) HandleConsensus(w http.ResponseWriter, r *http.Request) {
	legs, err := s.dash.Consensus(r.Context())
	s.writeLegs(w, legs, err)
}

func (s *Service) writeLegs(w http.ResponseWriter, legs []admin.Leg, err error) {
	body := map[string]interface{}{"legs": legResults(legs)}
	if err != nil {
		body["error"] = err.Error()
		s.writeJSON(w, statusFor(err), body)
		return
	}
	s.writeJSON(w, http.StatusOK, body)
}
