package devnode

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/nodeapi"
)

// Handler returns the node's HTTP API.
func Handler(n *Node) http.Handler {
	h := &handlers{node: n}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/chain", h.chain)
	r.Get("/organizations", h.organizations)
	r.Get("/stats", h.stats)
	r.Post("/transactions/new", h.newTransaction)
	r.Post("/mine", h.mine)

	r.Post("/nodes/register", h.registerPeer)
	r.Get("/nodes/list", h.listPeers)
	r.Post("/consensus", h.consensus)
	r.Post("/transactions/receive", h.receiveTransaction)
	r.Post("/blocks/receive", h.receiveBlock)
	return r
}

type handlers struct {
	node *Node
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	st := h.node.Status()
	writeJSON(w, http.StatusOK, nodeapi.HealthResponse{
		Status:              "running",
		Blocks:              st.Blocks,
		PendingTransactions: st.Pending,
	})
}

func (h *handlers) chain(w http.ResponseWriter, r *http.Request) {
	chain := h.node.Chain()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":  chain,
		"length": len(chain),
	})
}

func (h *handlers) organizations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nodeapi.OrganizationsResponse{Organizations: Organizations})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.node.Stats())
}

// decodeTransaction requires sender, recipient and amount to be present.
func decodeTransaction(r *http.Request) (nodeapi.NewTransaction, error) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		return nodeapi.NewTransaction{}, fmt.Errorf("%w: %v", ErrMissingFields, err)
	}
	for _, name := range []string{"sender", "recipient", "amount"} {
		if v, ok := fields[name]; !ok || string(v) == "null" {
			return nodeapi.NewTransaction{}, fmt.Errorf("%w: %s", ErrMissingFields, name)
		}
	}

	var tx nodeapi.NewTransaction
	if err := json.Unmarshal(fields["sender"], &tx.Sender); err != nil {
		return tx, fmt.Errorf("%w: sender: %v", ErrMissingFields, err)
	}
	if err := json.Unmarshal(fields["recipient"], &tx.Recipient); err != nil {
		return tx, fmt.Errorf("%w: recipient: %v", ErrMissingFields, err)
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(fields["amount"]); err != nil {
		return tx, fmt.Errorf("%w: amount: %v", ErrMissingFields, err)
	}
	tx.Amount = amount
	return tx, nil
}

func (h *handlers) newTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing fields")
		return
	}

	size, err := h.node.Submit(r.Context(), tx)
	switch {
	case errors.Is(err, ErrUnknownOrganization):
		writeError(w, http.StatusBadRequest, "Invalid organization")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, nodeapi.MessageResponse{
		Message:     "Transaction added",
		MempoolSize: size,
	})
}

func (h *handlers) mine(w http.ResponseWriter, r *http.Request) {
	block, err := h.node.Mine(r.Context())
	switch {
	case errors.Is(err, ErrNothingToMine):
		writeError(w, http.StatusBadRequest, "No transactions to mine")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Mining failed")
		return
	}
	writeJSON(w, http.StatusOK, nodeapi.MineResponse{Message: "Block mined", Block: block})
}

func (h *handlers) registerPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeAddress string `json:"node_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeAddress == "" {
		writeError(w, http.StatusBadRequest, "No node address given")
		return
	}

	total, err := h.node.RegisterPeer(req.NodeAddress)
	switch {
	case errors.Is(err, ErrInvalidPeer):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, nodeapi.MessageResponse{Message: "Node registered", TotalPeers: total})
}

func (h *handlers) listPeers(w http.ResponseWriter, r *http.Request) {
	peers := h.node.Peers()
	writeJSON(w, http.StatusOK, nodeapi.PeersResponse{Peers: peers, Count: len(peers)})
}

func (h *handlers) consensus(w http.ResponseWriter, r *http.Request) {
	replaced, length := h.node.Consensus(r.Context())
	if replaced {
		writeJSON(w, http.StatusOK, nodeapi.MessageResponse{Message: "Chain was replaced", NewLength: length})
		return
	}
	writeJSON(w, http.StatusOK, nodeapi.MessageResponse{Message: "Our chain is authoritative", Length: length})
}

func (h *handlers) receiveTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing fields")
		return
	}
	if _, err := h.node.Receive(r.Context(), tx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nodeapi.MessageResponse{Message: "Transaction received"})
}

func (h *handlers) receiveBlock(w http.ResponseWriter, r *http.Request) {
	h.node.Consensus(r.Context())
	writeJSON(w, http.StatusOK, nodeapi.MessageResponse{Message: "Block received, consensus run"})
}
