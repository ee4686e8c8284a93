package api

import (
	"net/http"
	"strconv"

	"ledgerwatch.mini/lwm/internal/types"
)

type nodeStatus struct {
	types.Node
	Preferred   bool   `json:"preferred"`
	Description string `json:"description"`
}

// @Title: Get Dashboard View
// @Route: GET /api/view
// @Description: Returns the complete current view: nodes, organizations, statistics, ranking, recent transactions and chain
// @Response: View object
func (s *Service) HandleView(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dash.View())
}

// @Title: Get Nodes
// @Route: GET /api/nodes
// @Description: Returns every configured node in order with its last probe result
// @Response: Array of node objects with health, preferred flag and description
func (s *Service) HandleNodes(w http.ResponseWriter, r *http.Request) {
	v := s.dash.View()
	out := make([]nodeStatus, len(v.Nodes))
	for i, n := range v.Nodes {
		out[i] = nodeStatus{
			Node:        n,
			Preferred:   n.Address == v.Preferred,
			Description: types.HealthDescription(n.Health.Status),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// @Title: Get Statistics
// @Route: GET /api/stats
// @Description: Returns aggregate donation statistics and the per-organization ranking
// @Response: {"stats": {...}, "ranking": [{"organization": "...", "amount": "..."}]}
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	v := s.dash.View()
	if v.Stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Statistics not loaded yet")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":   v.Stats,
		"ranking": v.Ranking,
	})
}

// @Title: Get Recent Transactions
// @Route: GET /api/transactions/recent
// @Description: Returns the most recent sealed donations, newest first
// @Response: Array of transactions tagged with block_index
func (s *Service) HandleRecent(w http.ResponseWriter, r *http.Request) {
	recent := s.dash.View().Recent
	if recent == nil {
		recent = []types.RecentTransaction{}
	}
	s.writeJSON(w, http.StatusOK, recent)
}

// @Title: Get Chain
// @Route: GET /api/chain
// @Description: Returns the block list, newest first
// @Response: Array of block summaries
func (s *Service) HandleChain(w http.ResponseWriter, r *http.Request) {
	chain := s.dash.View().Chain
	if chain == nil {
		chain = []types.BlockSummary{}
	}
	s.writeJSON(w, http.StatusOK, chain)
}

// @Title: Get Organizations
// @Route: GET /api/organizations
// @Description: Returns the organizations that can receive donations
// @Response: {"organizations": ["..."]}
func (s *Service) HandleOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs := s.dash.View().Organizations
	if orgs == nil {
		orgs = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"organizations": orgs})
}

// @Title: Get Status Log
// @Route: GET /api/log?limit=...&since=...
// @Description: Returns status feed messages, newest first. With since, returns only messages after that id, oldest first
// @Response: Array of log messages
func (s *Service) HandleLog(w http.ResponseWriter, r *http.Request) {
	if since := r.URL.Query().Get("since"); since != "" {
		s.writeJSON(w, http.StatusOK, s.logger.Since(since))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid 'limit' query parameter")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.logger.GetRecent(limit))
}
