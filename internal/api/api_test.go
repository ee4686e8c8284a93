package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/logger"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/session"
	"ledgerwatch.mini/lwm/internal/types"
)

func TestHandleHealth(t *testing.T) {
	svc, dash, _ := setupTest(t)

	get := func() healthResponse {
		w := httptest.NewRecorder()
		svc.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected status OK, got %d", w.Code)
		}
		var body healthResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		return body
	}

	if body := get(); body.Status != "ok" || body.NodesTotal != 0 {
		t.Errorf("Expected ok with no nodes, got %+v", body)
	}

	dash.view.Nodes = []types.Node{
		{Address: "http://a:5002", Health: types.NodeHealth{Status: types.HealthOffline}},
		{Address: "http://b:5002", Health: types.NodeHealth{Status: types.HealthOnline, Reachable: true}},
	}
	dash.view.Preferred = "http://b:5002"
	body := get()
	if body.Status != "ok" || body.NodesTotal != 2 || body.NodesReachable != 1 || body.Preferred != "http://b:5002" {
		t.Errorf("Unexpected health: %+v", body)
	}

	dash.view.Nodes[1].Health = types.NodeHealth{Status: types.HealthOffline}
	if body := get(); body.Status != "degraded" {
		t.Errorf("Expected degraded with every node down, got %q", body.Status)
	}
}

func TestHandleVersion(t *testing.T) {
	svc, _, _ := setupTest(t)

	w := httptest.NewRecorder()
	svc.HandleVersion(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["version"] != types.Version {
		t.Errorf("Expected version %s, got %s", types.Version, body["version"])
	}
}

func TestHandleNodes(t *testing.T) {
	svc, dash, _ := setupTest(t)
	dash.view = session.View{
		Preferred: "http://b:5002",
		Nodes: []types.Node{
			{Address: "http://a:5002", PreferredOrder: 0, Health: types.NodeHealth{Status: types.HealthOffline}},
			{Address: "http://b:5002", PreferredOrder: 1, Health: types.NodeHealth{Status: types.HealthOnline, Reachable: true}},
		},
	}

	w := httptest.NewRecorder()
	svc.HandleNodes(w, httptest.NewRequest(http.MethodGet, "/api/nodes", nil))

	var nodes []nodeStatus
	if err := json.NewDecoder(w.Body).Decode(&nodes); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].Preferred || !nodes[1].Preferred {
		t.Errorf("Preferred flag wrong: %+v", nodes)
	}
	if nodes[0].Description != "Offline" {
		t.Errorf("Expected description 'Offline', got %q", nodes[0].Description)
	}
}

func TestHandleStats_NotLoaded(t *testing.T) {
	svc, _, _ := setupTest(t)

	w := httptest.NewRecorder()
	svc.HandleStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	svc, dash, _ := setupTest(t)
	dash.view = session.View{
		Stats: &types.AggregateStats{TotalDonations: decimal.NewFromInt(30), TotalBlocks: 2, ChainValid: true},
		Ranking: []types.OrganizationTotal{
			{Organization: "WWF", Amount: decimal.NewFromInt(30)},
		},
	}

	w := httptest.NewRecorder()
	svc.HandleStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %d", w.Code)
	}
	var body struct {
		Stats   types.AggregateStats      `json:"stats"`
		Ranking []types.OrganizationTotal `json:"ranking"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !body.Stats.TotalDonations.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected total 30, got %s", body.Stats.TotalDonations)
	}
	if len(body.Ranking) != 1 || body.Ranking[0].Organization != "WWF" {
		t.Errorf("Unexpected ranking: %+v", body.Ranking)
	}
}

func TestHandleRecentAndChain_EmptyIsArray(t *testing.T) {
	svc, _, _ := setupTest(t)

	for path, h := range map[string]http.HandlerFunc{
		"/api/transactions/recent": svc.HandleRecent,
		"/api/chain":               svc.HandleChain,
	} {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, path, nil))
		if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
			t.Errorf("%s: expected empty array, got %s", path, got)
		}
	}
}

func TestHandleOrganizations(t *testing.T) {
	svc, dash, _ := setupTest(t)
	dash.view.Organizations = []string{"WWF", "UNICEF"}

	w := httptest.NewRecorder()
	svc.HandleOrganizations(w, httptest.NewRequest(http.MethodGet, "/api/organizations", nil))

	var body map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body["organizations"]) != 2 {
		t.Errorf("Expected 2 organizations, got %v", body["organizations"])
	}
}

func TestHandleLog(t *testing.T) {
	svc, _, feed := setupTest(t)
	for i := 0; i < 5; i++ {
		feed.Info(fmt.Sprintf("message %d", i))
	}

	w := httptest.NewRecorder()
	svc.HandleLog(w, httptest.NewRequest(http.MethodGet, "/api/log?limit=2", nil))

	var msgs []logger.Message
	if err := json.NewDecoder(w.Body).Decode(&msgs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "message 4" {
		t.Errorf("Expected newest first, got %q", msgs[0].Text)
	}

	w = httptest.NewRecorder()
	svc.HandleLog(w, httptest.NewRequest(http.MethodGet, "/api/log?since="+msgs[1].ID, nil))
	var after []logger.Message
	if err := json.NewDecoder(w.Body).Decode(&after); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(after) != 1 || after[0].Text != "message 4" {
		t.Errorf("Expected only 'message 4' after since, got %+v", after)
	}
}

func TestHandleLog_InvalidLimit(t *testing.T) {
	svc, _, _ := setupTest(t)

	w := httptest.NewRecorder()
	svc.HandleLog(w, httptest.NewRequest(http.MethodGet, "/api/log?limit=abc", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleDonate(t *testing.T) {
	svc, dash, _ := setupTest(t)
	dash.donateResp = nodeapi.MessageResponse{Message: "Transaction will be added", MempoolSize: 1}

	body := `{"sender": "Alice", "recipient": "WWF", "amount": "25.50"}`
	w := httptest.NewRecorder()
	svc.HandleDonate(w, httptest.NewRequest(http.MethodPost, "/api/donations", bytes.NewBufferString(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(dash.donations) != 1 {
		t.Fatalf("Expected 1 donation, got %d", len(dash.donations))
	}
	d := dash.donations[0]
	if d.Sender != "Alice" || d.Recipient != "WWF" || !d.Amount.Equal(decimal.RequireFromString("25.5")) {
		t.Errorf("Unexpected donation: %+v", d)
	}
}

func TestHandleDonate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"invalid", `{"recipient": "", "amount": 1}`, fmt.Errorf("%w: choose an organization", session.ErrInvalidDonation), http.StatusBadRequest},
		{"unreachable", `{"recipient": "WWF", "amount": 1}`, &dispatch.ExhaustedError{Method: "POST", Path: "/transactions/new"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, dash, _ := setupTest(t)
			dash.donateErr = tt.err

			w := httptest.NewRecorder()
			svc.HandleDonate(w, httptest.NewRequest(http.MethodPost, "/api/donations", bytes.NewBufferString(tt.body)))

			if w.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestHandleRefresh(t *testing.T) {
	svc, dash, _ := setupTest(t)

	w := httptest.NewRecorder()
	svc.HandleRefresh(w, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if dash.refreshHits != 1 {
		t.Errorf("Expected 1 refresh, got %d", dash.refreshHits)
	}

	dash.refreshErr = errors.New("boom")
	w = httptest.NewRecorder()
	svc.HandleRefresh(w, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestHandleMine_EmptyPool(t *testing.T) {
	svc, dash, _ := setupTest(t)
	dash.mineErr = fmt.Errorf("%w: %w", admin.ErrEmptyMinePool, errors.New("400"))

	w := httptest.NewRecorder()
	svc.HandleMine(w, httptest.NewRequest(http.MethodPost, "/api/admin/mine", nil))

	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "No pending transactions to mine" {
		t.Errorf("Unexpected error message: %q", body["error"])
	}
}

func TestHandleSync_PartialFailure(t *testing.T) {
	svc, dash, _ := setupTest(t)
	dash.legs = []admin.Leg{
		{Node: "http://a:5002", Peer: "http://b:5002", Message: "registered"},
		{Node: "http://b:5002", Peer: "http://a:5002", Err: errors.New("connection refused")},
	}
	dash.adminErr = &admin.FanoutError{Command: "sync", Policy: admin.AllOf, Legs: dash.legs}

	w := httptest.NewRecorder()
	svc.HandleSync(w, httptest.NewRequest(http.MethodPost, "/api/admin/sync", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	var body struct {
		Legs  []legResult `json:"legs"`
		Error string      `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Legs) != 2 {
		t.Fatalf("Expected 2 legs, got %d", len(body.Legs))
	}
	if !body.Legs[0].OK || body.Legs[1].OK {
		t.Errorf("Unexpected leg outcomes: %+v", body.Legs)
	}
	if body.Legs[1].Error != "connection refused" {
		t.Errorf("Expected leg error, got %q", body.Legs[1].Error)
	}
}

func TestHandleConsensus(t *testing.T) {
	svc, dash, _ := setupTest(t)
	dash.legs = []admin.Leg{{Node: "http://a:5002", Message: "Our chain was replaced"}}

	w := httptest.NewRecorder()
	svc.HandleConsensus(w, httptest.NewRequest(http.MethodPost, "/api/admin/consensus", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}
