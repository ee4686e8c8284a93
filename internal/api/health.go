package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"

	"ledgerwatch.mini/lwm/internal/types"
)

type healthResponse struct {
	Status         string `json:"status"`
	NodesTotal     int    `json:"nodes_total"`
	NodesReachable int    `json:"nodes_reachable"`
	Preferred      string `json:"preferred,omitempty"`
}

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health and how many ledger nodes answered the last probe. The dashboard itself is healthy even when every node is down
// @Response: {"status": "ok", "nodes_total": 2, "nodes_reachable": 1, "preferred": "..."}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.dash.View()
	resp := healthResponse{Status: "ok", NodesTotal: len(v.Nodes), Preferred: v.Preferred}
	for _, n := range v.Nodes {
		if n.Health.Reachable {
			resp.NodesReachable++
		}
	}
	if resp.NodesTotal > 0 && resp.NodesReachable == 0 {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns lwm version and build information
// @Response: {"version": "...", "build_time": "...", "hostname": "...", "go_ver": "...", "os_arch": "..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    types.Version,
		"build_time": types.BuildTime,
		"hostname":   hostname,
		"go_ver":     runtime.Version(),
		"os_arch":    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}
