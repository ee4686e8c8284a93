// Package web implements the HTTP server and dashboard for ledgerwatch mini.
// It serves the rendered dashboard, the JSON API, live view and status
// updates over websockets, the operator docs and the metrics endpoint.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ledgerwatch.mini/lwm/internal/api"
	"ledgerwatch.mini/lwm/internal/docs"
	"ledgerwatch.mini/lwm/internal/logger"
	"ledgerwatch.mini/lwm/internal/session"
	"ledgerwatch.mini/lwm/internal/types"
)

// Dashboard is the session surface the server renders and pushes.
type Dashboard interface {
	api.Dashboard
	Updates() <-chan struct{}
}

// PageData holds the data passed to the page templates.
type PageData struct {
	View       session.View
	Version    string
	BuildTime  string
	DocsPage   bool
	DocList    []string
	DocContent template.HTML
	CurrentDoc string
}

// Options configures a Server.
type Options struct {
	Port       int
	Feed       *logger.Logger
	Docs       *docs.Service
	AdminLimit RateLimit
	Metrics    http.Handler // served at /metrics when set
	Logger     *slog.Logger
}

// Server is the web server for the dashboard and API.
type Server struct {
	dash       Dashboard
	port       int
	templates  *template.Template
	feed       *logger.Logger
	hub        *hub
	apiService *api.Service
	docService *docs.Service
	admin      *rateLimiter
	metrics    http.Handler
	log        *slog.Logger
	http       *http.Server
}

// NewServer creates a new web server.
func NewServer(dash Dashboard, opts Options) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	feed := opts.Feed
	if feed == nil {
		feed = logger.New(200)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	docService := opts.Docs
	if docService == nil {
		docService = docs.NewService("docs")
	}

	s := &Server{
		dash:       dash,
		port:       opts.Port,
		templates:  templates,
		feed:       feed,
		hub:        newHub(),
		apiService: api.NewService(dash, feed),
		docService: docService,
		admin:      newRateLimiter(opts.AdminLimit),
		metrics:    opts.Metrics,
		log:        log.With("component", "web"),
	}
	return s, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Page routes
	r.Get("/", s.handlePageLoad)
	r.Get("/views/dashboard", s.handleDashboardFragment)
	r.Get("/docs", s.handleDocsView)
	r.Get("/docs/{name}", s.handleDocsView)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.apiService.HandleHealth)
		r.Get("/version", s.apiService.HandleVersion)
		r.Get("/view", s.apiService.HandleView)
		r.Get("/nodes", s.apiService.HandleNodes)
		r.Get("/stats", s.apiService.HandleStats)
		r.Get("/transactions/recent", s.apiService.HandleRecent)
		r.Get("/chain", s.apiService.HandleChain)
		r.Get("/organizations", s.apiService.HandleOrganizations)
		r.Get("/log", s.apiService.HandleLog)
		r.Post("/donations", s.apiService.HandleDonate)
		r.Post("/refresh", s.apiService.HandleRefresh)
		r.Post("/refresh/chain", s.apiService.HandleRefreshChain)

		r.Group(func(r chi.Router) {
			r.Use(s.admin.middleware)
			r.Post("/admin/sync", s.apiService.HandleSync)
			r.Post("/admin/mine", s.apiService.HandleMine)
			r.Post("/admin/consensus", s.apiService.HandleConsensus)
		})
	})

	// WebSocket routes
	r.Get("/ws/view", s.handleViewWS)
	r.Get("/ws/status", s.handleStatusWS)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start runs the HTTP server and the view broadcaster until ctx is done or
// Shutdown is called. The returned channel yields the listener error.
func (s *Server) Start(ctx context.Context) <-chan error {
	s.log.Info("starting dashboard and API server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.watchUpdates(ctx)

	errCh := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePageLoad(w http.ResponseWriter, r *http.Request) {
	s.setCacheHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "layout", s.pageData()); err != nil {
		s.log.Error("failed to render layout", "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

func (s *Server) handleDashboardFragment(w http.ResponseWriter, r *http.Request) {
	html, err := s.renderDashboard(s.dash.View())
	if err != nil {
		s.log.Error("failed to render dashboard", "error", err)
		http.Error(w, "Failed to render view", http.StatusInternalServerError)
		return
	}
	s.setCacheHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

func (s *Server) handleDocsView(w http.ResponseWriter, r *http.Request) {
	data := s.pageData()
	data.DocsPage = true
	data.DocList, _ = s.docService.ListDocs()

	if name := chi.URLParam(r, "name"); name != "" {
		content, err := s.docService.GetDoc(r.Context(), name)
		if errors.Is(err, docs.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.feed.Error(fmt.Sprintf("Failed to load doc %s: %v", name, err))
			http.Error(w, "Failed to render document", http.StatusInternalServerError)
			return
		}
		data.CurrentDoc = name
		data.DocContent = template.HTML(content)
	}

	s.setCacheHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "layout", data); err != nil {
		s.log.Error("failed to render docs view", "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

func (s *Server) pageData() PageData {
	return PageData{
		View:      s.dash.View(),
		Version:   types.Version,
		BuildTime: types.BuildTime,
	}
}

func (s *Server) renderDashboard(v session.View) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "dashboard", v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// viewMessage is pushed to /ws/view clients on every view change.
type viewMessage struct {
	Type      string    `json:"type"`
	HTML      string    `json:"html"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) renderViewMessage() []byte {
	v := s.dash.View()
	html, err := s.renderDashboard(v)
	if err != nil {
		s.log.Error("failed to render dashboard", "error", err)
		return nil
	}
	data, err := json.Marshal(viewMessage{Type: "view", HTML: string(html), UpdatedAt: v.UpdatedAt})
	if err != nil {
		s.log.Error("failed to encode view message", "error", err)
		return nil
	}
	return data
}

// watchUpdates renders the view on every session change and broadcasts it to
// all websocket clients.
func (s *Server) watchUpdates(ctx context.Context) {
	updates := s.dash.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			if s.hub.size() == 0 {
				continue
			}
			if data := s.renderViewMessage(); data != nil {
				s.hub.broadcast(data)
			}
		}
	}
}

// setCacheHeaders sets cache-busting headers to prevent browser caching.
func (s *Server) setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
