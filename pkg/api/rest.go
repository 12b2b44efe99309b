// Package api exposes the workspace over HTTP: a small read/trigger REST
// surface plus a websocket stream of progress events.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/symbolindex/indexd/pkg/content"
	"github.com/symbolindex/indexd/pkg/storage"
	"github.com/symbolindex/indexd/pkg/workspace"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:7432",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Server serves the REST API and event stream for one workspace.
type Server struct {
	config    ServerConfig
	workspace *workspace.Workspace
	manifests *storage.ManifestStore
	hub       *Hub
	router    *mux.Router
	http      *http.Server
	logger    zerolog.Logger
}

// NewServer creates a server over ws. manifests may be nil, in which case
// the stats endpoint reports only live counters.
func NewServer(config ServerConfig, ws *workspace.Workspace, manifests *storage.ManifestStore, hub *Hub, logger zerolog.Logger) *Server {
	s := &Server{
		config:    config,
		workspace: ws,
		manifests: manifests,
		hub:       hub,
		router:    mux.NewRouter(),
		logger:    logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/projects", s.handleListProjects).Methods("GET")
	v1.HandleFunc("/projects/{id}", s.handleGetProject).Methods("GET")
	v1.HandleFunc("/projects/{id}/stats", s.handleProjectStats).Methods("GET")
	v1.HandleFunc("/projects/{id}/reparse", s.handleReparse).Methods("POST")
	v1.HandleFunc("/projects/{id}/resolve", s.handleResolve).Methods("POST")
	v1.HandleFunc("/events", s.hub.handleEvents).Methods("GET")
}

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.config.Address).Msg("API server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// projectSummary is the wire form of one project's current index state.
type projectSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Path           string `json:"path"`
	AssemblyName   string `json:"assembly_name"`
	FileCount      int    `json:"file_count"`
	ReferenceCount int    `json:"reference_count"`
	Dirty          bool   `json:"dirty"`
}

type fileSummary struct {
	Path        string           `json:"path"`
	Symbols     []content.Symbol `json:"symbols"`
	LastWrite   time.Time        `json:"last_write,omitempty"`
	FromDisk    bool             `json:"from_disk"`
	SymbolCount int              `json:"symbol_count"`
}

type projectDetail struct {
	projectSummary
	OutputPath string                      `json:"output_path"`
	Settings   content.CompilerSettings    `json:"compiler_settings"`
	References []content.AssemblyReference `json:"references"`
	Files      []fileSummary               `json:"files"`
}

type statsResponse struct {
	ProjectID    string                 `json:"project_id"`
	Counts       content.ParseCounts    `json:"last_parse_counts"`
	Manifest     *storage.CacheManifest `json:"cache_manifest,omitempty"`
	RecentParses []storage.ParseRecord  `json:"recent_parses,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"projects": len(s.workspace.Projects()),
		"time":     time.Now().UTC(),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.workspace.Projects()
	out := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		c := s.workspace.Container(p.ID)
		if c == nil {
			continue
		}
		out = append(out, s.summarize(p.Name, p.Path, c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p := s.workspace.Project(id)
	c := s.workspace.Container(id)
	if p == nil || c == nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}

	idx := c.CurrentIndex()
	detail := projectDetail{
		projectSummary: s.summarize(p.Name, p.Path, c),
		OutputPath:     idx.OutputPath(),
		Settings:       idx.CompilerSettings(),
		References:     idx.References(),
	}
	for _, f := range idx.Files() {
		detail.Files = append(detail.Files, fileSummary{
			Path:        f.Path,
			Symbols:     f.Symbols,
			LastWrite:   f.LastWriteTime,
			FromDisk:    f.Serializable(),
			SymbolCount: len(f.Symbols),
		})
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c := s.workspace.Container(id)
	if c == nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}

	resp := statsResponse{ProjectID: id, Counts: c.LastParseCounts()}
	if s.manifests != nil {
		manifest, err := s.manifests.GetManifest(r.Context(), id)
		if err != nil {
			s.logger.Warn().Err(err).Str("project_id", id).Msg("Manifest lookup failed")
		} else {
			resp.Manifest = manifest
		}
		records, err := s.manifests.RecentParses(r.Context(), id, 0)
		if err != nil {
			s.logger.Warn().Err(err).Str("project_id", id).Msg("Parse history lookup failed")
		} else {
			resp.RecentParses = records
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReparse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c := s.workspace.Container(id)
	if c == nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}
	c.RequestReparseAllFiles()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "project_id": id})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c := s.workspace.Container(id)
	if c == nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}
	c.RequestReResolveReferences()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "project_id": id})
}

func (s *Server) summarize(name, path string, c *content.Container) projectSummary {
	idx := c.CurrentIndex()
	return projectSummary{
		ID:             c.ProjectID(),
		Name:           name,
		Path:           path,
		AssemblyName:   idx.AssemblyName(),
		FileCount:      idx.FileCount(),
		ReferenceCount: idx.ReferenceCount(),
		Dirty:          c.Dirty(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
