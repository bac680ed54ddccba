package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ssdwatch/ssdwatch/internal/config"
	"github.com/ssdwatch/ssdwatch/internal/database"
	"github.com/ssdwatch/ssdwatch/internal/detect"
	"github.com/ssdwatch/ssdwatch/internal/events"
	"github.com/ssdwatch/ssdwatch/internal/track"
)

// Detector runs inference on an encoded image.
type Detector interface {
	DetectBytes(data []byte) (*detect.Result, error)
}

// maxUploadSize bounds ad hoc detection uploads.
const maxUploadSize = 16 << 20 // 16MB

// Server is the HTTP API for the detection service.
type Server struct {
	detector Detector
	events   *events.Service
	tracker  *track.Tracker
	db       *database.DB
	hub      *Hub
	cfg      *config.Config
	busURL   string
	logger   *slog.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// Options wires the server's dependencies. Events, tracker, db and config
// are optional; their endpoints return 404 when absent.
type Options struct {
	Addr     string
	Detector Detector
	Events   *events.Service
	Tracker  *track.Tracker
	DB       *database.DB
	Hub      *Hub
	Config   *config.Config
	BusURL   string
}

// NewServer builds the API server and its router.
func NewServer(opts Options) *Server {
	s := &Server{
		detector:  opts.Detector,
		events:    opts.Events,
		tracker:   opts.Tracker,
		db:        opts.DB,
		hub:       opts.Hub,
		cfg:       opts.Config,
		busURL:    opts.BusURL,
		logger:    slog.Default().With("component", "api"),
		startedAt: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/detect", s.handleDetect)
		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.handleListEvents)
			r.Get("/stats", s.handleEventStats)
			r.Get("/{id}", s.handleGetEvent)
			r.Delete("/{id}", s.handleDeleteEvent)
		})
		r.Get("/tracks", s.handleListTracks)
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Post("/", s.handleUpsertSource)
			r.Get("/{id}", s.handleGetSource)
			r.Delete("/{id}", s.handleDeleteSource)
		})
	})
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWebSocket)
	}

	return r
}

// Start runs the HTTP server until Shutdown or failure.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Seconds(),
	}
	if s.db != nil {
		if err := s.db.Health(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
		}
	}
	OK(w, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"started_at": s.startedAt,
		"uptime":     time.Since(s.startedAt).Seconds(),
	}
	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	if s.tracker != nil {
		status["active_tracks"] = len(s.tracker.Tracks())
	}
	if s.events != nil {
		if stats, err := s.events.GetStats(r.Context(), ""); err == nil {
			status["events"] = stats
		}
	}
	if s.cfg != nil {
		status["config_path"] = s.cfg.GetPath()
	}
	if s.busURL != "" {
		status["nats_url"] = s.busURL
	}
	OK(w, status)
}

// handleDetect runs inference on an uploaded image. The image is either the
// raw request body or a multipart field named "image".
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		NotFound(w, "no detector loaded")
		return
	}

	data, err := readImageUpload(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if len(data) == 0 {
		BadRequest(w, "empty image upload")
		return
	}

	result, err := s.detector.DetectBytes(data)
	if err != nil {
		s.logger.Error("Detection failed", "error", err)
		BadRequest(w, fmt.Sprintf("detection failed: %v", err))
		return
	}

	OK(w, result)
}

func readImageUpload(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadSize)

	ct := r.Header.Get("Content-Type")
	if len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return nil, fmt.Errorf("invalid multipart form: %w", err)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image field: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	return io.ReadAll(r.Body)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		NotFound(w, "event store disabled")
		return
	}

	opts := events.ListOptions{
		Source:  r.URL.Query().Get("source"),
		Label:   r.URL.Query().Get("label"),
		TrackID: r.URL.Query().Get("track_id"),
	}
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.MinConfidence = f
		}
	}
	if v := r.URL.Query().Get("start"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			opts.StartTime = time.Unix(ts, 0)
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			opts.EndTime = time.Unix(ts, 0)
		}
	}

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	perPage := 50
	if v := r.URL.Query().Get("per_page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 1000 {
			perPage = p
		}
	}
	opts.Limit = perPage
	opts.Offset = (page - 1) * perPage

	evts, total, err := s.events.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list events", "error", err)
		InternalError(w, "failed to list events")
		return
	}

	List(w, evts, total, page, perPage)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		NotFound(w, "event store disabled")
		return
	}

	id := chi.URLParam(r, "id")
	event, err := s.events.Get(r.Context(), id)
	if err != nil {
		NotFound(w, err.Error())
		return
	}
	OK(w, event)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		NotFound(w, "event store disabled")
		return
	}

	if err := s.events.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		InternalError(w, "failed to delete event")
		return
	}
	NoContent(w)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		NotFound(w, "event store disabled")
		return
	}

	stats, err := s.events.GetStats(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		InternalError(w, "failed to get event stats")
		return
	}
	OK(w, stats)
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		NotFound(w, "tracking disabled")
		return
	}
	OK(w, s.tracker.Tracks())
}

// Source-management endpoints persist changes to the config file. New and
// changed sources take effect on the next service start.

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		NotFound(w, "source management disabled")
		return
	}
	OK(w, s.cfg.ListSources())
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		NotFound(w, "source management disabled")
		return
	}

	src := s.cfg.GetSource(chi.URLParam(r, "id"))
	if src == nil {
		NotFound(w, "source not found")
		return
	}
	out := *src
	out.Password = ""
	OK(w, out)
}

func (s *Server) handleUpsertSource(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		NotFound(w, "source management disabled")
		return
	}

	var src config.SourceConfig
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		BadRequest(w, fmt.Sprintf("invalid source: %v", err))
		return
	}
	if src.ID == "" || src.URL == "" {
		BadRequest(w, "source id and url are required")
		return
	}

	if err := s.cfg.UpsertSource(src); err != nil {
		s.logger.Error("Failed to save source", "source", src.ID, "error", err)
		InternalError(w, "failed to save source")
		return
	}

	src.Password = ""
	OK(w, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		NotFound(w, "source management disabled")
		return
	}

	if err := s.cfg.RemoveSource(chi.URLParam(r, "id")); err != nil {
		if strings.Contains(err.Error(), "not found") {
			NotFound(w, err.Error())
			return
		}
		InternalError(w, "failed to remove source")
		return
	}
	NoContent(w)
}
