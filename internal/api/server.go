// Package api exposes the capture session over HTTP. Handlers decode the
// request, call one session operation and encode the result or its Status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/snapmark/internal/annotate"
	"github.com/bryanchriswhite/snapmark/internal/config"
	"github.com/bryanchriswhite/snapmark/internal/geometry"
	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/session"
	"github.com/bryanchriswhite/snapmark/internal/stream"
)

const version = "0.1.0"

// Preferences is the export preference collaborator.
type Preferences interface {
	Preferences() config.Preferences
	SetPreferences(p config.Preferences) error
	ChooseSaveDirectory(ctx context.Context) (string, error)
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	session  *session.Session
	prefs    Preferences
	streamer *stream.Streamer
	output   *stream.MJPEGOutput
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a new API server. streamer and output may be nil when
// the live preview is disabled.
func NewServer(sess *session.Session, prefs Preferences, streamer *stream.Streamer, output *stream.MJPEGOutput) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		session:  sess,
		prefs:    prefs,
		streamer: streamer,
		output:   output,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/mode", s.handleSetMode).Methods("PUT")
	api.HandleFunc("/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/events", s.handleEvents)

	// Sources
	api.HandleFunc("/sources", s.handleSources).Methods("GET")
	api.HandleFunc("/sources/refresh", s.handleRefreshSources).Methods("POST")
	api.HandleFunc("/sources/selected", s.handleSelectSource).Methods("PUT")

	// Capture and crop
	api.HandleFunc("/capture", s.handleCapture).Methods("POST")
	api.HandleFunc("/capture/cursor", s.handleCaptureAtCursor).Methods("POST")
	api.HandleFunc("/crop", s.handleSetCrop).Methods("PUT")
	api.HandleFunc("/crop/confirm", s.handleConfirmCrop).Methods("POST")

	// Annotation
	api.HandleFunc("/annotate", s.handleOpenAnnotator).Methods("POST")
	api.HandleFunc("/annotate/stroke/begin", s.handleBeginStroke).Methods("POST")
	api.HandleFunc("/annotate/stroke/extend", s.handleExtendStroke).Methods("POST")
	api.HandleFunc("/annotate/stroke/end", s.handleEndStroke).Methods("POST")
	api.HandleFunc("/annotate/clear", s.handleClearAnnotations).Methods("POST")
	api.HandleFunc("/annotate/flatten", s.handleFlatten).Methods("POST")

	// Image and export
	api.HandleFunc("/image", s.handleImage).Methods("GET")
	api.HandleFunc("/image/preview", s.handlePreview).Methods("GET")
	api.HandleFunc("/export", s.handleExport).Methods("POST")

	// Recording
	api.HandleFunc("/recording/start", s.handleStartRecording).Methods("POST")
	api.HandleFunc("/recording/stop", s.handleStopRecording).Methods("POST")
	api.HandleFunc("/recording/export", s.handleExport).Methods("POST")
	api.HandleFunc("/recording/discard", s.handleDiscardRecording).Methods("POST")

	// Live preview
	api.HandleFunc("/stream/start", s.handleStreamStart).Methods("POST")
	api.HandleFunc("/stream/stop", s.handleStreamStop).Methods("POST")
	api.HandleFunc("/stream/stats", s.handleStreamStats).Methods("GET")
	s.router.HandleFunc("/stream", s.handleStream).Methods("GET")

	// Preferences
	api.HandleFunc("/preferences", s.handleGetPreferences).Methods("GET")
	api.HandleFunc("/preferences", s.handleUpdatePreferences).Methods("PUT")
	api.HandleFunc("/preferences/directory", s.handleChooseDirectory).Methods("POST")
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves the API on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusCode maps an error class to an HTTP status. A dismissed chooser is
// informational and answers 200.
func statusCode(st session.Status) int {
	if st.Level == session.LevelInfo {
		return http.StatusOK
	}
	switch st.Kind {
	case session.KindBusy, session.KindState, session.KindAlreadyRecording:
		return http.StatusConflict
	case session.KindGeometry, session.KindSurface:
		return http.StatusBadRequest
	case session.KindCapture:
		return http.StatusBadGateway
	case session.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	st := session.Classify(err)
	code := statusCode(st)
	log := logger.WithComponent("api")
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(st.Kind)).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("kind", string(st.Kind)).Msg("Request rejected")
	}
	writeJSON(w, code, st)
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, session.Status{
		Level:   session.LevelError,
		Kind:    session.KindInternal,
		Message: fmt.Sprintf("invalid request: %v", err),
	})
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// respond writes the session snapshot on success.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, s.session.SetMode(r.Context(), mode))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.session.Reset()
	s.respond(w, nil)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":     snap.Mode,
		"monitors": snap.Monitors,
		"windows":  snap.Windows,
		"selected": snap.Selected,
	})
}

func (s *Server) handleRefreshSources(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RefreshSources(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.handleSources(w, r)
}

func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID uint32 `json:"id"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.ID == 0 {
		s.session.ClearSelection()
		s.respond(w, nil)
		return
	}
	s.respond(w, s.session.Select(req.ID))
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode   string `json:"mode"`
		Source uint32 `json:"source"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	mode := s.session.Mode()
	if req.Mode != "" {
		m, err := session.ParseMode(req.Mode)
		if err != nil {
			writeError(w, err)
			return
		}
		mode = m
	}
	s.respond(w, s.session.RequestCapture(r.Context(), mode, req.Source))
}

func (s *Server) handleCaptureAtCursor(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.CaptureAtCursor(r.Context()))
}

func (s *Server) handleSetCrop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rect    geometry.Rect `json:"rect"`
		Display geometry.Size `json:"display"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	s.respond(w, s.session.SetCropRect(req.Rect, req.Display))
}

func (s *Server) handleConfirmCrop(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.ConfirmCrop())
}

func (s *Server) handleOpenAnnotator(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.OpenAnnotator())
}

type strokeRequest struct {
	Point   geometry.Point  `json:"point"`
	Display geometry.Size   `json:"display"`
	Style   *annotate.Style `json:"style,omitempty"`
}

func (s *Server) handleBeginStroke(w http.ResponseWriter, r *http.Request) {
	var req strokeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Style == nil {
		badRequest(w, errors.New("style is required"))
		return
	}
	s.respond(w, s.session.BeginStroke(req.Point, req.Display, *req.Style))
}

func (s *Server) handleExtendStroke(w http.ResponseWriter, r *http.Request) {
	var req strokeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	s.respond(w, s.session.ExtendStroke(req.Point, req.Display))
}

func (s *Server) handleEndStroke(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.EndStroke())
}

func (s *Server) handleClearAnnotations(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.ClearAnnotations())
}

func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.Flatten())
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	img := s.session.Image()
	if img == nil {
		writeError(w, fmt.Errorf("%w: no image", session.ErrInvalidState))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(img.Len()))
	if _, err := img.WriteTo(w); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write image")
	}
}

// handlePreview serves the image scaled to fit ?width= and ?height=.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	img := s.session.Image()
	if img == nil {
		writeError(w, fmt.Errorf("%w: no image", session.ErrInvalidState))
		return
	}
	maxW, _ := strconv.Atoi(r.URL.Query().Get("width"))
	maxH, _ := strconv.Atoi(r.URL.Query().Get("height"))
	width, height := img.FitWithin(maxW, maxH)

	scaled, err := img.Scaled(width, height)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Native-Width", strconv.Itoa(img.Width()))
	w.Header().Set("X-Native-Height", strconv.Itoa(img.Height()))
	if err := png.Encode(w, scaled); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write preview")
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Cancelled {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    session.Status{Level: session.LevelInfo, Kind: session.KindCancelled, Message: "export cancelled"},
			"cancelled": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": session.Status{Level: session.LevelInfo, Message: "saved to " + res.Path},
		"path":   res.Path,
		"auto":   res.Auto,
	})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.StartRecording(r.Context()))
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	n, err := s.session.StopRecording(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bytes":    n,
		"snapshot": s.session.Snapshot(),
	})
}

func (s *Server) handleDiscardRecording(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.session.DiscardRecording())
}

func (s *Server) streamUnavailable(w http.ResponseWriter) bool {
	if s.streamer != nil && s.output != nil {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, session.Status{
		Level:   session.LevelWarning,
		Kind:    session.KindState,
		Message: "live preview is disabled",
	})
	return true
}

func (s *Server) streamStatus() map[string]interface{} {
	return map[string]interface{}{
		"running":    s.streamer.Running(),
		"monitor_id": s.streamer.MonitorID(),
	}
}

// handleStreamStart streams the requested monitor, else the selected one,
// else the primary.
func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if s.streamUnavailable(w) {
		return
	}
	var req struct {
		MonitorID *uint32 `json:"monitor_id"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
	}
	var id uint32
	switch {
	case req.MonitorID != nil:
		id = *req.MonitorID
	case s.session.Snapshot().Selected != nil && s.session.Mode() != session.ModeWindow:
		id = *s.session.Snapshot().Selected
	}
	if err := s.streamer.Start(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.streamStatus())
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if s.streamUnavailable(w) {
		return
	}
	if err := s.streamer.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.streamStatus())
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	if s.streamUnavailable(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.output.Stats())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.streamUnavailable(w) {
		return
	}
	s.output.ServeHTTP(w, r)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.prefs.Preferences())
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	p := s.prefs.Preferences()
	if err := decode(r, &p); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.prefs.SetPreferences(p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.prefs.Preferences())
}

func (s *Server) handleChooseDirectory(w http.ResponseWriter, r *http.Request) {
	dir, err := s.prefs.ChooseSaveDirectory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"save_directory": dir})
}
