// Package server exposes the intersection over HTTP: the dashboard, per-lane
// MJPEG feeds, the status API and the mode toggle.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/pipeline"
	"github.com/khaledhikmat/traffic-go/service/lgr"
	"github.com/khaledhikmat/traffic-go/service/state"
)

//go:embed web/index.html
var webFS embed.FS

var indexTemplate = template.Must(template.ParseFS(webFS, "web/index.html"))

// StatusPushPeriod is how often /ws/status sends a snapshot.
const StatusPushPeriod = time.Second

type Server struct {
	httpServer *http.Server
	// cancelBase cancels every request context so feeds and sockets end on
	// Shutdown.
	cancelBase context.CancelFunc
	stateSvc   state.IService
	bcast      *pipeline.Broadcaster
	upgrader   websocket.Upgrader
}

func New(bind string, stateSvc state.IService, bcast *pipeline.Broadcaster) *Server {
	r := mux.NewRouter()
	baseCtx, cancelBase := context.WithCancel(context.Background())
	s := &Server{
		httpServer: &http.Server{
			Addr:              bind,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		},
		cancelBase: cancelBase,
		stateSvc:   stateSvc,
		bcast:      bcast,
		upgrader:   websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/video_feed/{direction}", s.handleVideoFeed).Methods(http.MethodGet)
	r.HandleFunc("/snapshot/{direction}.jpg", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/toggle_mode", s.handleToggleMode).Methods(http.MethodPost)
	r.HandleFunc("/ws/status", s.handleStatusSocket).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) ListenAndServe() error       { return s.httpServer.ListenAndServe() }
func (s *Server) Serve(l net.Listener) error { return s.httpServer.Serve(l) }

// Shutdown ends the streaming handlers first, then drains the rest.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data := struct {
		Directions []model.Direction
	}{Directions: model.Directions}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		lgr.Logger.Error("dashboard render failed", slog.Any("error", err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateSvc.Snapshot())
}

type toggleRequest struct {
	Mode *string `json:"mode"`
}

func (s *Server) handleToggleMode(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil || req.Mode == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error"})
		return
	}

	if err := s.stateSvc.SetMode(model.Mode(*req.Mode)); err != nil {
		lgr.Logger.Warn("mode toggle rejected", slog.String("mode", *req.Mode))
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error"})
		return
	}

	mode := s.stateSvc.Mode()
	lgr.Logger.Info("mode switched", slog.String("mode", string(mode)))
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "mode": string(mode)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	dir, err := model.ParseDirection(mux.Vars(r)["direction"])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	jpg, ok := s.bcast.Latest(dir)
	if !ok {
		http.Error(w, "no frame", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jpg)
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	dir, err := model.ParseDirection(mux.Vars(r)["direction"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	sub, err := s.bcast.Subscribe(dir)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer sub.Unsubscribe()

	mw := NewMJPEGWriter(w)
	flusher, _ := w.(http.Flusher)

	// Commit the headers so the viewer sees the stream before the first frame.
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	for frame := range sub.Frames(r.Context()) {
		if err := mw.WriteFrame(frame); err != nil {
			lgr.Logger.Debug("mjpeg viewer gone",
				slog.String("direction", string(dir)),
				slog.String("subscriber", sub.ID),
				slog.Any("error", err),
			)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		lgr.Logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close messages are noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(StatusPushPeriod)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.stateSvc.Snapshot()); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				lgr.Logger.Debug("websocket write failed", slog.Any("error", err))
			}
			return
		}

		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		lgr.Logger.Warn("failed to encode json response", slog.Any("error", err))
	}
}
