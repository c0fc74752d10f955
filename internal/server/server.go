// Package server exposes the voice-chat sessions over HTTP.
//
// Routes:
//
//	GET /ws        websocket; one session per connection
//	GET /          static_dir/index.html
//	GET /static/   files under static_dir
//	GET /debug     static file listing and active sessions
//	GET /healthz   liveness
//	GET /readyz    readiness
//	GET /metrics   Prometheus exposition
//
// Every route is wrapped in [observe.Middleware].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/session"
)

const (
	// DefaultWriteTimeout bounds a single websocket write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit is the largest frame accepted from a client. One
	// binary frame carries a whole utterance.
	DefaultReadLimit = 32 << 20
)

// Config holds the dependencies of a [Server].
type Config struct {
	Manager *session.Manager
	Health  *health.Handler

	// MetricsHandler serves /metrics. The route is omitted when nil.
	MetricsHandler http.Handler

	// StaticDir is served at / and /static/. Empty disables both routes.
	StaticDir string

	// OriginPatterns are passed to websocket.Accept for cross-origin
	// browser clients.
	OriginPatterns []string

	WriteTimeout time.Duration
	ReadLimit    int64

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP front of the voice-chat service.
type Server struct {
	cfg     Config
	log     *slog.Logger
	handler http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, log: cfg.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /debug", s.handleDebug)
	if cfg.StaticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
		mux.HandleFunc("GET /{$}", s.handleIndex)
	}
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		log.Debug("websocket accept failed", "err", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	conn := NewConn(ws, s.cfg.WriteTimeout)
	sess, err := s.cfg.Manager.Open(r.Context(), conn)
	if err != nil {
		status := websocket.StatusInternalError
		if errors.Is(err, session.ErrTooManySessions) || errors.Is(err, session.ErrShuttingDown) {
			status = websocket.StatusTryAgainLater
		}
		log.Warn("session rejected", "err", err)
		_ = ws.Close(status, err.Error())
		return
	}

	s.readLoop(r.Context(), ws, sess)
}

// readLoop feeds client frames to sess until the connection ends, then
// disconnects the session.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, sess *session.Session) {
	log := s.log.With("session_id", sess.ID())
	defer func() {
		if err := sess.OnDisconnect(); err != nil {
			log.Debug("session teardown", "err", err)
		}
	}()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				log.Debug("client closed connection", "status", status)
			case !sess.Connected():
				// Closed by the server side, e.g. during shutdown.
			default:
				log.Info("websocket read ended", "err", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			sess.OnBinaryMessage(ctx, data)
		case websocket.MessageText:
			sess.OnTextMessage(ctx, data)
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

// DebugInfo is the body of GET /debug.
type DebugInfo struct {
	StaticDir    string         `json:"static_dir"`
	StaticExists bool           `json:"static_exists"`
	StaticFiles  []string       `json:"static_files"`
	Sessions     []session.Info `json:"sessions"`
	Error        string         `json:"error,omitempty"`
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	info := DebugInfo{
		StaticDir:   s.cfg.StaticDir,
		StaticFiles: []string{},
		Sessions:    s.cfg.Manager.Sessions(),
	}
	if s.cfg.StaticDir != "" {
		files, err := listFiles(s.cfg.StaticDir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			info.Error = err.Error()
		default:
			info.StaticExists = true
			info.StaticFiles = files
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.log.Debug("write debug response", "err", err)
	}
}

// listFiles returns the slash-separated paths of all regular files under
// root, relative to root and sorted.
func listFiles(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	files := []string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
