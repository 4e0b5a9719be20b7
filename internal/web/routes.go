package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/web/handlers"
	"github.com/kozaktomas/facewatch/internal/web/middleware"
	"github.com/kozaktomas/facewatch/internal/web/static"
)

// apiTimeout bounds non-streaming API requests.
const apiTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	deps := s.deps
	streamHandler := handlers.NewStreamHandler(deps.Session, s.log, middleware.CheckWebSocketOrigin(s.config.Web.AllowedOrigins))
	settingsHandler := handlers.NewSettingsHandler(deps.Session, s.log)
	identitiesHandler := handlers.NewIdentitiesHandler(deps.Gallery, deps.Store, deps.Session, s.log)
	attendanceHandler := handlers.NewAttendanceHandler(deps.Collator, deps.Session.StreamResults, s.config.Attendance.OutputPath, s.log)
	healthHandler := handlers.NewHealthHandler(deps.Embedder, database.BackendName)

	// Browser routes used by the viewer and settings pages
	s.router.Post("/start", streamHandler.Start)
	s.router.Post("/end", streamHandler.End)
	s.router.Get("/checkAlive", streamHandler.CheckAlive)
	s.router.Get("/vidFeed", streamHandler.VideoFeed)
	s.router.Get("/frResults", streamHandler.Results)
	s.router.Post("/submit", settingsHandler.Submit)
	s.router.Get("/settings", s.servePage("/settings.html"))

	// Attendance routes used by the collator frontend
	s.router.Post("/initData", attendanceHandler.UploadRoster)
	s.router.Post("/startCollate", attendanceHandler.StartCollate)
	s.router.Get("/stopCollate", attendanceHandler.StopCollate)
	s.router.Get("/changeAttendance", attendanceHandler.ChangeAttendance)
	s.router.Get("/fetchAttendance", attendanceHandler.Fetch)
	s.router.Get("/getCount", attendanceHandler.Count)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Streaming endpoints run for as long as the stream does
		r.Get("/results/events", streamHandler.Events)
		r.Get("/results/ws", streamHandler.WebSocket)
		r.Get("/results", streamHandler.Results)
		r.Get("/stream/frames", streamHandler.VideoFeed)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(apiTimeout))

			r.Get("/health", healthHandler.Check)

			// Stream control
			r.Get("/stream", streamHandler.Status)
			r.Post("/stream/start", streamHandler.Start)
			r.Post("/stream/stop", streamHandler.End)

			// Settings
			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)

			// Identities
			r.Get("/identities", identitiesHandler.List)
			r.Post("/identities/load", identitiesHandler.Load)

			// Attendance
			r.Get("/attendance", attendanceHandler.Fetch)
			r.Get("/attendance/count", attendanceHandler.Count)
			r.Post("/attendance/roster", attendanceHandler.UploadRoster)
			r.Post("/attendance/mark", attendanceHandler.ChangeAttendance)
			r.Get("/attendance/sources", attendanceHandler.Sources)
			r.Post("/attendance/collate", attendanceHandler.StartCollate)
			r.Post("/attendance/collate/stop", attendanceHandler.StopCollate)
		})
	})

	s.router.Get("/*", s.serveStatic)
}

// contentType maps static file extensions to their content type.
func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		return "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		return "application/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".ico"):
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}

// servePage returns a handler that always serves one embedded page.
func (s *Server) servePage(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.writeStatic(w, path) {
			http.NotFound(w, r)
		}
	}
}

// serveStatic serves embedded files, falling back to index.html.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}
	if s.writeStatic(w, path) {
		return
	}
	if !strings.Contains(path[1:], ".") && s.writeStatic(w, "/index.html") {
		return
	}
	http.NotFound(w, r)
}

func (s *Server) writeStatic(w http.ResponseWriter, path string) bool {
	data, err := static.Page(path)
	if err != nil {
		return false
	}
	w.Header().Set("Content-Type", contentType(path))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	return true
}
