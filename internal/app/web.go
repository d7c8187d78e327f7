package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/sim"
	"github.com/relabs-tech/quad_controller/internal/telemetry"
)

// ErrResponse is the JSON body of every API error.
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusBadRequest, StatusText: "invalid request", ErrorText: err.Error()}
}

var ErrNoTelemetry = &ErrResponse{HTTPStatusCode: http.StatusServiceUnavailable, StatusText: "no telemetry yet"}

// Health summarizes the controller for monitoring.
type Health struct {
	Status  string         `json:"status"` // ok, degraded, faulted or waiting
	Flags   []string       `json:"flags"`
	Arm     input.ArmState `json:"arm"`
	Seq     uint64         `json:"seq"`
	Age     string         `json:"age,omitempty"`
	Clients int            `json:"ws_clients"`
	Uptime  string         `json:"uptime"`
}

// PilotRequest is the body of POST /api/pilot.
type PilotRequest struct {
	Pad  *input.Pad `json:"pad"`
	Link *bool      `json:"link,omitempty"`
}

func (p *PilotRequest) Bind(r *http.Request) error {
	if p.Pad == nil && p.Link == nil {
		return errors.New("pad or link is required")
	}
	return nil
}

// StatusServer exposes the latest telemetry over HTTP and a websocket. When a
// simulated pilot is attached it also accepts stick input.
type StatusServer struct {
	hub     *telemetry.Hub
	pilot   *sim.Pilot
	started time.Time
	now     func() time.Time
}

// NewStatusServer serves records published to hub. pilot may be nil.
func NewStatusServer(hub *telemetry.Hub, pilot *sim.Pilot) *StatusServer {
	return &StatusServer{hub: hub, pilot: pilot, started: time.Now(), now: time.Now}
}

// Router builds the HTTP routes. staticDir, if set, is served at /.
func (s *StatusServer) Router(staticDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/telemetry", s.telemetry)
		r.Get("/health", s.health)
		if s.pilot != nil {
			r.Get("/pilot", s.getPilot)
			r.Post("/pilot", s.setPilot)
		}
	})
	r.Get("/ws", s.hub.ServeHTTP)

	if staticDir != "" {
		FileServer(r, "/", http.Dir(staticDir))
	}
	return r
}

func (s *StatusServer) telemetry(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.hub.Latest()
	if !ok {
		render.Render(w, r, ErrNoTelemetry)
		return
	}
	render.JSON(w, r, rec)
}

func (s *StatusServer) health(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:  "waiting",
		Flags:   []string{},
		Clients: s.hub.Clients(),
		Uptime:  s.now().Sub(s.started).Truncate(time.Second).String(),
	}
	if rec, ok := s.hub.Latest(); ok {
		h.Seq = rec.Seq
		h.Arm = rec.Arm
		h.Flags = rec.Status.Names()
		h.Age = s.now().Sub(rec.Time).Truncate(time.Millisecond).String()
		switch {
		case rec.Status.Has(telemetry.StatusFaulted):
			h.Status = "faulted"
		case len(h.Flags) > 0:
			h.Status = "degraded"
		default:
			h.Status = "ok"
		}
	}
	if h.Status == "faulted" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, h)
}

func (s *StatusServer) getPilot(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.pilot.Pad())
}

func (s *StatusServer) setPilot(w http.ResponseWriter, r *http.Request) {
	data := &PilotRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if data.Pad != nil {
		s.pilot.Set(*data.Pad)
	}
	if data.Link != nil {
		s.pilot.Link(*data.Link)
	}
	render.JSON(w, r, s.pilot.Pad())
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	})
}

// Serve runs the status server on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Printf("web: status server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("web: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		return nil
	}
}
