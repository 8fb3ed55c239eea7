package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/felixgeelhaar/keepsake/internal/observe"
)

// Server exposes registry entries over HTTP so external players can stream
// stored blobs. Revoked references answer 404.
type Server struct {
	registry *Registry
	observe  *observe.Observer
	router   *mux.Router
	http     *http.Server
	listener net.Listener
}

func NewServer(reg *Registry, obs *observe.Observer) *Server {
	if obs == nil {
		obs = observe.Discard()
	}
	s := &Server{registry: reg, observe: obs, router: mux.NewRouter()}
	s.router.HandleFunc("/blob/{id}", s.serveBlob).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return s
}

// ServeHTTP makes Server usable as a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.registry.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if rec.MimeType != "" {
		w.Header().Set("Content-Type", rec.MimeType)
	}
	http.ServeContent(w, r, rec.OriginalName, time.Time{}, bytes.NewReader(rec.Payload))
}

// Start listens on addr and points the registry at the bound address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.registry.SetBaseURL("http://" + ln.Addr().String())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.observe.Log().Error().Err(err).Msg("media server stopped")
		}
	}()
	s.observe.Log().Info().Str("addr", ln.Addr().String()).Msg("media server listening")
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.registry.SetBaseURL("")
	return s.http.Shutdown(ctx)
}
