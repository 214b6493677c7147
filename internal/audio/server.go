package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/storylens/core/logger"
)

// Handler serves files from the store directory under its route.
func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	fs := http.StripPrefix(s.Route+"/", http.FileServer(http.Dir(s.Dir)))
	mux.Handle(s.Route+"/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no directory listings
		if r.URL.Path == s.Route+"/" {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	}))
	return mux
}

// Server hosts the clip directory.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and starts serving in the background.
func (s *Store) Listen(ctx context.Context, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("audio: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.LogAttrs(context.Background(), slog.LevelError, "audio.serve",
				slog.String("component", "audio"),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}()
	logger.L.LogAttrs(ctx, slog.LevelInfo, "audio.listen",
		slog.String("component", "audio"),
		slog.String("status", "ok"),
		slog.String("listen", ln.Addr().String()),
		slog.String("public_url", s.BaseURL+s.Route),
	)
	return &Server{srv: srv, ln: ln}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
