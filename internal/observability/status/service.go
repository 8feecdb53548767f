// Package status serves a small read-only HTTP endpoint for watching a long
// run: liveness, named JSON views (progress, chain state) and, optionally,
// net/http/pprof.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	"crawlchain/internal/runtime/supervisor"
	logx "crawlchain/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6061"

var ErrInsecureBind = errors.New("status: non-loopback addr requires a token")

// Config controls the status server.
//
// Binding to a non-loopback address requires Token; requests then carry
// "Authorization: Bearer <token>" or "?token=<token>".
type Config struct {
	Addr  string
	Token string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// ViewFunc renders one JSON view.
type ViewFunc func(ctx context.Context) (any, error)

type Service struct {
	cfg Config
	log logx.Logger

	mu    sync.RWMutex
	views map[string]ViewFunc

	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "status")), views: map[string]ViewFunc{}}
}

// Handle registers (or with a nil fn, removes) the view served at /<name>.
func (s *Service) Handle(name string, fn ViewFunc) {
	name = strings.Trim(name, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.views, name)
		return
	}
	s.views[name] = fn
}

// Start listens synchronously so bind errors reach the caller, then serves
// until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		return ErrInsecureBind
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.withAuth(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/", s.withAuth(s.serveView))
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", s.withAuth(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", s.withAuth(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", s.withAuth(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", s.withAuth(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", s.withAuth(hpprof.Trace))
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))

	s.mu.Lock()
	s.ln, s.srv, s.sup = ln, srv, sup
	s.mu.Unlock()

	sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	sup.Go0("http.shutdown", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})

	s.log.Info("status server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof), logx.Bool("token_set", s.cfg.Token != ""))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup, s.srv, s.ln = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	return sup.Wait(ctx)
}

func (s *Service) serveView(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(r.URL.Path, "/")

	s.mu.RLock()
	fn, ok := s.views[name]
	var names []string
	if name == "" {
		for n := range s.views {
			names = append(names, n)
		}
	}
	s.mu.RUnlock()

	if name == "" {
		sort.Strings(names)
		writeJSON(w, http.StatusOK, map[string]any{"views": names})
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	v, err := fn(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (s *Service) withAuth(h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
