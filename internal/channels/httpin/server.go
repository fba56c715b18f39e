// Package httpin is the HTTP input channel. GET /<digits> drives the
// mnemonics or the key composer, GET /request/<text> and POST / submit a
// request, POST /continue and POST /abort answer a pending checkpoint.
package httpin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wearnotify/internal/channels"
	"wearnotify/internal/dispatch"
	"wearnotify/internal/metrics"
	"wearnotify/internal/runtime/supervisor"
	"wearnotify/pkg/logx"
)

const (
	Name        = "http"
	DefaultAddr = "127.0.0.1:8750"

	requestPrefix = "request/"
)

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Metrics is mounted on /metrics when set.
	Metrics *metrics.Metrics
	// Pprof mounts the runtime profiler under /debug.
	Pprof bool
}

type Server struct {
	opts     Options
	log      logx.Logger
	gate     *dispatch.Gate
	mnem     *dispatch.Mnemonics
	queue    *channels.Queue
	composer *Composer

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(opts Options, d channels.Dispatcher, gate *dispatch.Gate, mnem *dispatch.Mnemonics, notify Notifier, log logx.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("component", "http"))
	s := &Server{
		opts:  opts,
		log:   log,
		gate:  gate,
		mnem:  mnem,
		queue: channels.NewQueue(d, gate.Continuation(), 16, log),
	}
	s.composer = NewComposer(gate, notify, func(text string) bool {
		return s.queue.Enqueue(channels.Request{Input: text})
	}, log)
	return s
}

func (s *Server) Name() string { return Name }

// Composer exposes the key composer.
func (s *Server) Composer() *Composer { return s.composer }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.opts.Metrics.Collect)
	r.Use(s.logRequests)

	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	if s.opts.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	r.Post("/continue", s.release(true))
	r.Post("/abort", s.release(false))
	r.Post("/", s.postRequest)
	r.Get("/*", s.getPath)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) getPath(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}
	switch {
	case p == "":
		fmt.Fprintf(w, "%s is running; mnemonic mode %d\n", Name, s.mnem.Mode())
	case channels.IsDigits(p):
		if s.mnem.Mode() == dispatch.ModeCompose {
			if !s.composer.Handle(r.Context(), p) {
				http.Error(w, "unknown key", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
			return
		}
		s.accept(w, channels.Request{Input: p, Opts: channels.DigitOptions})
	case strings.HasPrefix(p, requestPrefix):
		s.accept(w, channels.Request{Input: strings.TrimPrefix(p, requestPrefix)})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) postRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	text := r.FormValue("request")
	if text == "" {
		text = r.FormValue("data")
	}
	if strings.TrimSpace(text) == "" {
		http.Error(w, "empty request", http.StatusBadRequest)
		return
	}
	s.accept(w, channels.Request{Input: text})
}

func (s *Server) accept(w http.ResponseWriter, req channels.Request) {
	if !s.queue.Enqueue(req) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "accepted")
}

func (s *Server) release(proceed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.Release(proceed) {
			http.Error(w, "nothing is waiting", http.StatusConflict)
			return
		}
		fmt.Fprintln(w, "ok")
	}
}

// Init binds the listener.
func (s *Server) Init(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}
	return nil
}

// Addr reports the bound address once Init succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	srv, ln := s.srv, s.ln
	s.mu.Unlock()

	sup := supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(true))
	sup.Go("http.queue", s.queue.Run)
	sup.Go("http.serve", func(context.Context) error {
		s.log.Info("http input listening", logx.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	<-sup.Context().Done()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.Err(err))
	}
	sup.Cancel()
	return sup.Wait(shutdownCtx)
}

func (s *Server) Exit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	return nil
}
