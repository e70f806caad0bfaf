package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/metrics"
	smw "git.home.luguber.info/inful/storydev/internal/server/middleware"
)

// Channel endpoint paths.
const (
	ChannelPath    = channel.Path
	ChannelSSEPath = channel.EventsPath
)

// Params wires a Server.
type Params struct {
	Options *config.Options
	Channel *channel.Channel
	// Index may be nil when indexing is disabled.
	Index IndexSource
	// Registry backs /metrics when monitoring is enabled.
	Registry  *prom.Registry
	ProjectID func() string
	Logger    *slog.Logger
}

// Server owns the listener and the router.
type Server struct {
	opts    *config.Options
	ch      *channel.Channel
	router  chi.Router
	routes  *Routes
	logger  *slog.Logger
	adapter *ferrors.HTTPErrorAdapter

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	serveErr chan error
}

// New builds the router. Static directories are checked here, so a missing
// one fails before anything binds.
func New(p Params) (*Server, error) {
	if p.Options == nil || p.Channel == nil {
		return nil, ferrors.ValidationError("server requires options and a channel").Build()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adapter := ferrors.NewHTTPErrorAdapter(logger)
	opts := p.Options

	static, err := newStaticDirs(opts.StaticDirs, opts.ConfigDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:    opts,
		ch:      p.Channel,
		logger:  logger,
		adapter: adapter,
		routes:  newRoutes(static),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(smw.Chain(logger, adapter))
	r.Use(smw.CORS)
	if opts.Features.CrossOriginIsolated {
		r.Use(smw.CrossOriginIsolation)
	}
	r.Use(chimw.Compress(5))

	r.Handle(ChannelPath, channel.NewWebSocketHandler(p.Channel))
	r.Handle(ChannelSSEPath, channel.NewSSEHandler(p.Channel))

	ih := &indexHandlers{src: p.Index, legacy: opts.Features.V2Compatibility, adapter: adapter}
	r.Get("/index.json", ih.index)
	r.Get("/stories.json", ih.stories)

	if !opts.Core.DisableProjectJSON {
		projectID := p.ProjectID
		if projectID == nil {
			projectID = func() string { return "" }
		}
		r.Get("/project.json", projectHandler(opts, projectID))
	}
	if opts.Monitoring.Metrics.Enabled {
		r.Handle(opts.Monitoring.Metrics.Path, metrics.HTTPHandler(p.Registry))
	}

	r.NotFound(s.routes.ServeHTTP)
	r.MethodNotAllowed(s.routes.ServeHTTP)
	s.router = r
	return s, nil
}

// Routes is where build subsystems register their handlers.
func (s *Server) Routes() *Routes { return s.routes }

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the configured address. An address already in use yields a
// network error carrying "EADDRINUSE".
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	addr := net.JoinHostPort(s.opts.Server.Host, strconv.Itoa(s.opts.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return ferrors.NetworkError("EADDRINUSE").
				WithContext("address", addr).
				WithCause(err).
				Build()
		}
		return ferrors.NetworkError("failed to bind listener").
			WithContext("address", addr).
			WithCause(err).
			Build()
	}
	s.ln = ln
	s.logger.Debug("Listener bound", logfields.Address(ln.Addr().String()))
	return nil
}

// Serve starts serving on the bound listener in the background.
func (s *Server) Serve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ferrors.RuntimeError("serve called before listen").Build()
	}
	if s.srv != nil {
		return nil
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}
	s.serveErr = make(chan error, 1)
	srv, ln, errCh := s.srv, s.ln, s.serveErr
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
		close(errCh)
	}()
	return nil
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return 0
	}
	if tcp, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Address is the local URL shown to the user.
func (s *Server) Address() string {
	host := s.opts.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, strconv.Itoa(s.Port())))
}

// NetworkAddress is the URL reachable from other machines, or "" when the
// host has no usable interface address.
func (s *Server) NetworkAddress() string {
	ip := s.opts.Server.Host
	if ip == "" || ip == "0.0.0.0" || ip == "::" {
		ip = lanIP()
	}
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(ip, strconv.Itoa(s.Port())))
}

func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() {
			continue
		}
		if v4 := ipn.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

// Wait blocks until the server stops and returns its serve error.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()
	if errCh == nil {
		return nil
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the channel clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.ch.Close()

	s.mu.Lock()
	srv, ln := s.srv, s.ln
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
	}
	// Shutdown only closes listeners Serve has already picked up; the port
	// must be free once Stop returns.
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
