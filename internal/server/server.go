package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"geocode_gateway/internal/limits"
	"geocode_gateway/internal/runtime"
)

// Server owns the HTTP and gRPC listeners of the gateway and the order in
// which they are torn down.
type Server struct {
	HTTPAddr string
	GRPCAddr string

	httpServer   *http.Server
	grpcServer   *grpc.Server
	httpLn       net.Listener
	grpcLn       net.Listener
	limits       limits.Limits
	shutdown     runtime.ShutdownConfig
	inflight     *runtime.InflightTracker
	stoppers     []Stopper
	serveErr     chan error
	shutdownOnce sync.Once
	shutdownErr  error
}

type Stopper interface {
	Stop(ctx context.Context) error
}

type StopFunc func(ctx context.Context) error

func (s StopFunc) Stop(ctx context.Context) error {
	return s(ctx)
}

type Options struct {
	Limits   limits.Limits
	Shutdown runtime.ShutdownConfig
	Inflight *runtime.InflightTracker
	// Stoppers run after both servers have drained.
	Stoppers []Stopper
}

// Start listens on httpAddr and grpcAddr; either may be empty but not both.
// grpcServer is required when grpcAddr is set.
func Start(handler http.Handler, grpcServer *grpc.Server, httpAddr string, grpcAddr string, options Options) (*Server, error) {
	if httpAddr != "" && handler == nil {
		return nil, errors.New("handler is nil")
	}
	if grpcAddr != "" && grpcServer == nil {
		return nil, errors.New("grpc server is nil")
	}

	limitConfig := options.Limits
	if limitConfig.MaxHeaderBytes == 0 {
		limitConfig = limits.Default()
	}
	shutdownConfig := options.Shutdown.WithDefaults()

	srv := &Server{
		limits:   limitConfig,
		shutdown: shutdownConfig,
		inflight: options.Inflight,
		stoppers: options.Stoppers,
		serveErr: make(chan error, 2),
	}

	if httpAddr != "" {
		ln, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return nil, err
		}
		srv.httpLn = ln
		srv.HTTPAddr = addrString(ln)
		srv.httpServer = &http.Server{
			Handler:           handler,
			MaxHeaderBytes:    limitConfig.MaxHeaderBytes,
			ReadHeaderTimeout: limitConfig.ReadHeaderTimeout,
			ReadTimeout:       limitConfig.ReadTimeout,
			WriteTimeout:      limitConfig.WriteTimeout,
			IdleTimeout:       limitConfig.IdleTimeout,
		}
		go srv.serveHTTP()
	}

	if grpcAddr != "" {
		ln, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			srv.closeListeners()
			return nil, err
		}
		srv.grpcLn = ln
		srv.GRPCAddr = addrString(ln)
		srv.grpcServer = grpcServer
		go srv.serveGRPC()
	}

	if srv.httpLn == nil && srv.grpcLn == nil {
		return nil, errors.New("no listeners configured")
	}
	return srv, nil
}

func (s *Server) serveHTTP() {
	if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("http server error: %v", err)
		s.serveErr <- err
	}
}

func (s *Server) serveGRPC() {
	if err := s.grpcServer.Serve(s.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		log.Printf("grpc server error: %v", err)
		s.serveErr <- err
	}
}

// Wait blocks until ctx ends or one of the listeners fails on its own.
func (s *Server) Wait(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.serveErr:
		return err
	}
}

func addrString(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	if s == nil {
		return nil
	}
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdownSequence()
	})
	return s.shutdownErr
}

func (s *Server) shutdownSequence() error {
	if s.shutdown.Drain > 0 {
		time.Sleep(s.shutdown.Drain)
	}

	gracefulCtx, gracefulCancel := context.WithTimeout(context.Background(), s.shutdown.GracefulTimeout)
	defer gracefulCancel()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(gracefulCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			firstErr = err
		}
	}
	grpcDone := make(chan struct{})
	go func() {
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		close(grpcDone)
	}()
	if s.inflight != nil {
		_ = s.inflight.Wait(gracefulCtx)
	}
	select {
	case <-grpcDone:
	case <-gracefulCtx.Done():
	}

	timedOut := gracefulCtx.Err() != nil
	if timedOut && s.shutdown.ForceClose > 0 {
		time.Sleep(s.shutdown.ForceClose)
	}
	if timedOut {
		s.closeServers()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), s.shutdown.GracefulTimeout)
	for _, stopper := range s.stoppers {
		if stopper == nil {
			continue
		}
		if err := stopper.Stop(stopCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	stopCancel()

	if firstErr != nil {
		return firstErr
	}
	if timedOut {
		return gracefulCtx.Err()
	}
	return nil
}

func (s *Server) closeListeners() {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
	}
	if s.grpcLn != nil {
		_ = s.grpcLn.Close()
	}
}

func (s *Server) closeServers() {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
}
