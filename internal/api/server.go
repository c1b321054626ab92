package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take to drain.
const shutdownTimeout = 5 * time.Second

// Server hosts the Service on an HTTP and a gRPC listener.
type Server struct {
	svc      *Service
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
}

// NewServer creates a Server for svc. An empty address disables that
// listener.
func NewServer(svc *Service, httpAddr, grpcAddr string) *Server {
	s := &Server{
		svc:      svc,
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		log:      svc.log,
		httpServer: &http.Server{
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpcServer: grpc.NewServer(),
	}
	svc.RegisterGRPC(s.grpcServer)
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var httpLn, grpcLn net.Listener
	var err error
	if s.httpAddr != "" {
		if httpLn, err = net.Listen("tcp", s.httpAddr); err != nil {
			return err
		}
	}
	if s.grpcAddr != "" {
		if grpcLn, err = net.Listen("tcp", s.grpcAddr); err != nil {
			if httpLn != nil {
				httpLn.Close()
			}
			return err
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves on already-open listeners; a nil listener is skipped. It
// returns after both servers have stopped.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if httpLn != nil {
		g.Go(func() error {
			s.log.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if grpcLn != nil {
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down servers")

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	err := s.httpServer.Shutdown(ctx)

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	return err
}
