package grpcapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported through the health service alongside "".
const ServiceName = "telemetra.v1.API"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server hosts the gRPC health and identity services behind the auth
// interceptors.
type Server struct {
	grpc      *grpc.Server
	health    *health.Server
	readiness ReadinessChecker
	logger    *zap.Logger
}

// New creates the gRPC server. Extra options are appended after the
// interceptor chain.
func New(authz Authorizer, readiness ReadinessChecker, logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			RequestIDUnaryInterceptor(),
			LoggingUnaryInterceptor(logger),
			AuthUnaryInterceptor(authz),
		),
		grpc.ChainStreamInterceptor(AuthStreamInterceptor(authz)),
	}
	s := &Server{
		grpc:      grpc.NewServer(append(base, opts...)...),
		health:    health.NewServer(),
		readiness: readiness,
		logger:    logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&identityServiceDesc, identityService{})
	s.setServing(false)
	return s
}

// Registrar exposes the underlying server for service registration.
func (s *Server) Registrar() grpc.ServiceRegistrar { return s.grpc }

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop marks the server not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Probe checks readiness once and publishes the result to the health
// service.
func (s *Server) Probe(ctx context.Context) bool {
	ok := true
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.logger.Warn("grpc readiness probe failed", zap.Error(err))
			ok = false
		}
	}
	s.setServing(ok)
	return ok
}

// WatchReadiness probes every interval until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		s.Probe(probeCtx)
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
