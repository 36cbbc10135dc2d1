package grpcapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"telemetra.io/internal/audit"
	"telemetra.io/internal/auth"
	"telemetra.io/internal/ids"
)

const (
	authorizationKey = "authorization"
	requestIDKey     = "x-request-id"
	healthPrefix     = "/grpc.health.v1.Health/"
)

// Authorizer resolves an access token into an identity.
type Authorizer interface {
	AuthorizeRequest(ctx context.Context, accessToken string) (auth.Identity, error)
}

func isPublic(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, healthPrefix)
}

// AuthUnaryInterceptor authenticates "authorization: Bearer" metadata on
// every method except the health service.
func AuthUnaryInterceptor(authz Authorizer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublic(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, authz)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// AuthStreamInterceptor is the streaming counterpart of AuthUnaryInterceptor.
func AuthStreamInterceptor(authz Authorizer) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublic(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), authz)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, authz Authorizer) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "authorization header missing")
	}
	header := strings.TrimSpace(values[0])
	const bearer = "bearer "
	if len(header) <= len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ctx, status.Error(codes.Unauthenticated, "invalid authorization format")
	}
	identity, err := authz.AuthorizeRequest(ctx, strings.TrimSpace(header[len(bearer):]))
	if err != nil {
		return ctx, StatusFromError(err)
	}
	return auth.ContextWithIdentity(ctx, identity), nil
}

// RequestIDUnaryInterceptor carries x-request-id metadata into the audit
// context, minting one when absent or malformed.
func RequestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(requestIDKey); len(v) > 0 {
				id = strings.TrimSpace(v[0])
			}
		}
		if !ids.Valid(id) {
			id = ids.New()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, id))
		return handler(audit.WithRequestID(ctx, id), req)
	}
}

// LoggingUnaryInterceptor logs the method, code and latency of every call.
func LoggingUnaryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("grpc_method", info.FullMethod),
			zap.String("grpc_code", status.Code(err).String()),
			zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
		}
		if err != nil && status.Code(err) == codes.Internal {
			log.Error("grpc_request_complete", append(fields, zap.Error(err))...)
		} else {
			log.Info("grpc_request_complete", fields...)
		}
		return resp, err
	}
}

// RecoveryUnaryInterceptor turns handler panics into codes.Internal.
func RecoveryUnaryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc handler panic", zap.String("grpc_method", info.FullMethod), zap.Any("panic", r))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// StatusFromError maps auth sentinels onto gRPC status codes.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidAccessToken),
		errors.Is(err, auth.ErrInvalidRefreshToken):
		return status.Error(codes.Unauthenticated, "could not validate credentials")
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, "invalid input")
	case errors.Is(err, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
