package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// healthMethodPrefix covers the grpc.health.v1 service, which is never
// authenticated and logged only at debug level.
const healthMethodPrefix = "/grpc.health.v1.Health/"

var (
	errMissingAuth = errors.New("missing authorization header")
	errAuthScheme  = errors.New("invalid authorization scheme")
	errBadToken    = errors.New("invalid token")
)

// checkBearer validates an Authorization header value against token.
func checkBearer(header, token string) error {
	if header == "" {
		return errMissingAuth
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errAuthScheme
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return errBadToken
	}
	return nil
}

// requestAuth returns the Authorization header, falling back to a token
// query parameter for browser push clients that cannot set headers.
func requestAuth(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return "Bearer " + t
	}
	return ""
}

// authorized reports whether r carries the admin token. It is always true
// when auth is disabled.
func (s *Server) authorized(r *http.Request) bool {
	return s.authToken == "" || checkBearer(requestAuth(r), s.authToken) == nil
}

// AuthMiddleware wraps an http.Handler and requires a valid bearer token.
// When token is empty, auth is disabled and all requests pass through.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := checkBearer(requestAuth(r), token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggingInterceptor logs the method, duration and status code of every
// unary RPC. Health checks are logged at debug level.
func LoggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	level := slog.LevelInfo
	switch {
	case err != nil:
		level = slog.LevelError
	case strings.HasPrefix(info.FullMethod, healthMethodPrefix):
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "rpc completed",
		"method", info.FullMethod,
		"duration", time.Since(start),
		"code", status.Code(err).String(),
		"error", err,
	)
	return resp, err
}

// RecoveryInterceptor turns a panic in a handler into codes.Internal and
// logs the stack.
func RecoveryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered in gRPC handler",
				"method", info.FullMethod,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// AuthInterceptor requires a bearer token in the "authorization" metadata.
// When token is empty, auth is disabled. Health checks are always exempt.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if token == "" || strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		if err := checkBearer(header, token); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}
