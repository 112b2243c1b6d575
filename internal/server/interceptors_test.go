package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

func TestCheckBearer(t *testing.T) {
	tests := []struct {
		header string
		want   error
	}{
		{"", errMissingAuth},
		{"Basic secret", errAuthScheme},
		{"Bearer wrong", errBadToken},
		{"Bearer ", errBadToken},
		{"Bearer secret", nil},
	}
	for _, tt := range tests {
		if got := checkBearer(tt.header, "secret"); !errors.Is(got, tt.want) {
			t.Errorf("checkBearer(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestAuthInterceptor(t *testing.T) {
	const method = "/livesite.v1.Content/Set"
	tests := []struct {
		name   string
		token  string
		method string
		md     metadata.MD
		want   codes.Code
	}{
		{"disabled", "", method, nil, codes.OK},
		{"health exempt", "secret", healthMethodPrefix + "Check", nil, codes.OK},
		{"missing metadata", "secret", method, nil, codes.Unauthenticated},
		{"missing header", "secret", method, metadata.Pairs("other", "value"), codes.Unauthenticated},
		{"wrong token", "secret", method, metadata.Pairs("authorization", "Bearer wrong"), codes.Unauthenticated},
		{"invalid scheme", "secret", method, metadata.Pairs("authorization", "Basic secret"), codes.Unauthenticated},
		{"correct token", "secret", method, metadata.Pairs("authorization", "Bearer secret"), codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			resp, err := AuthInterceptor(tt.token)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, stubHandler)
			if got := status.Code(err); got != tt.want {
				t.Fatalf("code = %v, want %v", got, tt.want)
			}
			if tt.want == codes.OK && resp != "ok" {
				t.Fatalf("expected 'ok', got %v", resp)
			}
		})
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	panicky := func(context.Context, any) (any, error) { panic("boom") }
	_, err := RecoveryInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, panicky)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	resp, err := LoggingInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, stubHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("got (%v, %v)", resp, err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	tests := []struct {
		name   string
		token  string
		target string
		header string
		want   int
	}{
		{"disabled", "", "/v1/sessions", "", http.StatusOK},
		{"no header", "secret", "/v1/sessions", "", http.StatusUnauthorized},
		{"wrong token", "secret", "/v1/sessions", "Bearer wrong", http.StatusUnauthorized},
		{"invalid scheme", "secret", "/v1/sessions", "Basic secret", http.StatusUnauthorized},
		{"correct token", "secret", "/v1/sessions", "Bearer secret", http.StatusOK},
		{"query token", "secret", "/v1/ws?token=secret", "", http.StatusOK},
		{"wrong query token", "secret", "/v1/ws?token=nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tt.token, ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d; body: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
