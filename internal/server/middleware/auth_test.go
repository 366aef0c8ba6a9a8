package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/holst/internal/auth"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError,
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

func testAuthorizer() auth.Authorizer {
	return auth.NewStatic(map[string]auth.StaticToken{
		"valid-token": {Identity: auth.Identity{UserID: "user-1", Name: "Alice"}},
		"scoped-token": {
			Identity:  auth.Identity{UserID: "user-2"},
			Documents: []string{"doc-other"},
		},
	})
}

// testRequest создает запрос с mux-переменной documentID.
func testRequest(documentID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+documentID+"/snapshots", nil)
	return mux.SetURLVars(req, map[string]string{"documentID": documentID})
}

func TestAuthMiddleware_Success(t *testing.T) {
	logger := setupTestLogger()

	authMiddleware := AuthMiddleware(logger, testAuthorizer())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		require.True(t, ok, "identity should be in context")
		assert.Equal(t, "user-1", identity.UserID)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	wrappedHandler := authMiddleware(handler)

	req := testRequest("doc-1")
	req.Header.Set("Authorization", "Bearer valid-token")

	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestAuthMiddleware_MissingAuthHeader(t *testing.T) {
	logger := setupTestLogger()

	authMiddleware := AuthMiddleware(logger, testAuthorizer())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("Handler should not be called")
	})
	wrappedHandler := authMiddleware(handler)

	req := testRequest("doc-1")
	// No Authorization header

	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing token")
}

func TestAuthMiddleware_InvalidAuthHeaderFormat(t *testing.T) {
	logger := setupTestLogger()

	authMiddleware := AuthMiddleware(logger, testAuthorizer())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("Handler should not be called")
	})
	wrappedHandler := authMiddleware(handler)

	tests := []struct {
		name   string
		header string
	}{
		{
			name:   "no bearer prefix",
			header: "valid-token",
		},
		{
			name:   "wrong scheme",
			header: "Basic dXNlcjpwYXNz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest("doc-1")
			req.Header.Set("Authorization", tt.header)

			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "invalid token format")
		})
	}
}

func TestAuthMiddleware_UnknownToken(t *testing.T) {
	logger := setupTestLogger()

	authMiddleware := AuthMiddleware(logger, testAuthorizer())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("Handler should not be called")
	})
	wrappedHandler := authMiddleware(handler)

	req := testRequest("doc-1")
	req.Header.Set("Authorization", "Bearer bogus")

	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ForbiddenDocument(t *testing.T) {
	logger := setupTestLogger()

	authMiddleware := AuthMiddleware(logger, testAuthorizer())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("Handler should not be called")
	})
	wrappedHandler := authMiddleware(handler)

	// Токен дает доступ только к doc-other.
	req := testRequest("doc-1")
	req.Header.Set("Authorization", "Bearer scoped-token")

	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetIdentity_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	identity, ok := GetIdentity(req.Context())
	assert.False(t, ok)
	assert.Nil(t, identity)
}
