package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/avdeyev/holst/internal/auth"
)

// contextKey тип для ключей контекста
type contextKey string

// IdentityKey ключ подтвержденной личности в контексте запроса
const IdentityKey contextKey = "identity"

// GetIdentity извлекает подтвержденную личность из контекста запроса
func GetIdentity(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*auth.Identity)
	return identity, ok
}

// AuthMiddleware создает middleware аудиторских эндпоинтов: bearer-токен
// проверяется авторизатором вместе с правом доступа к документу из пути.
func AuthMiddleware(logger *slog.Logger, authorizer auth.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем токен из заголовка Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header")
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("Invalid Authorization header format")
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			documentID := mux.Vars(r)["documentID"]

			identity, err := authorizer.Authorize(r.Context(), parts[1], documentID)
			if err != nil {
				logger.Warn("Authorization failed",
					"document_id", documentID, "error", err)
				status := http.StatusUnauthorized
				if errors.Is(err, auth.ErrForbidden) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)

			logger.Debug("User authenticated",
				"user_id", identity.UserID, "document_id", documentID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
