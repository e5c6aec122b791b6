package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/quantlab/backtest-hub/src/models"
)

type contextKey string

const userContextKey contextKey = "user"

// userFromContext returns the authenticated user placed by authMiddleware.
func userFromContext(ctx context.Context) (*models.User, bool) {
	user, found := ctx.Value(userContextKey).(*models.User)
	return user, found
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("malformed Authorization header")
	}

	return parts[1], nil
}

func (a *ApiHandler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			setErrorResponse("authMiddleware: unauthorized", http.StatusUnauthorized, err, w)
			return
		}

		user, err := a.auth.Authenticate(token)
		if err != nil {
			respondError("authMiddleware: unauthorized", err, w)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *ApiHandler) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, found := userFromContext(r.Context())
		if !found || !user.IsAdmin() {
			setErrorResponse("adminMiddleware: forbidden", http.StatusForbidden, fmt.Errorf("admin access required"), w)
			return
		}

		next.ServeHTTP(w, r)
	})
}
