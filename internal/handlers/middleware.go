package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/tahmid-hasan/schedly/libs/auth"

	"github.com/tahmid-hasan/schedly/internal/model"
)

type ctxKey int

const claimsKey ctxKey = iota

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := auth.ParseAndVerifyHS256(strings.TrimPrefix(header, "Bearer "), h.jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

func (h *Handler) requireBusiness(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || claims.Role != string(model.RoleBusiness) {
			http.Error(w, "business role required", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
