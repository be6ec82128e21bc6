package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"accounting-agent/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

type userContextKey struct{}

// userContextFromRequest returns the request's frozen UserContext, or nil.
func userContextFromRequest(ctx context.Context) *core.UserContext {
	v, _ := ctx.Value(userContextKey{}).(*core.UserContext)
	return v
}

// jwtClaims is the JWT payload used for signing and parsing. It carries only
// the user id — permissions are never cached in the token, since they are
// scoped per-store and must be rebuilt from the X-Store-Id header on every
// request, spec §4.10.
type jwtClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// RequireAuth validates the Authorization: Bearer <token> header, resolves
// the store from X-Store-Id, builds a frozen UserContext via
// IdentityService.BuildUserContext, and injects it into the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		claims := &jwtClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		storeID := r.Header.Get("X-Store-Id")
		if storeID == "" {
			writeError(w, r, "X-Store-Id header is required", "BAD_REQUEST", http.StatusBadRequest)
			return
		}

		uc, err := h.Identity.BuildUserContext(r.Context(), claims.UserID, storeID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, uc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission wraps a handler so it 403s unless the request's
// UserContext holds perm, spec §4.10.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uc := userContextFromRequest(r.Context())
			if uc == nil || !uc.Has(perm) {
				writeDomainError(w, r, core.ErrMissingPermission(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// login handles POST /api/auth/login.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.Users.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	claims := &jwtClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.jwtSecret))
	if err != nil {
		writeError(w, r, "token generation failed", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	type loginResponse struct {
		Token    string `json:"token"`
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
	writeJSON(w, loginResponse{Token: signed, UserID: user.ID, Username: user.Username})
}

// me handles GET /api/auth/me — returns the caller's permission set at the
// requested store.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	if uc == nil {
		writeError(w, r, "not authenticated", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}
	perms := make([]string, 0, len(uc.Permissions))
	for p := range uc.Permissions {
		perms = append(perms, p)
	}
	type meResponse struct {
		UserID      string   `json:"user_id"`
		StoreID     string   `json:"store_id"`
		Permissions []string `json:"permissions"`
	}
	writeJSON(w, meResponse{UserID: uc.UserID, StoreID: uc.StoreID, Permissions: perms})
}
