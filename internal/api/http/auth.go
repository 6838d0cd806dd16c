package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"barterpool-backend/internal/config"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/security"
)

type AuthMiddleware struct {
	tokenManager security.TokenManager
}

func NewAuthMiddleware(tm security.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokenManager: tm}
}

// Handler authenticates requests according to the security level of the matched route.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := ""
		if cur := mux.CurrentRoute(r); cur != nil {
			route = cur.GetName()
		}
		level := config.GetSecurityLevel(route)

		// Public endpoint - skip auth
		if level == config.SecurityPublic {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractToken(r)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "authorization token is not provided")
			return
		}

		claims, err := a.tokenManager.ValidateToken(token)
		if err != nil {
			logger.Debug("Rejected token", "route", route, "error", err)
			writeMessage(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		if !levelSatisfied(level, claims) {
			writeMessage(w, http.StatusForbidden, security.ErrWrongTokenType.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func extractToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	// Remove Bearer prefix if present
	if len(header) > 7 && strings.ToUpper(header[0:7]) == "BEARER " {
		header = header[7:]
	}
	header = strings.TrimSpace(header)
	return header, header != ""
}

func levelSatisfied(level config.SecurityLevel, claims *security.UserClaims) bool {
	switch level {
	case config.SecurityAccess:
		return claims.Type == security.TokenTypeAccess
	case config.SecurityService:
		return claims.Type == security.TokenTypeService
	}
	return true
}
