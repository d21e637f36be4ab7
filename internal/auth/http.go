// ABOUTME: HTTP middleware for operator JWT authentication on API endpoints
// ABOUTME: Extracts the bearer token and adds the operator to the request context

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// OperatorMiddleware requires an operator token on every request.
// A nil issuer disables authentication and marks requests as the anonymous operator.
func OperatorMiddleware(issuer *JWTIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if issuer == nil {
				anon := &AuthContext{PrincipalID: "anonymous", PrincipalType: PrincipalOperator, Scheme: "none"}
				next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), anon)))
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := issuer.VerifyType(token, TokenTypeOperator)
			if err != nil {
				code := http.StatusUnauthorized
				if errors.Is(err, ErrWrongTokenType) {
					code = http.StatusForbidden
				}
				http.Error(w, `{"error":"invalid token"}`, code)
				return
			}

			authCtx := &AuthContext{
				PrincipalID:   claims.Subject,
				PrincipalType: PrincipalOperator,
				Scheme:        "bearer",
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
