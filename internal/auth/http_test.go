// ABOUTME: Tests for operator HTTP middleware
// ABOUTME: Covers missing, invalid, wrong-type and valid operator tokens

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorMiddleware(t *testing.T) {
	issuer := newTestIssuer(t)
	operator, err := issuer.IssueOperatorToken("alice", time.Hour)
	require.NoError(t, err)
	device, err := issuer.IssueDeviceToken("dev-1", time.Hour)
	require.NoError(t, err)

	var seen *AuthContext
	h := OperatorMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"device token", "Bearer " + device, http.StatusForbidden},
		{"operator token", "Bearer " + operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.PrincipalID)
}

func TestOperatorMiddleware_Disabled(t *testing.T) {
	var seen *AuthContext
	h := OperatorMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = MustFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PrincipalOperator, seen.PrincipalType)
}
