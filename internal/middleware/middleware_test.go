package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

type stubResolver struct {
	identities map[string]models.Identity
	err        error
}

func (s stubResolver) Resolve(_ context.Context, credential string) (models.Identity, error) {
	if s.err != nil {
		return models.Identity{}, s.err
	}
	id, ok := s.identities[credential]
	if !ok {
		return models.Identity{}, apperr.Unauthenticated("invalid token")
	}
	return id, nil
}

func authRouter(resolver stubResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, Caller(c))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	resolver := stubResolver{identities: map[string]models.Identity{
		"good": {UserID: "alice", Role: models.RoleFreelancer},
	}}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			authRouter(resolver).ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestAuthMiddlewareSetsCaller(t *testing.T) {
	resolver := stubResolver{identities: map[string]models.Identity{
		"good": {UserID: "alice", Role: models.RoleFreelancer},
	}}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	authRouter(resolver).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"alice","role":"freelancer"}`, rec.Body.String())
}

func TestAuthMiddlewareResolverOutage(t *testing.T) {
	resolver := stubResolver{err: apperr.Internal("auth service unavailable", context.DeadlineExceeded)}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	authRouter(resolver).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		seen = observability.RequestIDFromContext(c.Request.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "req-1", seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
}
