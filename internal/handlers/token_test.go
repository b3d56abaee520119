package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/middleware"
	"github.com/temcen/recengine/internal/services"
	"github.com/temcen/recengine/pkg/models"
)

// memorySessions stands in for the Redis session store.
type memorySessions struct {
	mu  sync.Mutex
	ids map[string]string
}

func (m *memorySessions) Put(_ context.Context, subject, tokenID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[subject] = tokenID
	return nil
}

func (m *memorySessions) Get(_ context.Context, subject string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[subject], nil
}

func (m *memorySessions) Delete(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, subject)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func authConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour
	return cfg
}

// setupAuthRouter mirrors the protected routes of the server with session
// tracking enabled.
func setupAuthRouter(recommender services.RecommenderServiceInterface, auth *services.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)

	logger := testLogger()
	rating := NewRatingHandler(recommender, logger)
	tokens := NewTokenHandler(auth, logger)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.POST("/users/:userId/ratings",
		middleware.Auth(auth, logger, services.RoleRater, services.RoleAdmin),
		middleware.SelfOrAdmin("userId"),
		rating.Rate,
	)
	admin := v1.Group("/admin")
	admin.Use(middleware.Auth(auth, logger, services.RoleAdmin))
	admin.POST("/tokens", tokens.Issue)
	admin.DELETE("/tokens/:subject", tokens.Revoke)
	return router
}

func performAuthorized(router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTokenHandler_SessionLifecycle(t *testing.T) {
	cfg := authConfig()
	auth := services.NewAuthService(cfg, testLogger(), &memorySessions{ids: map[string]string{}})

	recommender := new(MockRecommender)
	recommender.On("Rate", mock.Anything, mock.Anything).Return(nil)
	router := setupAuthRouter(recommender, auth)

	// The operator's admin token is signed with the shared secret, not issued
	// through the API, so it has no session.
	bootstrap, err := services.NewAuthService(cfg, testLogger(), nil).GenerateToken("ops", services.RoleAdmin)
	require.NoError(t, err)

	rating := map[string]interface{}{"item_id": "i1", "rating": 4}

	w := performAuthorized(router, http.MethodPost, "/api/v1/users/ops/ratings", bootstrap.Token, rating)
	assert.Equal(t, http.StatusCreated, w.Code, "signed tokens are accepted with sessions enabled")

	w = performAuthorized(router, http.MethodPost, "/api/v1/admin/tokens", bootstrap.Token,
		models.TokenRequest{Subject: "u1", Role: services.RoleRater})
	require.Equal(t, http.StatusCreated, w.Code)
	var issued models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.Equal(t, services.RoleRater, issued.Role)
	require.NotEmpty(t, issued.Token)

	w = performAuthorized(router, http.MethodPost, "/api/v1/users/u1/ratings", issued.Token, rating)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = performAuthorized(router, http.MethodPost, "/api/v1/admin/tokens", issued.Token,
		models.TokenRequest{Subject: "u2", Role: services.RoleAdmin})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	w = performAuthorized(router, http.MethodDelete, "/api/v1/admin/tokens/u1", bootstrap.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = performAuthorized(router, http.MethodPost, "/api/v1/users/u1/ratings", issued.Token, rating)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))

	recommender.AssertNumberOfCalls(t, "Rate", 2)
}

func TestTokenHandler_Errors(t *testing.T) {
	cfg := authConfig()
	bootstrap, err := services.NewAuthService(cfg, testLogger(), nil).GenerateToken("ops", services.RoleAdmin)
	require.NoError(t, err)

	t.Run("invalid role", func(t *testing.T) {
		router := setupAuthRouter(new(MockRecommender), services.NewAuthService(cfg, testLogger(), nil))
		w := performAuthorized(router, http.MethodPost, "/api/v1/admin/tokens", bootstrap.Token,
			map[string]string{"subject": "u1", "role": "superuser"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	})

	t.Run("revocation without sessions", func(t *testing.T) {
		router := setupAuthRouter(new(MockRecommender), services.NewAuthService(cfg, testLogger(), nil))
		w := performAuthorized(router, http.MethodDelete, "/api/v1/admin/tokens/u1", bootstrap.Token, nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code)
		assert.Equal(t, "SESSIONS_DISABLED", errorCode(t, w))
	})

	t.Run("auth disabled", func(t *testing.T) {
		router := setupAuthRouter(new(MockRecommender), services.NewAuthService(&config.Config{}, testLogger(), nil))
		w := performAuthorized(router, http.MethodPost, "/api/v1/admin/tokens", "",
			models.TokenRequest{Subject: "u1", Role: services.RoleRater})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "AUTH_DISABLED", errorCode(t, w))
	})
}
