package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhino-ai/billing-gateway/internal/security"
)

func newAuthRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", UserAuthMiddleware(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": getUserID(c)})
	})
	return r
}

func TestUserAuthMiddlewareAcceptsValidToken(t *testing.T) {
	const secret = "test-secret"
	r := newAuthRouter(secret)

	token, errSign := security.GenerateToken(secret, 42, "alice", time.Hour)
	if errSign != nil {
		t.Fatalf("sign token: %v", errSign)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUserAuthMiddlewareRejectsBadTokens(t *testing.T) {
	const secret = "test-secret"
	r := newAuthRouter(secret)

	expired, errSign := security.GenerateToken(secret, 42, "alice", -time.Hour)
	if errSign != nil {
		t.Fatalf("sign token: %v", errSign)
	}
	wrongKey, errSign := security.GenerateToken("other-secret", 42, "alice", time.Hour)
	if errSign != nil {
		t.Fatalf("sign token: %v", errSign)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected status 401, got %d", tc.name, w.Code)
		}
	}
}
