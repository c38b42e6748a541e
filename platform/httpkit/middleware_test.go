package httpkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront_backend/platform/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

type jwtConfig struct{}

func (jwtConfig) GetJWTAccessSecret() string { return testSecret }

func mintToken(t *testing.T, sub uuid.UUID, roles []string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub.String(),
		"type":  "access",
		"roles": roles,
		"exp":   exp.Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/whoami", handlers...)
	return engine
}

func TestAuthRequiredSetsIdentity(t *testing.T) {
	userID := uuid.New()
	var got *Identity
	engine := newTestEngine(AuthRequired(jwtConfig{}), func(c *gin.Context) {
		if got = MustGetIdentity(c); got == nil {
			return
		}
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, userID, []string{RoleAdmin}, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got == nil || got.UserID() != userID || !got.HasRole(RoleAdmin) {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestAuthRequiredExpiredTokenReturnsAuthExpiredCode(t *testing.T) {
	engine := newTestEngine(AuthRequired(jwtConfig{}), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, uuid.New(), nil, time.Now().Add(-time.Minute)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != apperr.CodeAuthExpired {
		t.Fatalf("expected code %s, got %q", apperr.CodeAuthExpired, body.Code)
	}
}

func TestAuthRequiredMissingToken(t *testing.T) {
	engine := newTestEngine(AuthRequired(jwtConfig{}), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRoleRejectsNonAdmin(t *testing.T) {
	engine := newTestEngine(AuthRequired(jwtConfig{}), RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, uuid.New(), []string{"staff"}, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleErrorCarriesCode(t *testing.T) {
	engine := newTestEngine(func(c *gin.Context) {
		HandleError(c, apperr.LeaseConflict("held").WithDetails(map[string]string{"holderId": "x"}))
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != apperr.CodeLeaseConflict {
		t.Fatalf("expected %s, got %q", apperr.CodeLeaseConflict, body.Code)
	}
}

func TestMustGetIdentityWithoutAuthAborts(t *testing.T) {
	engine := newTestEngine(func(c *gin.Context) {
		if MustGetIdentity(c) == nil {
			return
		}
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
