package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func testHandlers() *Handlers {
	return New(nil, nil, nil, "test-secret")
}

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	h := testHandlers()
	called := false
	handler := h.withAuth(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/api/auth/check", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Fatal("handler ran without a token")
	}
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	h := testHandlers()
	token := signedToken(t, "other-secret", jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	handler := h.withAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler ran with a forged token")
	})

	req := httptest.NewRequest("GET", "/api/auth/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	h := testHandlers()
	token := signedToken(t, "test-secret", jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest("GET", "/api/auth/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.withAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler ran with an expired token")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewarePassesUserID(t *testing.T) {
	h := testHandlers()
	token := signedToken(t, "test-secret", jwt.MapClaims{
		"user_id": "u42",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	var got string
	handler := h.withAuth(func(w http.ResponseWriter, r *http.Request) {
		got = requestUserID(r)
	})

	req := httptest.NewRequest("GET", "/api/auth/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got != "u42" {
		t.Fatalf("user id = %q, want u42", got)
	}
}

func TestAuthMiddlewareAcceptsCookie(t *testing.T) {
	h := testHandlers()
	token := signedToken(t, "test-secret", jwt.MapClaims{
		"user_id": "u7",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	var got string
	handler := h.withAuth(func(w http.ResponseWriter, r *http.Request) {
		got = requestUserID(r)
	})

	req := httptest.NewRequest("GET", "/api/auth/check", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: token})
	rec := httptest.NewRecorder()
	handler(rec, req)

	if got != "u7" {
		t.Fatalf("user id = %q, want u7", got)
	}
}

func TestCreateTipIntentIssuesID(t *testing.T) {
	h := testHandlers()

	req := httptest.NewRequest("POST", "/api/tips/intent",
		strings.NewReader(`{"receiver_id":"u2","amount":5}`))
	rec := httptest.NewRecorder()
	h.CreateTipIntent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res struct {
		IntentID string `json:"intent_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.IntentID == "" {
		t.Fatal("expected a non-empty intent id")
	}
}

func TestCreateTipIntentRejectsBadAmount(t *testing.T) {
	h := testHandlers()

	for _, body := range []string{
		`{"receiver_id":"u2","amount":0}`,
		`{"receiver_id":"","amount":5}`,
	} {
		req := httptest.NewRequest("POST", "/api/tips/intent", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.CreateTipIntent(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}
