package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisp-chat/wisp/internal/client/model"
)

func TestBackendErrorMessageSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid credentials"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "nope"})

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.Message != "invalid credentials" {
		t.Errorf("expected backend message, got %q", apiErr.Message)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", apiErr.Status)
	}
}

func TestErrorFallbackMessage(t *testing.T) {
	e := &Error{Status: 500}
	if e.Error() != "request failed with status 500" {
		t.Errorf("unexpected fallback message: %q", e.Error())
	}
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LoginResult{
			User:  &model.User{ID: "u1", DisplayName: "me"},
			Token: "tok-123",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User == nil || res.User.ID != "u1" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	if c.Token() != "tok-123" {
		t.Errorf("expected stored token, got %q", c.Token())
	}
}

func TestAuthorizationHeaderSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]model.User{})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetToken("tok-456")
	if _, err := c.Correspondents(context.Background()); err != nil {
		t.Fatalf("correspondents: %v", err)
	}
	if gotAuth != "Bearer tok-456" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
}

func TestSendDirectEchoesCorrelation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg model.Message
		json.NewDecoder(r.Body).Decode(&msg)
		msg.ID = "m1"
		json.NewEncoder(w).Encode(msg)
	}))
	defer srv.Close()

	c := New(srv.URL)
	out, err := c.SendDirect(context.Background(), "u2", model.Message{
		CorrelationID: "corr-1",
		Text:          "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.ID != "m1" || out.CorrelationID != "corr-1" {
		t.Errorf("expected confirmed message carrying correlation id, got %+v", out)
	}
}

func TestBlockedUsersEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"blocked_users": []model.User{{ID: "u4"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	blocked, err := c.BlockedUsers(context.Background())
	if err != nil {
		t.Fatalf("blocked users: %v", err)
	}
	if len(blocked) != 1 || blocked[0].ID != "u4" {
		t.Errorf("unexpected blocked list: %+v", blocked)
	}
}

func TestCreateTipIntentEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tips/intent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			ReceiverID string  `json:"receiver_id"`
			Amount     float64 `json:"amount"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.ReceiverID != "u2" || body.Amount != 5 {
			t.Errorf("unexpected intent request: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"intent_id": "int-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	id, err := c.CreateTipIntent(context.Background(), "u2", 5)
	if err != nil {
		t.Fatalf("create tip intent: %v", err)
	}
	if id != "int-1" {
		t.Errorf("intent id = %q, want the backend-issued id", id)
	}
}
