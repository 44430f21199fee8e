package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisp-chat/wisp/internal/client/api"
	"github.com/wisp-chat/wisp/internal/client/model"
	"github.com/wisp-chat/wisp/internal/client/payments"
	"github.com/wisp-chat/wisp/internal/client/state"
)

// approvingProvider confirms every intent, echoing the intent id into the
// transaction id so tests can see which intent the provider was handed.
type approvingProvider struct{}

func (approvingProvider) Tokenize(ctx context.Context, card payments.Card) (string, error) {
	return "tok-1", nil
}

func (approvingProvider) ConfirmIntent(ctx context.Context, intentID, token string) (payments.Confirmation, error) {
	return payments.Confirmation{TransactionID: "tx-" + intentID, Succeeded: true}, nil
}

func TestInitialModelSizesChatViewport(t *testing.T) {
	m := initialModel(&app{})
	if m.chatViewport.Width != 80 || m.chatViewport.Height != 20 {
		t.Errorf("chat viewport = %dx%d, want the 80x20 default",
			m.chatViewport.Width, m.chatViewport.Height)
	}
}

func TestTipFlowUsesServerIntentAndMessage(t *testing.T) {
	var gotTip model.Tip
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tips/intent":
			json.NewEncoder(w).Encode(map[string]string{"intent_id": "int-1"})
		case "/tips":
			json.NewDecoder(r.Body).Decode(&gotTip)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client := api.New(srv.URL)
	m := initialModel(&app{
		api:   client,
		store: state.New(client),
		pay:   approvingProvider{},
	})

	msg := m.tipCmd(5, payments.Card{Number: "4242424242424242"}, "u2", "m9")()
	if _, ok := msg.(tipDoneMsg); !ok {
		t.Fatalf("tip flow returned %T, want tipDoneMsg", msg)
	}
	if gotTip.MessageID != "m9" {
		t.Errorf("tip message id = %q, want m9", gotTip.MessageID)
	}
	if gotTip.ReceiverID != "u2" {
		t.Errorf("tip receiver = %q, want u2", gotTip.ReceiverID)
	}
	if gotTip.TransactionID != "tx-int-1" {
		t.Errorf("transaction id = %q, want the one built from the backend intent", gotTip.TransactionID)
	}
}
