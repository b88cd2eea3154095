package deedflowsdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEventsDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Actor"); got != "sdk-test" {
			t.Errorf("actor header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"id":2,"ts":"2025-06-01T12:00:00Z","type":"transaction.earnest_money.deposited","transaction_id":"TXN-2025-001","entity_kind":"transaction","entity_id":"TXN-2025-001","actor_id":"api","payload_json":"{\"amount\":15000}"},
			{"id":1,"ts":"2025-06-01T12:00:00Z","type":"transaction.created","transaction_id":"TXN-2025-001","entity_kind":"transaction","entity_id":"TXN-2025-001","actor_id":"api","payload_json":"{\"stage\":\"offer_accepted\",\"purchase_price\":500000}"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Actor = "sdk-test"
	events, err := c.Events(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Type != "transaction.earnest_money.deposited" {
		t.Fatalf("first event type = %s", events[0].Type)
	}
	payload, err := events[0].DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if amount, ok := payload["amount"].(float64); !ok || amount != 15000 {
		t.Fatalf("payload amount = %v", payload["amount"])
	}

	empty := Event{}
	if m, err := empty.DecodePayload(); err != nil || m != nil {
		t.Fatalf("empty payload decode = %v, %v", m, err)
	}
}
