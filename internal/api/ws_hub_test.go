package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/api"
	"github.com/atmx/options-ledger/internal/ledger"
	"github.com/atmx/options-ledger/internal/store"
)

func TestWSHub_BroadcastsLedgerEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { conn.Close() }()

	svc := ledger.NewService(store.NewMemoryStore(), hub)

	// Registration is asynchronous; retry the open until the client sees it.
	var got ledger.Event
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := svc.Open(ctx, ledger.OpenRequest{
			Ticker:     "PETRA280",
			Kind:       "Call",
			Direction:  "Compra",
			Quantity:   10,
			UnitPrice:  decimal.NewFromInt(1),
			ExpiryDate: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		}); err != nil {
			t.Fatal(err)
		}
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			if err := json.Unmarshal(msg, &got); err != nil {
				t.Fatalf("bad event payload %q: %v", msg, err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event received: %v", err)
		}
		// A timed-out read poisons the gorilla connection; redial.
		conn.Close()
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("redial: %v", err)
		}
	}

	if got.Type != ledger.EventOpened || got.Ticker != "PETRA280" || got.PositionID == 0 {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestWSHub_NotifyWithoutClientsDoesNotBlock(t *testing.T) {
	hub := api.NewWSHub()
	done := make(chan struct{})
	go func() {
		// Nothing drains the buffer: Notify must drop rather than block.
		for i := 0; i < 1000; i++ {
			hub.Notify(ledger.Event{Type: ledger.EventMarked, PositionID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked")
	}
}
