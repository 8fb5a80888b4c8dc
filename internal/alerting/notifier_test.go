package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		Kind:         KindPegBreak,
		At:           time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		AssetPrice:   decimal.RequireFromString("1.03"),
		TargetPrice:  decimal.NewFromInt(1),
		DeviationPct: decimal.NewFromInt(3),
		TolerancePct: decimal.NewFromInt(2),
		Action:       "SELL",
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id mismatch: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"Peg Alert", "1.0300", "3.000%", "Action: SELL", "2026-10-01T12:00:00Z"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Kind: KindTrade}); err == nil {
		t.Fatal("expected error for ok=false")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Kind: KindTrade}); err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestRenderMessageKinds(t *testing.T) {
	trade := renderMessage(Notification{
		Kind:       KindTrade,
		Action:     "BUY",
		Amount:     decimal.NewFromInt(100),
		Signature:  "5xSig",
		HighImpact: true,
	})
	if !strings.Contains(trade, "BUY 100") || !strings.Contains(trade, "5xSig") || !strings.Contains(trade, "price impact") {
		t.Fatalf("trade message incomplete:\n%s", trade)
	}

	failing := renderMessage(Notification{
		Kind:                KindFailures,
		ConsecutiveFailures: 5,
		FailedStep:          "publish",
		Error:               "ledger unavailable",
	})
	if !strings.Contains(failing, "5") || !strings.Contains(failing, "publish") || !strings.Contains(failing, "ledger unavailable") {
		t.Fatalf("failure message incomplete:\n%s", failing)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
