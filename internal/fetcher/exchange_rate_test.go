package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegkeeper/internal/domain"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestFetcher(t *testing.T, status int, body string) *HTTP {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return NewHTTP(HTTPOptions{URL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
}

func TestFetchRateSuccess(t *testing.T) {
	f := newTestFetcher(t, http.StatusOK, `{"USDBRL":{"code":"USD","codein":"BRL","bid":"5.8567"}}`)

	rate, err := f.FetchRate(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("5.8567")) {
		t.Fatalf("expected 5.8567, got %s", rate)
	}
}

func TestFetchRateNumericField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"rate":5.12}}`))
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{URL: srv.URL, RatePath: "data.rate"}, noopLogger())
	rate, err := f.FetchRate(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("5.12")) {
		t.Fatalf("expected 5.12, got %s", rate)
	}
}

func TestFetchRateFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":  {http.StatusInternalServerError, `{"message":"down"}`},
		"invalid json":  {http.StatusOK, `{"USDBRL":`},
		"missing field": {http.StatusOK, `{"USDBRL":{"ask":"5.1"}}`},
		"non numeric":   {http.StatusOK, `{"USDBRL":{"bid":"abc"}}`},
		"zero":          {http.StatusOK, `{"USDBRL":{"bid":"0"}}`},
		"negative":      {http.StatusOK, `{"USDBRL":{"bid":"-1.2"}}`},
		"object value":  {http.StatusOK, `{"USDBRL":{"bid":{"v":1}}}`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newTestFetcher(t, tc.status, tc.body)
			_, err := f.FetchRate(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrFeedUnavailable) {
				t.Fatalf("expected ErrFeedUnavailable, got %v", err)
			}
		})
	}
}

func TestFetchRateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := NewHTTP(HTTPOptions{URL: url, Timeout: 200 * time.Millisecond}, noopLogger())
	if _, err := f.FetchRate(context.Background()); !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
}
