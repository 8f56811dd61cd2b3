package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tankwatch/internal/logger"
)

func testClient(baseURL string, token TokenProvider) *Client {
	return NewClient(Config{BaseURL: baseURL, APIKey: "anon-key"}, token, nil, logger.Nop())
}

func TestEncodeQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		q    Query
		want string
	}{
		{
			name: "empty query",
			q:    Query{},
			want: "",
		},
		{
			name: "filter only",
			q:    Query{Filters: []Filter{{Column: "user_id", Value: "u1"}}},
			want: "user_id=eq.u1",
		},
		{
			name: "descending order with limit",
			q:    Query{OrderBy: "created_at", Descending: true, Limit: 50},
			want: "created_at.desc",
		},
		{
			name: "ascending order",
			q:    Query{OrderBy: "created_at"},
			want: "created_at.asc",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := encodeQuery(tt.q)
			switch tt.name {
			case "empty query":
				if len(params) != 0 {
					t.Fatalf("want empty params, got %v", params)
				}
			case "filter only":
				if got := params.Get("user_id"); got != "eq.u1" {
					t.Fatalf("user_id = %q", got)
				}
			case "descending order with limit":
				if got := params.Get("order"); got != "created_at.desc" {
					t.Fatalf("order = %q", got)
				}
				if got := params.Get("limit"); got != "50" {
					t.Fatalf("limit = %q", got)
				}
			case "ascending order":
				if got := params.Get("order"); got != "created_at.asc" {
					t.Fatalf("order = %q", got)
				}
			}
		})
	}
}

func TestClient_Query(t *testing.T) {
	t.Parallel()

	t.Run("sends auth headers and filter syntax", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/rest/v1/devices" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if got := r.URL.Query().Get("user_id"); got != "eq.u1" {
				t.Errorf("filter = %q", got)
			}
			if got := r.Header.Get("apikey"); got != "anon-key" {
				t.Errorf("apikey = %q", got)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("authorization = %q", got)
			}
			_, _ = w.Write([]byte(`[{"id":"dev-1"}]`))
		}))
		defer srv.Close()

		c := testClient(srv.URL, func() string { return "tok-1" })
		rows, err := c.Query(context.Background(), "devices", Query{
			Filters: []Filter{{Column: "user_id", Value: "u1"}},
		})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(rows))
		}
	})

	t.Run("empty result is rows not error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		rows, err := testClient(srv.URL, nil).Query(context.Background(), "devices", Query{})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if rows == nil || len(rows) != 0 {
			t.Fatalf("want empty non-nil rows, got %v", rows)
		}
	})

	t.Run("retries transient failures up to the attempt cap", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`[{"id":"dev-1"}]`))
		}))
		defer srv.Close()

		rows, err := testClient(srv.URL, nil).Query(context.Background(), "devices", Query{})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(rows) != 1 || calls.Load() != 3 {
			t.Fatalf("rows=%d calls=%d", len(rows), calls.Load())
		}
	})

	t.Run("client errors are terminal", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"JWT expired"}`))
		}))
		defer srv.Close()

		_, err := testClient(srv.URL, nil).Query(context.Background(), "devices", Query{})
		var se *ServiceError
		if !errors.As(err, &se) {
			t.Fatalf("error = %v, want *ServiceError", err)
		}
		if se.Status != http.StatusUnauthorized || se.Message != "JWT expired" {
			t.Fatalf("service error = %+v", se)
		}
		if calls.Load() != 1 {
			t.Fatalf("4xx must not retry, calls = %d", calls.Load())
		}
	})
}

func TestClient_Insert(t *testing.T) {
	t.Parallel()

	t.Run("returns the server representation", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %s", r.Method)
			}
			if got := r.Header.Get("Prefer"); got != "return=representation" {
				t.Errorf("prefer = %q", got)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			_, _ = w.Write([]byte(`[{"id":"srv-assigned","device_name":"Tank"}]`))
		}))
		defer srv.Close()

		out, err := testClient(srv.URL, nil).Insert(context.Background(), "devices", map[string]string{"device_name": "Tank"})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		var row struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(out, &row); err != nil || row.ID != "srv-assigned" {
			t.Fatalf("representation = %s (err=%v)", out, err)
		}
	})

	t.Run("writes are never retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		if _, err := testClient(srv.URL, nil).Insert(context.Background(), "devices", map[string]string{}); err == nil {
			t.Fatalf("expected error, got nil")
		}
		if calls.Load() != 1 {
			t.Fatalf("write retried, calls = %d", calls.Load())
		}
	})
}

func TestClient_Update(t *testing.T) {
	t.Parallel()

	t.Run("targets the row by id filter", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPatch {
				t.Errorf("method = %s", r.Method)
			}
			if got := r.URL.Query().Get("id"); got != "eq.a-1" {
				t.Errorf("id filter = %q", got)
			}
			_, _ = w.Write([]byte(`[{"id":"a-1","is_acknowledged":true}]`))
		}))
		defer srv.Close()

		out, err := testClient(srv.URL, nil).Update(context.Background(), "alerts", "a-1", map[string]any{"is_acknowledged": true})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if len(out) == 0 {
			t.Fatalf("empty representation")
		}
	})

	t.Run("zero matched rows is not found", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		_, err := testClient(srv.URL, nil).Update(context.Background(), "alerts", "missing", map[string]any{})
		var se *ServiceError
		if !errors.As(err, &se) || se.Status != http.StatusNotFound {
			t.Fatalf("error = %v, want not-found ServiceError", err)
		}
	})
}

func TestClient_Delete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "eq.dev-1" {
			t.Errorf("id filter = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testClient(srv.URL, nil).Delete(context.Background(), "devices", "dev-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestClient_SubscribeWithoutFeed(t *testing.T) {
	t.Parallel()

	c := testClient("http://127.0.0.1:0", nil)
	if _, err := c.Subscribe("devices", nil, nil, func(ChangeEvent) {}); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("error = %v, want %v", err, ErrFeedClosed)
	}
}
