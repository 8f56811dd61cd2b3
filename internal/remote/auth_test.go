package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tankwatch/internal/logger"
)

func testAuthClient(baseURL string) *AuthClient {
	return NewAuthClient(Config{BaseURL: baseURL, APIKey: "anon-key"}, logger.Nop())
}

// unsignedJWT builds a structurally valid token carrying only an exp claim.
// The client never verifies signatures, so an empty one is enough.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal claim: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	claims := enc(map[string]int64{"exp": exp.Unix()})
	return header + "." + claims + "."
}

func TestAuthClient_SignIn(t *testing.T) {
	t.Parallel()

	t.Run("password grant yields a session with JWT expiry", func(t *testing.T) {
		t.Parallel()
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		var token string

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/auth/v1/token" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if got := r.URL.Query().Get("grant_type"); got != "password" {
				t.Errorf("grant_type = %q", got)
			}
			if got := r.Header.Get("apikey"); got != "anon-key" {
				t.Errorf("apikey = %q", got)
			}
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body["email"] != "jo@example.com" || body["password"] != "passw0rd" {
				t.Errorf("credentials = %v", body)
			}
			fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"refresh-1","expires_in":3600,"user":{"id":"user-1","email":"jo@example.com"}}`, token)
		}))
		defer srv.Close()
		token = unsignedJWT(t, exp)

		sess, err := testAuthClient(srv.URL).SignIn(context.Background(), "jo@example.com", "passw0rd")
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if sess.AccessToken != token || sess.RefreshToken != "refresh-1" {
			t.Fatalf("tokens mismatch: %+v", sess)
		}
		if sess.User.ID != "user-1" {
			t.Fatalf("user = %+v", sess.User)
		}
		if !sess.ExpiresAt.Equal(exp) {
			t.Fatalf("expiry = %v, want %v (from JWT claim)", sess.ExpiresAt, exp)
		}
	})

	t.Run("opaque token falls back to expires_in", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"opaque","refresh_token":"r","expires_in":3600,"user":{"id":"user-1"}}`))
		}))
		defer srv.Close()

		sess, err := testAuthClient(srv.URL).SignIn(context.Background(), "jo@example.com", "passw0rd")
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		want := time.Now().Add(time.Hour)
		if sess.ExpiresAt.Before(want.Add(-time.Minute)) || sess.ExpiresAt.After(want.Add(time.Minute)) {
			t.Fatalf("expiry = %v, want about %v", sess.ExpiresAt, want)
		}
	})

	t.Run("bad credentials surface the service message", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"invalid_grant","message":"Invalid login credentials"}`))
		}))
		defer srv.Close()

		_, err := testAuthClient(srv.URL).SignIn(context.Background(), "jo@example.com", "wrongpass1")
		var se *ServiceError
		if !errors.As(err, &se) {
			t.Fatalf("error = %v, want *ServiceError", err)
		}
		if se.Code != "invalid_grant" || se.Message != "Invalid login credentials" {
			t.Fatalf("service error = %+v", se)
		}
	})
}

func TestAuthClient_SignUp(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/signup" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			Email string            `json:"email"`
			Data  map[string]string `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Data["full_name"] != "Jo Doe" {
			t.Errorf("full_name = %q", body.Data["full_name"])
		}
		_, _ = w.Write([]byte(`{"access_token":"","refresh_token":"","user":{"id":"user-2","email":"jo@example.com"}}`))
	}))
	defer srv.Close()

	sess, err := testAuthClient(srv.URL).SignUp(context.Background(), "jo@example.com", "passw0rd", "Jo Doe")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if sess.User.ID != "user-2" {
		t.Fatalf("user = %+v", sess.User)
	}
}

func TestAuthClient_SignOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/logout" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testAuthClient(srv.URL).SignOut(context.Background(), "tok-1"); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
}

func TestAuthClient_ResetPassword(t *testing.T) {
	t.Parallel()

	t.Run("known account", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/auth/v1/recover" {
				t.Errorf("path = %q", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		if err := testAuthClient(srv.URL).ResetPassword(context.Background(), "jo@example.com"); err != nil {
			t.Fatalf("ResetPassword() error = %v", err)
		}
	})

	t.Run("unknown account looks identical to success", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"msg":"user not found"}`))
		}))
		defer srv.Close()

		if err := testAuthClient(srv.URL).ResetPassword(context.Background(), "ghost@example.com"); err != nil {
			t.Fatalf("ResetPassword() must hide account absence, got %v", err)
		}
	})

	t.Run("other failures still surface", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		if err := testAuthClient(srv.URL).ResetPassword(context.Background(), "jo@example.com"); err == nil {
			t.Fatalf("expected error, got nil")
		}
	})
}

func TestAuthClient_RefreshSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["refresh_token"] != "refresh-1" {
			t.Errorf("refresh_token = %q", body["refresh_token"])
		}
		_, _ = w.Write([]byte(`{"access_token":"opaque-2","refresh_token":"refresh-2","expires_in":3600,"user":{"id":"user-1"}}`))
	}))
	defer srv.Close()

	sess, err := testAuthClient(srv.URL).RefreshSession(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if sess.AccessToken != "opaque-2" || sess.RefreshToken != "refresh-2" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	t.Run("zero inputs yield zero time", func(t *testing.T) {
		t.Parallel()
		if got := tokenExpiry("", 0); !got.IsZero() {
			t.Fatalf("tokenExpiry() = %v, want zero", got)
		}
	})

	t.Run("JWT claim wins over expires_in", func(t *testing.T) {
		t.Parallel()
		exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
		got := tokenExpiry(unsignedJWT(t, exp), 3600)
		if !got.Equal(exp) {
			t.Fatalf("tokenExpiry() = %v, want %v", got, exp)
		}
	})
}
