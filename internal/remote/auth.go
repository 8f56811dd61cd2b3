package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tankwatch/internal/logger"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClient implements AuthService against the service's auth endpoints.
type AuthClient struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

func NewAuthClient(cfg Config, log *logger.Logger) *AuthClient {
	return &AuthClient{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
		log:  log,
	}
}

// sessionPayload is the wire shape of an auth response.
type sessionPayload struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int             `json:"expires_in"`
	User         json.RawMessage `json:"user"`
}

// SignIn exchanges credentials for a session via the password grant.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (Session, error) {
	body := map[string]string{"email": email, "password": password}
	return a.sessionRequest(ctx, "/auth/v1/token?grant_type=password", body)
}

// SignUp registers a new identity. The returned session may be unverified;
// callers must not assume sign-in will succeed until the email is confirmed.
func (a *AuthClient) SignUp(ctx context.Context, email, password, fullName string) (Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"full_name": fullName},
	}
	return a.sessionRequest(ctx, "/auth/v1/signup", body)
}

// SignOut revokes the access token. A failed revoke is reported but the
// caller clears local state regardless.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	hdr := http.Header{"Authorization": []string{"Bearer " + accessToken}}
	return a.post(ctx, "/auth/v1/logout", hdr, struct{}{}, nil)
}

// ResetPassword requests a recovery email. The response is identical
// whether or not the account exists, so account presence never leaks.
func (a *AuthClient) ResetPassword(ctx context.Context, email string) error {
	err := a.post(ctx, "/auth/v1/recover", nil, map[string]string{"email": email}, nil)
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			// Treat unknown accounts as success: same outward behavior.
			return nil
		}
		return err
	}
	return nil
}

// RefreshSession exchanges a refresh token for a fresh session.
func (a *AuthClient) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	return a.sessionRequest(ctx, "/auth/v1/token?grant_type=refresh_token", body)
}

// sessionRequest posts to an auth endpoint and normalizes the response into
// a Session.
func (a *AuthClient) sessionRequest(ctx context.Context, path string, body any) (Session, error) {
	var payload sessionPayload
	if err := a.post(ctx, path, nil, body, &payload); err != nil {
		return Session{}, err
	}

	s := Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if len(payload.User) > 0 {
		if err := json.Unmarshal(payload.User, &s.User); err != nil {
			return Session{}, fmt.Errorf("decode user profile: %w", err)
		}
	}
	s.ExpiresAt = tokenExpiry(payload.AccessToken, payload.ExpiresIn)
	return s, nil
}

// tokenExpiry prefers the expiry claim baked into the JWT, falling back to
// the advertised expires_in. The token is parsed unverified: signature
// checking belongs to the server, the client only needs the deadline.
func tokenExpiry(accessToken string, expiresIn int) time.Time {
	if accessToken != "" {
		parser := jwt.NewParser()
		claims := jwt.RegisteredClaims{}
		if _, _, err := parser.ParseUnverified(accessToken, &claims); err == nil && claims.ExpiresAt != nil {
			return claims.ExpiresAt.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Time{}
}

// post performs one auth-plane request.
func (a *AuthClient) post(ctx context.Context, path string, hdr http.Header, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", a.cfg.APIKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeServiceError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
