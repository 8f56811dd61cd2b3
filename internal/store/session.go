package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tankwatch/internal/logger"
	"tankwatch/internal/models"
	"tankwatch/internal/remote"
	"tankwatch/internal/validate"
)

// ErrNotAuthenticated is returned by operations that need a signed-in
// identity.
var ErrNotAuthenticated = errors.New("not authenticated")

// SessionState is a point-in-time copy of the auth cache.
type SessionState struct {
	User            *models.UserProfile
	IsAuthenticated bool
	IsLoading       bool
	Error           string
}

// SessionStore caches the authenticated identity and its tokens. It starts
// in the loading state until CheckSession resolves.
type SessionStore struct {
	auth     remote.AuthService
	sessions SessionRepo
	log      *logger.Logger

	mu            sync.RWMutex
	user          *models.UserProfile
	session       *remote.Session
	authenticated bool
	loading       bool
	errMsg        string
	signOutHooks  []func()
}

func NewSessionStore(auth remote.AuthService, sessions SessionRepo, log *logger.Logger) *SessionStore {
	return &SessionStore{
		auth:     auth,
		sessions: sessions,
		log:      log,
		loading:  true,
	}
}

// OnSignOut registers a hook invoked after session state is cleared.
// Dependent caches register their resets here.
func (s *SessionStore) OnSignOut(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutHooks = append(s.signOutHooks, fn)
}

// Snapshot returns a copy of the current auth state.
func (s *SessionStore) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := SessionState{
		IsAuthenticated: s.authenticated,
		IsLoading:       s.loading,
		Error:           s.errMsg,
	}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	return st
}

// AccessToken returns the current bearer token, or "" when signed out.
// Passed to the data-plane client as its TokenProvider.
func (s *SessionStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}

// UserID returns the signed-in identity id, or "" when signed out.
func (s *SessionStore) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// SignIn validates credentials locally, then delegates to the auth
// service. On success the cached identity is replaced and the session
// persisted; on failure the cache is left untouched.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) error {
	if err := validate.Email(email); err != nil {
		return err
	}
	if err := validate.Password(password); err != nil {
		return err
	}

	sess, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		s.log.Infow("sign_in_failed", "err", err)
		return fmt.Errorf("sign in: %w", err)
	}

	s.mu.Lock()
	s.session = &sess
	user := sess.User
	s.user = &user
	s.authenticated = true
	s.errMsg = ""
	s.mu.Unlock()

	if err := s.sessions.Save(ctx, sess); err != nil {
		// Sign-in itself succeeded; a persistence failure only costs the
		// next restart a fresh sign-in.
		s.log.Warnw("session_persist_failed", "err", err)
	}
	return nil
}

// SignUp creates a new identity. The account still needs out-of-band
// verification, so the cache is not marked authenticated here.
func (s *SessionStore) SignUp(ctx context.Context, email, password, fullName string) error {
	if err := validate.Email(email); err != nil {
		return err
	}
	if err := validate.Password(password); err != nil {
		return err
	}

	if _, err := s.auth.SignUp(ctx, email, password, validate.Sanitize(fullName)); err != nil {
		s.log.Infow("sign_up_failed", "err", err)
		return fmt.Errorf("sign up: %w", err)
	}
	return nil
}

// SignOut clears session state unconditionally, then runs the registered
// sign-out hooks. The remote revoke is best effort.
func (s *SessionStore) SignOut(ctx context.Context) {
	s.mu.Lock()
	token := ""
	if s.session != nil {
		token = s.session.AccessToken
	}
	s.session = nil
	s.user = nil
	s.authenticated = false
	s.errMsg = ""
	hooks := make([]func(), len(s.signOutHooks))
	copy(hooks, s.signOutHooks)
	s.mu.Unlock()

	if token != "" {
		if err := s.auth.SignOut(ctx, token); err != nil {
			s.log.Infow("sign_out_revoke_failed", "err", err)
		}
	}
	if err := s.sessions.Clear(ctx); err != nil {
		s.log.Warnw("session_clear_failed", "err", err)
	}

	for _, fn := range hooks {
		fn()
	}
}

// ResetPassword requests a recovery email. The result never reveals
// whether the account exists.
func (s *SessionStore) ResetPassword(ctx context.Context, email string) error {
	if err := validate.Email(email); err != nil {
		return err
	}
	if err := s.auth.ResetPassword(ctx, email); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// CheckSession restores a previously persisted session on process start,
// refreshing it when stale. The loading flag drops on every path.
func (s *SessionStore) CheckSession(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	persisted, err := s.sessions.Load(ctx)
	if err != nil {
		s.log.Warnw("session_load_failed", "err", err)
		return
	}
	if persisted == nil {
		return
	}

	sess := *persisted
	if sess.Expired() {
		refreshed, err := s.auth.RefreshSession(ctx, sess.RefreshToken)
		if err != nil {
			s.log.Infow("session_refresh_failed", "err", err)
			if cerr := s.sessions.Clear(ctx); cerr != nil {
				s.log.Warnw("session_clear_failed", "err", cerr)
			}
			return
		}
		sess = refreshed
		if err := s.sessions.Save(ctx, sess); err != nil {
			s.log.Warnw("session_persist_failed", "err", err)
		}
	}

	s.mu.Lock()
	s.session = &sess
	user := sess.User
	s.user = &user
	s.authenticated = true
	s.mu.Unlock()
}
