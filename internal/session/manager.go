package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultCookieName = "marketplace_session"
	defaultTTL        = 24 * time.Hour
	tokenIssuer       = "marketplace"
)

// Manager loads and persists sessions for HTTP requests. The cookie carries
// an HS256 token whose subject is the session id; the data itself lives in
// the Store.
type Manager struct {
	store      Store
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	newID      func() string
}

type ManagerOption func(*Manager)

func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithSecureCookie(secure bool) ManagerOption {
	return func(m *Manager) {
		m.secure = secure
	}
}

func WithCookieName(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

func NewManager(store Store, secret string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		secret:     []byte(secret),
		ttl:        defaultTTL,
		cookieName: DefaultCookieName,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load returns the session bound to the request cookie. A missing, forged,
// or expired cookie yields a fresh anonymous session.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return &Session{}, nil
	}

	id, err := m.parseToken(cookie.Value)
	if err != nil {
		return &Session{}, nil
	}

	data, err := m.store.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Session{}, nil
		}
		return nil, err
	}
	return &Session{ID: id, Data: data}, nil
}

// Commit persists a modified session and refreshes the cookie. Unmodified
// sessions are left alone.
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s == nil || !s.dirty {
		return nil
	}
	if s.ID == "" {
		if s.Data.UserID == 0 && len(s.Data.Flashes) == 0 {
			return nil
		}
		s.ID = m.newID()
	}

	if err := m.store.Save(ctx, s.ID, s.Data, m.ttl); err != nil {
		return err
	}

	token, err := m.issueToken(s.ID)
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(token, int(m.ttl.Seconds())))
	s.dirty = false
	return nil
}

// Renew replaces the session id while keeping its data. Called on sign-in
// so a pre-login cookie cannot be reused.
func (m *Manager) Renew(ctx context.Context, s *Session) error {
	if s.ID != "" {
		if err := m.store.Destroy(ctx, s.ID); err != nil {
			return err
		}
	}
	s.ID = m.newID()
	s.dirty = true
	return nil
}

// Destroy drops the stored session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s != nil && s.ID != "" {
		if err := m.store.Destroy(ctx, s.ID); err != nil {
			return err
		}
		s.ID = ""
	}
	if s != nil {
		s.Data = Data{}
		s.dirty = false
	}
	http.SetCookie(w, m.cookie("", -1))
	return nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) issueToken(id string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) parseToken(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}
