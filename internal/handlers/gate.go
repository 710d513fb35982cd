package handlers

import (
	"net/http"

	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/session"
)

const (
	loginPath = "/"
	homePath  = "/home"
)

// SessionGate loads the browser session and guards routes on whether a user
// is signed in.
type SessionGate struct {
	sessions *session.Manager
}

func NewSessionGate(sessions *session.Manager) *SessionGate {
	return &SessionGate{sessions: sessions}
}

// LoadSession attaches the request session to the context.
func (g *SessionGate) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := g.sessions.Load(r)
		if err != nil {
			logger.FromContext(r.Context()).Error().Err(err).Msg("failed to load session")
			http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
			return
		}

		ctx := withSession(r.Context(), sess)
		if userID, ok := sess.UserID(); ok {
			ctx = withUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuthenticated redirects anonymous requests to the login page.
func (g *SessionGate) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := userIDFromContext(r.Context()); err != nil {
			addFlash(r, session.FlashInfo, "Please log in to continue.")
			redirect(w, r, g.sessions, loginPath)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUnauthenticated sends signed-in users to the catalog.
func (g *SessionGate) RequireUnauthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := userIDFromContext(r.Context()); err == nil {
			redirect(w, r, g.sessions, homePath)
			return
		}
		next.ServeHTTP(w, r)
	})
}
