package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/session"
)

type contextKey string

const (
	contextSubjectKey contextKey = "sub"
	contextSessionKey contextKey = "session"
)

var errTooLarge = errors.New("uploaded file too large")

func withUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, contextSubjectKey, userID)
}

func userIDFromContext(ctx context.Context) (int, error) {
	value := ctx.Value(contextSubjectKey)
	switch subject := value.(type) {
	case int:
		if subject < 1 {
			return 0, errors.New("invalid subject")
		}
		return subject, nil
	default:
		return 0, errors.New("missing subject")
	}
}

func withSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, contextSessionKey, s)
}

func sessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(contextSessionKey).(*session.Session)
	return s
}

// commitSession persists the request session. Failures are logged; the
// response still goes out.
func commitSession(w http.ResponseWriter, r *http.Request, sessions *session.Manager) {
	if sessions == nil {
		return
	}
	if err := sessions.Commit(r.Context(), w, sessionFromContext(r.Context())); err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("failed to save session")
	}
}

func addFlash(r *http.Request, category, message string) {
	if s := sessionFromContext(r.Context()); s != nil {
		s.AddFlash(category, message)
	}
}

// redirect commits the session and sends a 303 to target.
func redirect(w http.ResponseWriter, r *http.Request, sessions *session.Manager, target string) {
	commitSession(w, r, sessions)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

func parsePage(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, errors.New("invalid page")
	}
	return page, nil
}

func parseProductID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "productID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid product id")
	}
	return id, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

// localRedirect keeps post-action redirects on this site's catalog pages.
func localRedirect(next, fallback string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/home") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	return next
}
