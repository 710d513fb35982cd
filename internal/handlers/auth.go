package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/services"
	"github.com/jjudge-oj/marketplace/internal/session"
	"github.com/jjudge-oj/marketplace/internal/store"
)

// AuthHandler serves signup, login and logout.
type AuthHandler struct {
	userService *services.UserService
	sessions    *session.Manager
	views       *Renderer
}

func NewAuthHandler(userService *services.UserService, sessions *session.Manager, views *Renderer) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		sessions:    sessions,
		views:       views,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, gate *SessionGate, userService *services.UserService, sessions *session.Manager, views *Renderer) {
	handler := NewAuthHandler(userService, sessions, views)

	r.Group(func(r chi.Router) {
		r.Use(gate.RequireUnauthenticated)
		r.Get("/", handler.LoginForm)
		r.Post("/", handler.Login)
		r.Get("/signup", handler.SignupForm)
		r.Post("/signup", handler.Signup)
	})
	r.Get("/logout", handler.Logout)
}

type credentialsForm struct {
	Username string
	Email    string
}

func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.views.render(w, r, h.sessions, http.StatusOK, "login", "Log in", credentialsForm{})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.views.renderError(w, r, h.sessions, http.StatusBadRequest, "invalid form")
		return
	}

	user, err := h.userService.Authenticate(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			addFlash(r, session.FlashError, "Invalid username or password.")
			redirect(w, r, h.sessions, loginPath)
			return
		}
		logger.FromContext(r.Context()).Error().Err(err).Msg("login failed")
		h.views.renderError(w, r, h.sessions, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	sess := sessionFromContext(r.Context())
	if err := h.sessions.Renew(r.Context(), sess); err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("failed to renew session")
		h.views.renderError(w, r, h.sessions, http.StatusInternalServerError, "failed to start session")
		return
	}
	sess.SetUser(user.ID)
	sess.AddFlash(session.FlashSuccess, "Welcome back, "+user.Username+"!")

	logger.FromContext(r.Context()).Info().Int("user_id", user.ID).Msg("user logged in")
	redirect(w, r, h.sessions, homePath)
}

func (h *AuthHandler) SignupForm(w http.ResponseWriter, r *http.Request) {
	h.views.render(w, r, h.sessions, http.StatusOK, "signup", "Sign up", credentialsForm{})
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.views.renderError(w, r, h.sessions, http.StatusBadRequest, "invalid form")
		return
	}

	form := credentialsForm{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
	}

	user, err := h.userService.Signup(r.Context(), form.Username, form.Email, r.PostFormValue("password"))
	if err != nil {
		if verr, ok := services.IsValidation(err); ok {
			h.views.render(w, r, h.sessions, http.StatusBadRequest, "signup", "Sign up", form,
				session.Flash{Category: session.FlashError, Message: verr.Message})
			return
		}
		if errors.Is(err, store.ErrConflict) {
			h.views.render(w, r, h.sessions, http.StatusConflict, "signup", "Sign up", form,
				session.Flash{Category: session.FlashError, Message: "Username already exists."})
			return
		}
		logger.FromContext(r.Context()).Error().Err(err).Msg("signup failed")
		h.views.renderError(w, r, h.sessions, http.StatusInternalServerError, "failed to create account")
		return
	}

	logger.FromContext(r.Context()).Info().Int("user_id", user.ID).Msg("user signed up")
	addFlash(r, session.FlashSuccess, "Account created. Please log in.")
	redirect(w, r, h.sessions, loginPath)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := h.sessions.Destroy(r.Context(), w, sess); err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("failed to destroy session")
	}
	addFlash(r, session.FlashInfo, "You have been logged out.")
	redirect(w, r, h.sessions, loginPath)
}
