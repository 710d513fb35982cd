package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "signup", "home", "product_form", "error"}

var templateFuncs = template.FuncMap{
	"price": func(v float64) string {
		return "$" + strconv.FormatFloat(v, 'f', 2, 64)
	},
}

// Renderer renders the HTML pages. Every page shares the layout template.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).
			Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

// MustRenderer is NewRenderer for callers that cannot recover from broken
// embedded templates.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// view is the data passed to the layout.
type view struct {
	Title    string
	SignedIn bool
	Flashes  []session.Flash
	Data     any
}

// render writes a full page. Pending flash messages are consumed and the
// session is committed before any byte of the body is written.
func (rd *Renderer) render(w http.ResponseWriter, r *http.Request, sessions *session.Manager, status int, page, title string, data any, extra ...session.Flash) {
	sess := sessionFromContext(r.Context())
	_, signedIn := sess.UserID()

	v := view{
		Title:    title,
		SignedIn: signedIn,
		Data:     data,
	}
	if sess != nil {
		v.Flashes = sess.PopFlashes()
	}
	v.Flashes = append(v.Flashes, extra...)

	tmpl, ok := rd.pages[page]
	if !ok {
		http.Error(w, "unknown page", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", v); err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Str("page", page).Msg("failed to render page")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	commitSession(w, r, sessions)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type errorView struct {
	Status  int
	Message string
}

func (rd *Renderer) renderError(w http.ResponseWriter, r *http.Request, sessions *session.Manager, status int, message string) {
	rd.render(w, r, sessions, status, "error", http.StatusText(status), errorView{Status: status, Message: message})
}
