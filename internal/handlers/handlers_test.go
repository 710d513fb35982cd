package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cardNamePattern  = regexp.MustCompile(`<h2 class="card-name">([^<]*)</h2>`)
	likeCountPattern = regexp.MustCompile(`data-count="(\d+)"`)
	productIDPattern = regexp.MustCompile(`data-product-id="(\d+)"`)
	imagePattern     = regexp.MustCompile(`<img src="(/assets/[^"]+)"`)
)

func cardNames(body string) []string {
	var names []string
	for _, m := range cardNamePattern.FindAllStringSubmatch(body, -1) {
		names = append(names, m[1])
	}
	return names
}

func likeCounts(body string) []string {
	var counts []string
	for _, m := range likeCountPattern.FindAllStringSubmatch(body, -1) {
		counts = append(counts, m[1])
	}
	return counts
}

func firstProductID(t *testing.T, body string) string {
	t.Helper()
	m := productIDPattern.FindStringSubmatch(body)
	require.NotNil(t, m, "no product card on page")
	return m[1]
}

func TestWidgetScenario(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)

	alice.signupAndLogin("alice", "pw1")
	alice.addProduct("Widget", "9.99")
	alice.addProduct("Gadget", "3.00")

	home := alice.get("/home?search=wid")
	require.Equal(t, http.StatusOK, home.Status)
	assert.Equal(t, []string{"Widget"}, cardNames(home.Body))
	assert.Equal(t, []string{"0"}, likeCounts(home.Body))
	assert.Contains(t, home.Body, "$9.99")
}

func TestDoubleToggleLeavesCountZero(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	alice.addProduct("Widget", "9.99")

	id := firstProductID(t, alice.get("/home").Body)

	p := alice.post("/toggle_like/"+id, url.Values{"next": {"/home?search=wid"}})
	require.Equal(t, http.StatusSeeOther, p.Status)
	assert.Equal(t, "/home?search=wid", p.Location)
	assert.Equal(t, []string{"1"}, likeCounts(alice.get("/home").Body))

	p = alice.post("/toggle_like/"+id, nil)
	require.Equal(t, http.StatusSeeOther, p.Status)
	assert.Equal(t, "/home", p.Location)
	assert.Equal(t, []string{"0"}, likeCounts(alice.get("/home").Body))
}

func TestToggleLikeRejectsOffsiteRedirect(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	alice.addProduct("Widget", "9.99")
	id := firstProductID(t, alice.get("/home").Body)

	p := alice.post("/toggle_like/"+id, url.Values{"next": {"https://evil.example/home"}})
	assert.Equal(t, "/home", p.Location)
}

func TestOwnProductsFirst(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	bob := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	bob.signupAndLogin("bob", "pw2")

	alice.addProduct("Alpha", "1")
	bob.addProduct("Bravo", "1")
	alice.addProduct("Charlie", "1")

	assert.Equal(t, []string{"Bravo", "Alpha", "Charlie"}, cardNames(bob.get("/home").Body))
	assert.Equal(t, []string{"Alpha", "Charlie", "Bravo"}, cardNames(alice.get("/home").Body))
}

func TestSessionGate(t *testing.T) {
	app := newTestApp(t, appOptions{})
	anon := app.browser(t)

	for _, path := range []string{"/home", "/add_product", "/update_product/1"} {
		p := anon.get(path)
		assert.Equal(t, http.StatusSeeOther, p.Status, path)
		assert.Equal(t, "/", p.Location, path)
	}
	p := anon.post("/toggle_like/1", nil)
	assert.Equal(t, http.StatusSeeOther, p.Status)
	assert.Equal(t, "/", p.Location)

	login := anon.get("/")
	assert.Equal(t, http.StatusOK, login.Status)
	assert.Contains(t, login.Body, "Please log in to continue.")

	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	for _, path := range []string{"/", "/signup"} {
		p := alice.get(path)
		assert.Equal(t, http.StatusSeeOther, p.Status, path)
		assert.Equal(t, "/home", p.Location, path)
	}
}

func TestLoginFailureFlashes(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	alice.get("/logout")

	p := alice.post("/", url.Values{"username": {"alice"}, "password": {"wrong"}})
	require.Equal(t, http.StatusSeeOther, p.Status)
	assert.Equal(t, "/", p.Location)

	login := alice.get("/")
	assert.Contains(t, login.Body, "Invalid username or password.")

	again := alice.get("/")
	assert.NotContains(t, again.Body, "Invalid username or password.", "flash is shown once")
}

func TestSignupErrors(t *testing.T) {
	app := newTestApp(t, appOptions{})
	b := app.browser(t)

	p := b.post("/signup", url.Values{"username": {"alice"}, "email": {"a@x.com"}, "password": {"pw1"}})
	require.Equal(t, http.StatusSeeOther, p.Status)

	p = b.post("/signup", url.Values{"username": {"alice"}, "email": {"b@x.com"}, "password": {"pw2"}})
	assert.Equal(t, http.StatusConflict, p.Status)
	assert.Contains(t, p.Body, "Username already exists.")
	assert.Contains(t, p.Body, `value="b@x.com"`, "form keeps its input")

	p = b.post("/signup", url.Values{"username": {"carol"}, "email": {"nope"}, "password": {"pw3"}})
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Contains(t, p.Body, "Email address is not valid.")
}

func TestLogout(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")

	p := alice.get("/logout")
	assert.Equal(t, http.StatusSeeOther, p.Status)
	assert.Equal(t, "/", p.Location)

	assert.Contains(t, alice.get("/").Body, "You have been logged out.")
	assert.Equal(t, http.StatusSeeOther, alice.get("/home").Status)
}

func TestAddProductValidation(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		file     []byte
		message  string
	}{
		{name: "bad extension", fields: map[string]string{"name": "x", "price": "1"}, filename: "photo.bmp", file: testPNG(t), message: "Allowed image types are png, jpg, jpeg, gif."},
		{name: "not an image", fields: map[string]string{"name": "x", "price": "1"}, filename: "photo.png", file: []byte("plain text"), message: "The uploaded file is not an image."},
		{name: "negative price", fields: map[string]string{"name": "x", "price": "-1"}, filename: "photo.png", file: testPNG(t), message: "Price must be positive."},
		{name: "missing name", fields: map[string]string{"name": "", "price": "1"}, filename: "photo.png", file: testPNG(t), message: "Name is required."},
		{name: "missing photo", fields: map[string]string{"name": "x", "price": "1"}, message: "Please choose a photo."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := alice.postMultipart("/add_product", tt.fields, tt.filename, tt.file)
			assert.Equal(t, http.StatusBadRequest, p.Status)
			assert.Contains(t, p.Body, tt.message)
		})
	}

	assert.Empty(t, app.products.products)
	entries, err := os.ReadDir(app.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing uploaded")
}

func TestUpdateProduct(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	alice.addProduct("Widget", "9.99")
	id := firstProductID(t, alice.get("/home").Body)

	form := alice.get("/update_product/" + id)
	require.Equal(t, http.StatusOK, form.Status)
	assert.Contains(t, form.Body, `value="Widget"`)
	assert.Contains(t, form.Body, `value="9.99"`)

	p := alice.postMultipart("/update_product/"+id, map[string]string{"name": "Gizmo", "price": "12.5"}, "", nil)
	require.Equal(t, http.StatusSeeOther, p.Status, p.Body)

	home := alice.get("/home")
	assert.Equal(t, []string{"Gizmo"}, cardNames(home.Body))
	assert.Contains(t, home.Body, "$12.50")
	assert.Contains(t, home.Body, "Product updated.")
}

func TestDeleteProductReleasesImage(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	alice.addProduct("Widget", "9.99")

	home := alice.get("/home")
	id := firstProductID(t, home.Body)
	m := imagePattern.FindStringSubmatch(home.Body)
	require.NotNil(t, m)

	img := alice.get(strings.SplitN(m[1], "?", 2)[0])
	require.Equal(t, http.StatusOK, img.Status)
	assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
	assert.Equal(t, string(testPNG(t)), img.Body)

	p := alice.post("/delete_product/"+id, nil)
	require.Equal(t, http.StatusSeeOther, p.Status)

	assert.Empty(t, cardNames(alice.get("/home").Body))
	files, err := filepath.Glob(filepath.Join(app.uploadDir, "products", "*"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMissingProductIs404(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")

	assert.Equal(t, http.StatusNotFound, alice.get("/update_product/99").Status)
	assert.Equal(t, http.StatusNotFound, alice.get("/update_product/abc").Status)
	assert.Equal(t, http.StatusNotFound, alice.postMultipart("/update_product/99", map[string]string{"name": "x", "price": "1"}, "", nil).Status)
	assert.Equal(t, http.StatusNotFound, alice.post("/delete_product/99", nil).Status)
	assert.Equal(t, http.StatusNotFound, alice.post("/toggle_like/99", nil).Status)
}

func TestOwnershipEnforced(t *testing.T) {
	app := newTestApp(t, appOptions{enforceOwnership: true})
	alice := app.browser(t)
	bob := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	bob.signupAndLogin("bob", "pw2")
	alice.addProduct("Widget", "9.99")

	home := bob.get("/home")
	id := firstProductID(t, home.Body)
	assert.NotContains(t, home.Body, "/update_product/"+id)

	assert.Equal(t, http.StatusForbidden, bob.get("/update_product/"+id).Status)
	assert.Equal(t, http.StatusForbidden, bob.post("/delete_product/"+id, nil).Status)
	assert.Equal(t, http.StatusSeeOther, bob.post("/toggle_like/"+id, nil).Status, "likes stay open")

	assert.Equal(t, []string{"Widget"}, cardNames(alice.get("/home").Body))
}

func TestOwnershipOpenByDefault(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	bob := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	bob.signupAndLogin("bob", "pw2")
	alice.addProduct("Widget", "9.99")

	id := firstProductID(t, bob.get("/home").Body)
	assert.Equal(t, http.StatusSeeOther, bob.post("/delete_product/"+id, nil).Status)
}

func TestHomeInvalidPage(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")

	assert.Equal(t, http.StatusBadRequest, alice.get("/home?page=zero").Status)
}

func TestHomePagination(t *testing.T) {
	app := newTestApp(t, appOptions{})
	alice := app.browser(t)
	alice.signupAndLogin("alice", "pw1")
	for i := 0; i < 7; i++ {
		alice.addProduct("Item", "1")
	}

	first := alice.get("/home")
	assert.Len(t, cardNames(first.Body), 6)
	assert.Contains(t, first.Body, "Page 1 of 2")

	second := alice.get("/home?page=2")
	assert.Len(t, cardNames(second.Body), 1)
}

func TestAssetNotFound(t *testing.T) {
	app := newTestApp(t, appOptions{})
	b := app.browser(t)

	assert.Equal(t, http.StatusNotFound, b.get("/assets/products/missing.png").Status)
	assert.Equal(t, http.StatusNotFound, b.get("/static/").Status)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(pingFunc(func(context.Context) error { return nil }))(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Healthz(pingFunc(func(context.Context) error { return errors.New("down") }))(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLocalRedirect(t *testing.T) {
	tests := map[string]string{
		"/home":                 "/home",
		"/home?search=a&page=2": "/home?search=a&page=2",
		"":                      "/home",
		"//evil.example/home":   "/home",
		"https://evil.example":  "/home",
		"/logout":               "/home",
		`/home\@evil`:           "/home",
	}
	for next, want := range tests {
		assert.Equal(t, want, localRedirect(next, "/home"), next)
	}
}

func TestHomeURL(t *testing.T) {
	assert.Equal(t, "/home", homeURL("", 1))
	assert.Equal(t, "/home?page=3&search=a+b", homeURL("a b", 3))
}
